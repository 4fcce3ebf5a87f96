package ads

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/itranswarp/backend/internal/metrics"
	"github.com/itranswarp/backend/pkg/clock"
)

// EventPublisher sends change notifications to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// ChangeEvent is the message body published for each committed mutation.
type ChangeEvent struct {
	Change
	At time.Time `json:"at"`
}

// EventHook publishes each change keyed by entity id. Publishing is best effort.
func EventHook(pub EventPublisher, clk clock.Clock, logger *zap.Logger) CommitHook {
	return func(ctx context.Context, c Change) {
		body, err := json.Marshal(ChangeEvent{Change: c, At: clk.Now()})
		if err != nil {
			return
		}
		if err := pub.Publish(ctx, []byte(c.EntityID.String()), body); err != nil {
			logger.Warn("publish inventory change failed",
				zap.String("change", string(c.Kind)),
				zap.Error(err),
			)
		}
	}
}

// MetricsHook counts committed mutations by kind.
func MetricsHook() CommitHook {
	return func(_ context.Context, c Change) {
		metrics.InventoryChanges.WithLabelValues(string(c.Kind)).Inc()
	}
}
