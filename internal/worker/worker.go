package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/itranswarp/backend/internal/metrics"
	"github.com/itranswarp/backend/pkg/queue"
)

// Purger deletes object keys.
type Purger interface {
	Purge(ctx context.Context, keys []string) error
}

// JobQueue is the subset of queue.Queue the worker consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
	Len(ctx context.Context) (int64, error)
}

// AssetReleaseProcessor deletes the objects of released creatives.
type AssetReleaseProcessor struct {
	purger  Purger
	queue   JobQueue
	backoff time.Duration
	logger  *zap.Logger
}

// NewAssetReleaseProcessor creates an asset release processor.
func NewAssetReleaseProcessor(purger Purger, q JobQueue, logger *zap.Logger) *AssetReleaseProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssetReleaseProcessor{purger: purger, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one asset release job.
func (p *AssetReleaseProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAssetRelease {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.AssetReleasePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if len(payload.Keys) == 0 {
		p.logger.Warn("asset release job without keys", zap.String("job_id", job.ID), zap.String("ref", payload.Ref))
		return nil
	}
	if err := p.purger.Purge(ctx, payload.Keys); err != nil {
		return fmt.Errorf("purge %s: %w", payload.Ref, err)
	}
	p.logger.Info("asset release completed", zap.String("ref", payload.Ref), zap.Int("objects", len(payload.Keys)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *AssetReleaseProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("asset worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if n, err := p.queue.Len(ctx); err == nil {
			metrics.QueueSize.WithLabelValues(queue.QueueAssets).Set(float64(n))
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *AssetReleaseProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
