package ads

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itranswarp/backend/pkg/apperr"
)

// ChangeKind names a committed inventory mutation.
type ChangeKind string

const (
	SlotCreated     ChangeKind = "adslot.created"
	SlotUpdated     ChangeKind = "adslot.updated"
	SlotDeleted     ChangeKind = "adslot.deleted"
	PeriodCreated   ChangeKind = "adperiod.created"
	PeriodExtended  ChangeKind = "adperiod.extended"
	PeriodDeleted   ChangeKind = "adperiod.deleted"
	MaterialCreated ChangeKind = "admaterial.created"
	MaterialDeleted ChangeKind = "admaterial.deleted"
)

// Change describes a committed mutation.
type Change struct {
	Kind     ChangeKind `json:"kind"`
	EntityID uuid.UUID  `json:"entity_id"`
}

// CommitHook runs once after a mutation commits. Hooks do not fail the mutation.
type CommitHook func(ctx context.Context, c Change)

// unitOfWork runs a mutation in one transaction and fires hooks after commit.
type unitOfWork struct {
	store  Store
	hooks  []CommitHook
	logger *zap.Logger
}

func newUnitOfWork(store Store, logger *zap.Logger, hooks ...CommitHook) *unitOfWork {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &unitOfWork{store: store, hooks: hooks, logger: logger}
}

// OnCommit registers a hook.
func (u *unitOfWork) OnCommit(h CommitHook) {
	u.hooks = append(u.hooks, h)
}

// Do runs fn in a transaction. fn returns the change to announce; no hook runs on error.
func (u *unitOfWork) Do(ctx context.Context, fn func(q Queries) (Change, error)) error {
	var change Change
	err := u.store.InTx(ctx, func(q Queries) error {
		c, err := fn(q)
		change = c
		return err
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnavailable {
			u.logger.Error("ad inventory transaction failed", zap.Error(err))
		}
		return apperr.From(err)
	}
	for _, h := range u.hooks {
		h(ctx, change)
	}
	return nil
}
