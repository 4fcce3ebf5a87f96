package ads

import (
	"go.uber.org/zap"

	"github.com/itranswarp/backend/pkg/clock"
)

// Inventory groups the slot, reservation and creative services over one store.
// Commit hooks registered on it fire for mutations made through any of them.
type Inventory struct {
	Slots     *SlotRegistry
	Periods   *ReservationManager
	Materials *CreativeRotation

	uow *unitOfWork
}

// NewInventory wires the inventory services.
func NewInventory(store Store, users UserDirectory, assets AttachmentStore, clk clock.Clock, logger *zap.Logger) *Inventory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	uow := newUnitOfWork(store, logger)
	return &Inventory{
		Slots:     &SlotRegistry{store: store, uow: uow, assets: assets, clock: clk, logger: logger},
		Periods:   &ReservationManager{store: store, uow: uow, users: users, assets: assets, clock: clk, logger: logger},
		Materials: &CreativeRotation{store: store, uow: uow, assets: assets, clock: clk, logger: logger},
		uow:       uow,
	}
}

// OnCommit registers a hook run after every committed mutation.
func (inv *Inventory) OnCommit(h CommitHook) {
	inv.uow.OnCommit(h)
}
