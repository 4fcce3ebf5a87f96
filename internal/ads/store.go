package ads

import (
	"context"

	"github.com/google/uuid"

	"github.com/itranswarp/backend/internal/models"
)

// PeriodFilter narrows period queries. Zero fields do not filter.
type PeriodFilter struct {
	SlotID    *uuid.UUID
	SponsorID *uuid.UUID
	// ActiveOn keeps periods with start_at <= ActiveOn < end_at.
	ActiveOn models.Date
	// UnexpiredOn keeps periods with UnexpiredOn < end_at.
	UnexpiredOn models.Date
}

// MaterialFilter narrows material queries.
type MaterialFilter struct {
	PeriodID  *uuid.UUID
	PeriodIDs []uuid.UUID
	SponsorID *uuid.UUID
}

// Queries is the persistence contract of the ad engine. Get methods return (nil, nil) when absent.
type Queries interface {
	ListSlots(ctx context.Context) ([]models.AdSlot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*models.AdSlot, error)
	// LockSlot reads the slot and holds it until the transaction ends.
	LockSlot(ctx context.Context, id uuid.UUID) (*models.AdSlot, error)
	SlotExists(ctx context.Context, name, alias string, excludeID uuid.UUID) (nameTaken, aliasTaken bool, err error)
	InsertSlot(ctx context.Context, s *models.AdSlot) error
	// UpdateSlot writes s if its version is unchanged and increments the version.
	UpdateSlot(ctx context.Context, s *models.AdSlot) error
	DeleteSlot(ctx context.Context, id uuid.UUID) error

	// ListPeriods orders by display_order, then id.
	ListPeriods(ctx context.Context, f PeriodFilter) ([]models.AdPeriod, error)
	GetPeriod(ctx context.Context, id uuid.UUID) (*models.AdPeriod, error)
	LockPeriod(ctx context.Context, id uuid.UUID) (*models.AdPeriod, error)
	CountPeriods(ctx context.Context, f PeriodFilter) (int, error)
	// MaxDisplayOrder returns ok=false when no period exists.
	MaxDisplayOrder(ctx context.Context) (max int64, ok bool, err error)
	InsertPeriod(ctx context.Context, p *models.AdPeriod) error
	UpdatePeriodEnd(ctx context.Context, p *models.AdPeriod) error
	DeletePeriod(ctx context.Context, id uuid.UUID) error

	// ListMaterials orders by created_at, then id.
	ListMaterials(ctx context.Context, f MaterialFilter) ([]models.AdMaterial, error)
	GetMaterial(ctx context.Context, id uuid.UUID) (*models.AdMaterial, error)
	CountMaterials(ctx context.Context, periodID uuid.UUID) (int, error)
	InsertMaterial(ctx context.Context, m *models.AdMaterial) error
	DeleteMaterial(ctx context.Context, id uuid.UUID) error
	// DeleteMaterialsByPeriod removes the period's materials and returns their cover refs.
	DeleteMaterialsByPeriod(ctx context.Context, periodID uuid.UUID) ([]string, error)
}

// Store runs Queries outside or inside a serializable transaction.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// UserDirectory resolves accounts. It returns (nil, nil) for unknown ids.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AssetMeta describes a creative being stored.
type AssetMeta struct {
	OwnerID uuid.UUID
	Name    string
	Width   int
	Height  int
}

// AttachmentStore keeps creative images outside the database.
type AttachmentStore interface {
	Store(ctx context.Context, data []byte, meta AssetMeta) (ref string, err error)
	Release(ctx context.Context, ref string) error
	URLFor(ref, size string) string
}
