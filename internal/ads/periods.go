package ads

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itranswarp/backend/internal/metrics"
	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/apperr"
	"github.com/itranswarp/backend/pkg/clock"
)

// ReservationManager sells slot capacity to sponsors.
type ReservationManager struct {
	store  Store
	uow    *unitOfWork
	users  UserDirectory
	assets AttachmentStore
	clock  clock.Clock
	logger *zap.Logger
}

// CreatePeriod reserves one unit of the slot for months starting at startAt.
func (m *ReservationManager) CreatePeriod(ctx context.Context, sponsorID, slotID uuid.UUID, startAt string, months int) (*models.AdPeriod, error) {
	start, err := parseStartAt(startAt)
	if err != nil {
		return nil, err
	}
	if err := validateMonths(months); err != nil {
		return nil, err
	}
	end, err := endAfter(start, months)
	if err != nil {
		return nil, err
	}
	sponsor, err := m.users.GetByID(ctx, sponsorID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if sponsor == nil {
		return nil, apperr.NotFound("User")
	}
	if sponsor.Role != models.RoleSponsor {
		return nil, apperr.InvalidParam("user_id", "Not a sponsor user.")
	}

	today := models.DateOf(m.clock.Now())
	p := &models.AdPeriod{
		SlotID:      slotID,
		SponsorID:   sponsor.ID,
		SponsorName: sponsor.Name,
		StartAt:     start,
		EndAt:       end,
	}
	err = m.uow.Do(ctx, func(q Queries) (Change, error) {
		slot, err := q.LockSlot(ctx, slotID)
		if err != nil {
			return Change{}, err
		}
		if slot == nil {
			return Change{}, apperr.NotFound("AdSlot")
		}
		n, err := q.CountPeriods(ctx, PeriodFilter{SlotID: &slotID, UnexpiredOn: today})
		if err != nil {
			return Change{}, err
		}
		if n >= slot.NumSlots {
			metrics.AdmissionRejected.WithLabelValues("slot_full").Inc()
			return Change{}, apperr.Conflict("adslot_id", "Maximum AdPeriods reached.")
		}
		max, ok, err := q.MaxDisplayOrder(ctx)
		if err != nil {
			return Change{}, err
		}
		p.DisplayOrder = 0
		if ok {
			p.DisplayOrder = max + 1
		}
		p.ID = uuid.New()
		if err := q.InsertPeriod(ctx, p); err != nil {
			return Change{}, err
		}
		return Change{Kind: PeriodCreated, EntityID: p.ID}, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ExtendPeriod moves the end of an unexpired reservation months later.
func (m *ReservationManager) ExtendPeriod(ctx context.Context, id uuid.UUID, months int) (*models.AdPeriod, error) {
	today := models.DateOf(m.clock.Now())
	var extended *models.AdPeriod
	err := m.uow.Do(ctx, func(q Queries) (Change, error) {
		p, err := q.LockPeriod(ctx, id)
		if err != nil {
			return Change{}, err
		}
		if p == nil {
			return Change{}, apperr.NotFound("AdPeriod")
		}
		if p.IsExpired(today) {
			return Change{}, apperr.InvalidParam("id", "AdPeriod is expired.")
		}
		if err := validateMonths(months); err != nil {
			return Change{}, err
		}
		end, err := endAfter(p.EndAt, months)
		if err != nil {
			return Change{}, err
		}
		p.EndAt = end
		if err := q.UpdatePeriodEnd(ctx, p); err != nil {
			return Change{}, err
		}
		extended = p
		return Change{Kind: PeriodExtended, EntityID: p.ID}, nil
	})
	if err != nil {
		return nil, err
	}
	return extended, nil
}

// DeletePeriod removes an expired reservation and its creatives.
func (m *ReservationManager) DeletePeriod(ctx context.Context, id uuid.UUID) error {
	today := models.DateOf(m.clock.Now())
	var refs []string
	err := m.uow.Do(ctx, func(q Queries) (Change, error) {
		p, err := q.LockPeriod(ctx, id)
		if err != nil {
			return Change{}, err
		}
		if p == nil {
			return Change{}, apperr.NotFound("AdPeriod")
		}
		if !p.IsExpired(today) {
			return Change{}, apperr.Conflict("id", "Cannot delete AdPeriod which is not expired.")
		}
		refs, err = q.DeleteMaterialsByPeriod(ctx, id)
		if err != nil {
			return Change{}, err
		}
		if err := q.DeletePeriod(ctx, id); err != nil {
			return Change{}, err
		}
		return Change{Kind: PeriodDeleted, EntityID: id}, nil
	})
	if err != nil {
		return err
	}
	releaseAll(ctx, m.assets, m.logger, refs)
	return nil
}

// GetPeriod returns one reservation.
func (m *ReservationManager) GetPeriod(ctx context.Context, id uuid.UUID) (*models.AdPeriod, error) {
	p, err := m.store.GetPeriod(ctx, id)
	if err != nil {
		return nil, apperr.From(err)
	}
	if p == nil {
		return nil, apperr.NotFound("AdPeriod")
	}
	return p, nil
}

// ListActivePeriods returns reservations with start_at <= today < end_at.
func (m *ReservationManager) ListActivePeriods(ctx context.Context, slotID *uuid.UUID, now time.Time) ([]models.AdPeriod, error) {
	return m.ListPeriods(ctx, PeriodFilter{SlotID: slotID, ActiveOn: models.DateOf(now)})
}

// ListUnexpiredPeriods returns active and future reservations, latest end first.
func (m *ReservationManager) ListUnexpiredPeriods(ctx context.Context, slotID *uuid.UUID, now time.Time) ([]models.AdPeriod, error) {
	periods, err := m.ListPeriods(ctx, PeriodFilter{SlotID: slotID, UnexpiredOn: models.DateOf(now)})
	if err != nil {
		return nil, err
	}
	SortByEndDesc(periods)
	return periods, nil
}

// ListAllPeriods includes expired reservations.
func (m *ReservationManager) ListAllPeriods(ctx context.Context, slotID *uuid.UUID) ([]models.AdPeriod, error) {
	return m.ListPeriods(ctx, PeriodFilter{SlotID: slotID})
}

// ListPeriods returns reservations matching f in display order.
func (m *ReservationManager) ListPeriods(ctx context.Context, f PeriodFilter) ([]models.AdPeriod, error) {
	periods, err := m.store.ListPeriods(ctx, f)
	if err != nil {
		return nil, apperr.From(err)
	}
	return periods, nil
}

// SortByEndDesc orders periods by end_at descending, keeping display order among equals.
func SortByEndDesc(periods []models.AdPeriod) {
	sort.SliceStable(periods, func(i, j int) bool {
		return periods[i].EndAt > periods[j].EndAt
	})
}
