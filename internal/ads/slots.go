package ads

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/apperr"
	"github.com/itranswarp/backend/pkg/clock"
)

// SlotSpec is the input for creating a slot. An empty Alias is derived from Name.
type SlotSpec struct {
	Name        string
	Alias       string
	Description string
	Price       int64
	Width       int
	Height      int
	NumSlots    int
	NumAutoFill int
	AutoFill    string
}

// SlotRegistry manages ad slots.
type SlotRegistry struct {
	store  Store
	uow    *unitOfWork
	assets AttachmentStore
	clock  clock.Clock
	logger *zap.Logger
}

// CreateSlot validates and stores a new slot.
func (r *SlotRegistry) CreateSlot(ctx context.Context, spec SlotSpec) (*models.AdSlot, error) {
	s := &models.AdSlot{
		Name:        strings.TrimSpace(spec.Name),
		Alias:       strings.TrimSpace(spec.Alias),
		Description: strings.TrimSpace(spec.Description),
		Price:       spec.Price,
		Width:       spec.Width,
		Height:      spec.Height,
		NumSlots:    spec.NumSlots,
		NumAutoFill: spec.NumAutoFill,
		AutoFill:    spec.AutoFill,
	}
	if s.Alias == "" {
		s.Alias = deriveAlias(s.Name)
	}
	if err := validateSlot(s); err != nil {
		return nil, err
	}
	err := r.uow.Do(ctx, func(q Queries) (Change, error) {
		if err := checkSlotUnique(ctx, q, s); err != nil {
			return Change{}, err
		}
		s.ID = uuid.New()
		if err := q.InsertSlot(ctx, s); err != nil {
			return Change{}, err
		}
		return Change{Kind: SlotCreated, EntityID: s.ID}, nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateSlot applies supplied fields. Capacity cannot drop below the unexpired reservations.
func (r *SlotRegistry) UpdateSlot(ctx context.Context, id uuid.UUID, patch models.SlotPatch) (*models.AdSlot, error) {
	trimPatch(&patch)
	today := models.DateOf(r.clock.Now())
	var updated *models.AdSlot
	err := r.uow.Do(ctx, func(q Queries) (Change, error) {
		s, err := q.LockSlot(ctx, id)
		if err != nil {
			return Change{}, err
		}
		if s == nil {
			return Change{}, apperr.NotFound("AdSlot")
		}
		patch.Apply(s)
		if err := validateSlot(s); err != nil {
			return Change{}, err
		}
		if patch.Name != nil || patch.Alias != nil {
			if err := checkSlotUnique(ctx, q, s); err != nil {
				return Change{}, err
			}
		}
		if patch.NumSlots != nil {
			n, err := q.CountPeriods(ctx, PeriodFilter{SlotID: &s.ID, UnexpiredOn: today})
			if err != nil {
				return Change{}, err
			}
			if n > s.NumSlots {
				return Change{}, apperr.Conflict("num_slots", "num_slots is less than unexpired AdPeriods.")
			}
		}
		if err := q.UpdateSlot(ctx, s); err != nil {
			return Change{}, err
		}
		updated = s
		return Change{Kind: SlotUpdated, EntityID: s.ID}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetSlot returns one slot.
func (r *SlotRegistry) GetSlot(ctx context.Context, id uuid.UUID) (*models.AdSlot, error) {
	s, err := r.store.GetSlot(ctx, id)
	if err != nil {
		return nil, apperr.From(err)
	}
	if s == nil {
		return nil, apperr.NotFound("AdSlot")
	}
	return s, nil
}

// ListSlots returns every slot ordered by name.
func (r *SlotRegistry) ListSlots(ctx context.Context) ([]models.AdSlot, error) {
	slots, err := r.store.ListSlots(ctx)
	if err != nil {
		return nil, apperr.From(err)
	}
	return slots, nil
}

// DeleteSlot removes a slot with no unexpired reservations, cascading its expired ones.
func (r *SlotRegistry) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	today := models.DateOf(r.clock.Now())
	var refs []string
	err := r.uow.Do(ctx, func(q Queries) (Change, error) {
		refs = refs[:0]
		s, err := q.LockSlot(ctx, id)
		if err != nil {
			return Change{}, err
		}
		if s == nil {
			return Change{}, apperr.NotFound("AdSlot")
		}
		n, err := q.CountPeriods(ctx, PeriodFilter{SlotID: &id, UnexpiredOn: today})
		if err != nil {
			return Change{}, err
		}
		if n > 0 {
			return Change{}, apperr.Conflict("AdPeriod", "Cannot delete AdSlot which has unexpired AdPeriods.")
		}
		periods, err := q.ListPeriods(ctx, PeriodFilter{SlotID: &id})
		if err != nil {
			return Change{}, err
		}
		for _, p := range periods {
			removed, err := q.DeleteMaterialsByPeriod(ctx, p.ID)
			if err != nil {
				return Change{}, err
			}
			refs = append(refs, removed...)
			if err := q.DeletePeriod(ctx, p.ID); err != nil {
				return Change{}, err
			}
		}
		if err := q.DeleteSlot(ctx, id); err != nil {
			return Change{}, err
		}
		return Change{Kind: SlotDeleted, EntityID: id}, nil
	})
	if err != nil {
		return err
	}
	releaseAll(ctx, r.assets, r.logger, refs)
	return nil
}

func checkSlotUnique(ctx context.Context, q Queries, s *models.AdSlot) error {
	nameTaken, aliasTaken, err := q.SlotExists(ctx, s.Name, s.Alias, s.ID)
	if err != nil {
		return err
	}
	if nameTaken {
		return apperr.InvalidParam("name", "Duplicate name.")
	}
	if aliasTaken {
		return apperr.InvalidParam("alias", "Duplicate alias.")
	}
	return nil
}

func trimPatch(p *models.SlotPatch) {
	for _, f := range []*string{p.Name, p.Alias, p.Description} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}

// releaseAll frees assets whose rows are gone. Failures leave orphans and are only logged.
func releaseAll(ctx context.Context, assets AttachmentStore, logger *zap.Logger, refs []string) {
	for _, ref := range refs {
		if err := assets.Release(ctx, ref); err != nil {
			logger.Warn("release ad asset failed", zap.String("ref", ref), zap.Error(err))
		}
	}
}
