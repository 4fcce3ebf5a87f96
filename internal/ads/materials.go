package ads

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itranswarp/backend/internal/metrics"
	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/apperr"
	"github.com/itranswarp/backend/pkg/clock"
)

// MaterialSpec is the input for a new creative. A nil Weight means the default.
type MaterialSpec struct {
	URL      string
	Weight   *int
	StartAt  string
	EndAt    string
	Geo      string
	Keywords string
	Image    []byte
}

// CreativeRotation manages the creatives attached to reservations.
type CreativeRotation struct {
	store  Store
	uow    *unitOfWork
	assets AttachmentStore
	clock  clock.Clock
	logger *zap.Logger
}

// canManage reports whether actor may change creatives of a reservation owned by ownerID.
func canManage(actor models.Actor, ownerID uuid.UUID) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.Role == models.RoleSponsor && actor.ID == ownerID
}

// AddMaterial validates a creative, stores its image and attaches it to the reservation.
func (r *CreativeRotation) AddMaterial(ctx context.Context, actor models.Actor, periodID uuid.UUID, spec MaterialSpec) (*models.AdMaterial, error) {
	today := models.DateOf(r.clock.Now())
	period, err := r.store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if period == nil {
		return nil, apperr.NotFound("AdPeriod")
	}
	if !canManage(actor, period.SponsorID) {
		return nil, apperr.PermissionDenied("Only the owner or an admin can add AdMaterial.")
	}
	if period.IsExpired(today) {
		return nil, apperr.InvalidParam("id", "AdPeriod is expired.")
	}

	m := &models.AdMaterial{
		PeriodID:  period.ID,
		SponsorID: period.SponsorID,
		Weight:    models.DefaultMaterialWeight,
		Geo:       strings.TrimSpace(spec.Geo),
		Keywords:  strings.TrimSpace(spec.Keywords),
	}
	if m.URL, err = validateClickURL(spec.URL); err != nil {
		return nil, err
	}
	if spec.Weight != nil {
		if err := checkRange("weight", int64(*spec.Weight), 0, maxWeight); err != nil {
			return nil, err
		}
		m.Weight = *spec.Weight
	}
	if m.StartAt, m.EndAt, err = parseWindow(spec.StartAt, spec.EndAt, period); err != nil {
		return nil, err
	}
	if err := checkLen("geo", m.Geo, 0, maxGeoLen); err != nil {
		return nil, err
	}
	if err := checkLen("keywords", m.Keywords, 0, maxKeywordLen); err != nil {
		return nil, err
	}

	slot, err := r.store.GetSlot(ctx, period.SlotID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if slot == nil {
		return nil, apperr.NotFound("AdSlot")
	}
	if len(spec.Image) == 0 {
		return nil, apperr.InvalidParam("image", "Image is required.")
	}
	if len(spec.Image) > slot.MaxImageBytes() {
		return nil, apperr.InvalidParam("image", "Image is too large.")
	}
	// Checked again under the period lock.
	n, err := r.store.CountMaterials(ctx, period.ID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if n >= models.MaxMaterialsPerPeriod {
		metrics.AdmissionRejected.WithLabelValues("materials_full").Inc()
		return nil, apperr.MaximumReached("AdMaterial", "Too many AdMaterial: 10")
	}

	ref, err := r.assets.Store(ctx, spec.Image, AssetMeta{
		OwnerID: period.SponsorID,
		Name:    slot.Alias,
		Width:   slot.Width,
		Height:  slot.Height,
	})
	if err != nil {
		return nil, apperr.From(err)
	}
	m.CoverRef = ref

	err = r.uow.Do(ctx, func(q Queries) (Change, error) {
		p, err := q.LockPeriod(ctx, period.ID)
		if err != nil {
			return Change{}, err
		}
		if p == nil {
			return Change{}, apperr.NotFound("AdPeriod")
		}
		if p.IsExpired(today) {
			return Change{}, apperr.InvalidParam("id", "AdPeriod is expired.")
		}
		n, err := q.CountMaterials(ctx, p.ID)
		if err != nil {
			return Change{}, err
		}
		if n >= models.MaxMaterialsPerPeriod {
			metrics.AdmissionRejected.WithLabelValues("materials_full").Inc()
			return Change{}, apperr.MaximumReached("AdMaterial", "Too many AdMaterial: 10")
		}
		m.ID = uuid.New()
		if err := q.InsertMaterial(ctx, m); err != nil {
			return Change{}, err
		}
		return Change{Kind: MaterialCreated, EntityID: m.ID}, nil
	})
	if err != nil {
		releaseAll(ctx, r.assets, r.logger, []string{ref})
		return nil, err
	}
	return m, nil
}

// DeleteMaterial removes a creative of an unexpired reservation and releases its image.
func (r *CreativeRotation) DeleteMaterial(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	today := models.DateOf(r.clock.Now())
	var ref string
	err := r.uow.Do(ctx, func(q Queries) (Change, error) {
		m, err := q.GetMaterial(ctx, id)
		if err != nil {
			return Change{}, err
		}
		if m == nil {
			return Change{}, apperr.NotFound("AdMaterial")
		}
		if !canManage(actor, m.SponsorID) {
			return Change{}, apperr.PermissionDenied("Only the owner or an admin can delete AdMaterial.")
		}
		p, err := q.LockPeriod(ctx, m.PeriodID)
		if err != nil {
			return Change{}, err
		}
		if p == nil {
			return Change{}, apperr.NotFound("AdPeriod")
		}
		if p.IsExpired(today) {
			return Change{}, apperr.InvalidParam("id", "AdPeriod is expired.")
		}
		if err := q.DeleteMaterial(ctx, id); err != nil {
			return Change{}, err
		}
		ref = m.CoverRef
		return Change{Kind: MaterialDeleted, EntityID: id}, nil
	})
	if err != nil {
		return err
	}
	releaseAll(ctx, r.assets, r.logger, []string{ref})
	return nil
}

// ListMaterials returns creatives matching f, oldest first.
func (r *CreativeRotation) ListMaterials(ctx context.Context, f MaterialFilter) ([]models.AdMaterial, error) {
	list, err := r.store.ListMaterials(ctx, f)
	if err != nil {
		return nil, apperr.From(err)
	}
	return list, nil
}
