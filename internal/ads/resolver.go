package ads

import (
	"sort"

	"github.com/google/uuid"

	"github.com/itranswarp/backend/internal/models"
)

// ImageURLFunc maps a stored cover reference to a public URL.
type ImageURLFunc func(ref string) string

// Resolve computes what every slot displays on today. It has no side effects:
// the same inputs always produce the same snapshot.
func Resolve(today models.Date, slots []models.AdSlot, periods []models.AdPeriod, materials []models.AdMaterial, imageURL ImageURLFunc) models.ServingSnapshot {
	byPeriod := make(map[uuid.UUID][]models.AdMaterial)
	for _, m := range materials {
		if m.InWindow(today) {
			byPeriod[m.PeriodID] = append(byPeriod[m.PeriodID], m)
		}
	}
	bySlot := make(map[uuid.UUID][]models.AdPeriod)
	for _, p := range periods {
		if p.IsActive(today) {
			bySlot[p.SlotID] = append(bySlot[p.SlotID], p)
		}
	}

	snapshot := make(models.ServingSnapshot, len(slots))
	for _, s := range slots {
		active := bySlot[s.ID]
		sort.Slice(active, func(i, j int) bool {
			if active[i].DisplayOrder != active[j].DisplayOrder {
				return active[i].DisplayOrder < active[j].DisplayOrder
			}
			return active[i].ID.String() < active[j].ID.String()
		})

		served := make([]models.ServingPeriod, 0, len(active))
		for _, p := range active {
			served = append(served, models.ServingPeriod{
				ID:          p.ID,
				SponsorID:   p.SponsorID,
				SponsorName: p.SponsorName,
				Materials:   servingMaterials(byPeriod[p.ID], imageURL),
			})
		}
		snapshot[s.Alias] = models.ServingSlot{
			Name:          s.Name,
			Width:         s.Width,
			Height:        s.Height,
			AutoFill:      s.AutoFill,
			AutoFillCount: autoFillCount(s.NumSlots, len(active), s.NumAutoFill),
			Periods:       served,
		}
	}
	return snapshot
}

// autoFillCount is clamp(numSlots - active, 0, numAutoFill).
func autoFillCount(numSlots, active, numAutoFill int) int {
	n := numSlots - active
	if n < 0 {
		return 0
	}
	if n > numAutoFill {
		return numAutoFill
	}
	return n
}

func servingMaterials(list []models.AdMaterial, imageURL ImageURLFunc) []models.ServingMaterial {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	out := make([]models.ServingMaterial, 0, len(list))
	for _, m := range list {
		out = append(out, models.ServingMaterial{
			ID:     m.ID,
			Image:  imageURL(m.CoverRef),
			Weight: m.Weight,
			URL:    m.URL,
		})
	}
	return out
}
