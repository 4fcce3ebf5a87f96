package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxMaterialsPerPeriod caps the creatives attached to one reservation.
const MaxMaterialsPerPeriod = 10

// DefaultMaterialWeight is used when a creative is created without a weight.
const DefaultMaterialWeight = 100

// AdSlot is a sellable advertising position with finite reservation capacity.
type AdSlot struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Alias       string    `json:"alias"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	NumSlots    int       `json:"num_slots"`
	NumAutoFill int       `json:"num_auto_fill"`
	AutoFill    string    `json:"auto_fill"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MaxImageBytes is the largest creative accepted for this slot.
func (s *AdSlot) MaxImageBytes() int {
	return s.Width * s.Height / 2
}

// SlotPatch is a partial slot update. Nil fields were not supplied.
// Width and height are fixed at creation and have no patch field.
type SlotPatch struct {
	Name        *string
	Alias       *string
	Description *string
	Price       *int64
	NumSlots    *int
	NumAutoFill *int
	AutoFill    *string
}

// Apply copies supplied fields onto s.
func (p SlotPatch) Apply(s *AdSlot) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Alias != nil {
		s.Alias = *p.Alias
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Price != nil {
		s.Price = *p.Price
	}
	if p.NumSlots != nil {
		s.NumSlots = *p.NumSlots
	}
	if p.NumAutoFill != nil {
		s.NumAutoFill = *p.NumAutoFill
	}
	if p.AutoFill != nil {
		s.AutoFill = *p.AutoFill
	}
}

// AdPeriod is a sponsor's time-boxed reservation of one slot over [StartAt, EndAt).
type AdPeriod struct {
	ID           uuid.UUID `json:"id"`
	SlotID       uuid.UUID `json:"adslot_id"`
	SponsorID    uuid.UUID `json:"user_id"`
	SponsorName  string    `json:"user_name,omitempty"`
	StartAt      Date      `json:"start_at"`
	EndAt        Date      `json:"end_at"`
	DisplayOrder int64     `json:"display_order"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsActive reports StartAt <= today < EndAt. Used for serving and material windows.
func (p *AdPeriod) IsActive(today Date) bool {
	return p.StartAt <= today && today < p.EndAt
}

// IsExpired reports today >= EndAt. Unexpired periods consume slot capacity.
func (p *AdPeriod) IsExpired(today Date) bool {
	return today >= p.EndAt
}

// AdMaterial is a creative attached to a reservation, optionally limited to a sub-window.
type AdMaterial struct {
	ID        uuid.UUID `json:"id"`
	PeriodID  uuid.UUID `json:"adperiod_id"`
	SponsorID uuid.UUID `json:"user_id"`
	CoverRef  string    `json:"cover_id"`
	Weight    int       `json:"weight"`
	StartAt   Date      `json:"start_at"`
	EndAt     Date      `json:"end_at"`
	Geo       string    `json:"geo"`
	Keywords  string    `json:"keywords"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// InWindow reports whether today falls in the material's own window. Empty bounds are open.
func (m *AdMaterial) InWindow(today Date) bool {
	if !m.StartAt.IsZero() && today < m.StartAt {
		return false
	}
	if !m.EndAt.IsZero() && today >= m.EndAt {
		return false
	}
	return true
}
