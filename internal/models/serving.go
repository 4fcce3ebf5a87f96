package models

import "github.com/google/uuid"

// ServingSnapshot maps slot alias to what the slot should display.
type ServingSnapshot map[string]ServingSlot

// ServingSlot is the resolved content of one slot.
type ServingSlot struct {
	Name          string          `json:"name"`
	Width         int             `json:"width"`
	Height        int             `json:"height"`
	AutoFill      string          `json:"auto_fill"`
	AutoFillCount int             `json:"num_auto_fill"`
	Periods       []ServingPeriod `json:"periods"`
}

// ServingPeriod is one active reservation and its in-window creatives.
type ServingPeriod struct {
	ID          uuid.UUID         `json:"id"`
	SponsorID   uuid.UUID         `json:"user_id"`
	SponsorName string            `json:"user_name"`
	Materials   []ServingMaterial `json:"materials"`
}

// ServingMaterial is a creative as served to the page.
type ServingMaterial struct {
	ID     uuid.UUID `json:"id"`
	Image  string    `json:"image"`
	Weight int       `json:"weight"`
	URL    string    `json:"url"`
}
