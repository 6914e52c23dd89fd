package domain

import (
	"time"

	"github.com/google/uuid"
)

// ViewingStatusScheduled is the only status assigned automatically.
const ViewingStatusScheduled = "scheduled"

// PropertyViewing is the single booked viewing of a lead.
type PropertyViewing struct {
	ID              uuid.UUID
	LeadID          uuid.UUID
	ViewingDate     string
	ViewingTime     string
	PropertyAddress *string
	Notes           *string
	Status          string
	CreatedAt       time.Time
}

// HasViewingRequest reports whether both viewing date and time are present on the lead.
func (l *Lead) HasViewingRequest() bool {
	return l.ViewingDate != nil && *l.ViewingDate != "" && l.ViewingTime != nil && *l.ViewingTime != ""
}

// NewViewingFor derives a scheduled viewing from the lead's viewing attributes.
func NewViewingFor(lead *Lead, id uuid.UUID, now time.Time) (PropertyViewing, error) {
	if !lead.HasViewingRequest() {
		return PropertyViewing{}, ErrViewingIncomplete
	}
	return PropertyViewing{
		ID:              id,
		LeadID:          lead.ID,
		ViewingDate:     *lead.ViewingDate,
		ViewingTime:     *lead.ViewingTime,
		PropertyAddress: copyString(lead.PropertyAddress),
		Notes:           copyString(lead.ViewingNotes),
		Status:          ViewingStatusScheduled,
		CreatedAt:       now,
	}, nil
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
