// Package domain holds the lead lifecycle rules: the field confirmation model,
// the phase state machine, call attempt status and end-of-call updates.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Lead is a prospective tenant moving through the onboarding phases.
type Lead struct {
	ID              uuid.UUID
	Phone           string
	Email           *string
	Postcode        *string
	PropertyAddress *string
	Fields          FieldSet
	ViewingDate     *string
	ViewingTime     *string
	ViewingNotes    *string
	Phase           Phase
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewLead returns a lead in phase NEW with an empty confirmation model.
func NewLead(id uuid.UUID, phone string, now time.Time) Lead {
	return Lead{
		ID:        id,
		Phone:     phone,
		Fields:    NewFieldSet(),
		Phase:     PhaseNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DisplayName returns the collected name or a neutral fallback.
func (l *Lead) DisplayName() string {
	if name, ok := l.Fields.Value(FieldName); ok {
		return name
	}
	return "there"
}

// PendingFields lists required fields the agent still has to collect or confirm.
func (l *Lead) PendingFields() []Field {
	pending := make([]Field, 0, len(ConfirmInfoRequired))
	for _, status := range l.Fields.IsSatisfied(ConfirmInfoRequired) {
		if status.Satisfaction != SatisfactionConfirmed {
			pending = append(pending, status.Field)
		}
	}
	return pending
}
