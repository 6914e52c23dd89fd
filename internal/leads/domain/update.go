package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"lettings_backend/platform/sanitize"
)

// EndOfCallUpdate is the batch of confirmations, new values and viewing details
// gathered during one call. It is applied at most once per call attempt.
type EndOfCallUpdate struct {
	Confirm      []Field
	Values       map[Field]string
	ViewingDate  *string
	ViewingTime  *string
	ViewingNotes *string
}

// IsEmpty reports whether the update carries nothing to apply.
func (u EndOfCallUpdate) IsEmpty() bool {
	return len(u.Confirm) == 0 && len(u.Values) == 0 &&
		u.ViewingDate == nil && u.ViewingTime == nil && u.ViewingNotes == nil
}

// ApplyOutcome describes what an update changed on the lead.
type ApplyOutcome struct {
	ChangedFields        []Field
	IgnoredConfirmations []Field
}

// ApplyUpdate writes new values first, then confirmations, then viewing details.
// Confirming an absent field is ignored and reported. The lead is left untouched
// when any value is rejected.
func (l *Lead) ApplyUpdate(u EndOfCallUpdate) (ApplyOutcome, error) {
	outcome := ApplyOutcome{ChangedFields: []Field{}, IgnoredConfirmations: []Field{}}
	fields := l.Fields.Clone()

	for f := range u.Values {
		if !f.IsTracked() {
			return ApplyOutcome{}, fmt.Errorf("%w: %s", ErrUnknownField, f)
		}
	}
	for _, f := range TrackedFields {
		raw, ok := u.Values[f]
		if !ok {
			continue
		}
		if err := fields.SetValue(f, raw); err != nil {
			return ApplyOutcome{}, err
		}
		outcome.ChangedFields = append(outcome.ChangedFields, f)
	}

	for _, f := range u.Confirm {
		if err := fields.Confirm(f); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				outcome.IgnoredConfirmations = append(outcome.IgnoredConfirmations, f)
				continue
			}
			return ApplyOutcome{}, err
		}
	}

	l.Fields = fields
	if date := sanitize.TextPtr(u.ViewingDate); date != nil {
		l.ViewingDate = date
	}
	if t := sanitize.TextPtr(u.ViewingTime); t != nil {
		l.ViewingTime = t
	}
	if notes := sanitize.TextPtr(u.ViewingNotes); notes != nil {
		l.ViewingNotes = notes
	}

	return outcome, nil
}

// UpdateResult is the outcome returned for an end-of-call update. It is stored
// with the consumed token so redeliveries get the same answer.
type UpdateResult struct {
	LeadID               uuid.UUID  `json:"leadId"`
	CallID               uuid.UUID  `json:"callId"`
	PreviousPhase        Phase      `json:"previousPhase"`
	PhaseInfo            PhaseInfo  `json:"phaseInfo"`
	ViewingID            *uuid.UUID `json:"viewingId,omitempty"`
	ViewingCreated       bool       `json:"viewingCreated"`
	ChangedFields        []Field    `json:"changedFields"`
	IgnoredConfirmations []Field    `json:"ignoredConfirmations"`
	Duplicate            bool       `json:"duplicate"`
}
