package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call attempt.
type CallStatus string

const (
	CallInitiated  CallStatus = "initiated"
	CallRinging    CallStatus = "ringing"
	CallAnswered   CallStatus = "answered"
	CallCompleted  CallStatus = "completed"
	CallTerminated CallStatus = "terminated"
)

// CallEvent is a provider-independent call progress signal.
type CallEvent string

const (
	CallEventRinging   CallEvent = "ringing"
	CallEventAnswered  CallEvent = "answered"
	CallEventCompleted CallEvent = "completed"
	// CallEventFailed covers busy, failed, no-answer and canceled outcomes.
	CallEventFailed CallEvent = "failed"
)

// IsFinal reports whether the call accepts no further transitions.
func (s CallStatus) IsFinal() bool {
	return s == CallCompleted || s == CallTerminated
}

func (s CallStatus) rank() int {
	switch s {
	case CallInitiated:
		return 0
	case CallRinging:
		return 1
	case CallAnswered:
		return 2
	default:
		return 3
	}
}

// Apply returns the status after event. Stale or repeated events leave the
// status unchanged; events on a finished call return ErrInvalidTransition.
func (s CallStatus) Apply(event CallEvent) (CallStatus, bool, error) {
	if s.IsFinal() {
		return s, false, fmt.Errorf("%w: call already %s", ErrInvalidTransition, s)
	}

	var next CallStatus
	switch event {
	case CallEventRinging:
		next = CallRinging
	case CallEventAnswered:
		next = CallAnswered
	case CallEventCompleted:
		if s == CallAnswered {
			next = CallCompleted
		} else {
			next = CallTerminated
		}
	case CallEventFailed:
		if s == CallAnswered {
			next = CallCompleted
		} else {
			next = CallTerminated
		}
	default:
		return s, false, fmt.Errorf("%w: unknown call event %q", ErrInvalidTransition, event)
	}

	if next.rank() <= s.rank() {
		return s, false, nil
	}
	return next, true, nil
}

// CallAttempt is one outbound call to a lead.
type CallAttempt struct {
	ID               uuid.UUID
	LeadID           uuid.UUID
	Status           CallStatus
	ProviderCallSID  *string
	ConversationID   *string
	IdempotencyToken string
	SessionSource    *string
	TranscriptKey    *string
	DurationSeconds  *int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewCallAttempt creates an initiated call with a fresh idempotency token.
func NewCallAttempt(leadID uuid.UUID, now time.Time) CallAttempt {
	return CallAttempt{
		ID:               uuid.New(),
		LeadID:           leadID,
		Status:           CallInitiated,
		IdempotencyToken: uuid.NewString(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
