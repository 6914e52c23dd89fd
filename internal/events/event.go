// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"lettings_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Lifecycle Events
// =============================================================================

// LeadCreated is published after a lead has been persisted and moved into CONFIRM_INFO.
type LeadCreated struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	Phone  string    `json:"phone"`
}

func (e LeadCreated) EventName() string { return "leads.lead.created" }

// LeadPhaseChanged is published whenever a lead advances to a later phase.
type LeadPhaseChanged struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	From   string    `json:"from"`
	To     string    `json:"to"`
}

func (e LeadPhaseChanged) EventName() string { return "leads.phase.changed" }

// ViewingBooked is published once, when the single viewing for a lead is created.
type ViewingBooked struct {
	BaseEvent
	LeadID          uuid.UUID `json:"leadId"`
	ViewingID       uuid.UUID `json:"viewingId"`
	LeadName        string    `json:"leadName"`
	LeadEmail       *string   `json:"leadEmail,omitempty"`
	ViewingDate     string    `json:"viewingDate"`
	ViewingTime     string    `json:"viewingTime"`
	PropertyAddress *string   `json:"propertyAddress,omitempty"`
}

func (e ViewingBooked) EventName() string { return "leads.viewing.booked" }

// =============================================================================
// Call Events
// =============================================================================

// CallStatusChanged is published when a call attempt moves to a new status.
type CallStatusChanged struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	CallID uuid.UUID `json:"callId"`
	Status string    `json:"status"`
}

func (e CallStatusChanged) EventName() string { return "calls.status.changed" }

// TranscriptArchived is published after a call transcript has been written to object storage.
type TranscriptArchived struct {
	BaseEvent
	LeadID  uuid.UUID `json:"leadId"`
	CallID  uuid.UUID `json:"callId"`
	FileKey string    `json:"fileKey"`
}

func (e TranscriptArchived) EventName() string { return "calls.transcript.archived" }
