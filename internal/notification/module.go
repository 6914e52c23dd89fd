// Package notification reacts to lifecycle events: it emails tenants once a
// viewing is booked and pushes lead and call activity to connected operators.
package notification

import (
	"context"
	"strings"

	"lettings_backend/internal/email"
	"lettings_backend/internal/events"
	apphttp "lettings_backend/internal/http"
	"lettings_backend/internal/notification/sse"
	"lettings_backend/platform/logger"
)

// Module subscribes to domain events and fans them out to email and SSE.
type Module struct {
	sender email.Sender
	sse    *sse.Service
	log    *logger.Logger
}

// New creates the notification module. sender may be email.NoopSender.
func New(sender email.Sender, stream *sse.Service, log *logger.Logger) *Module {
	if sender == nil {
		sender = email.NoopSender{}
	}
	return &Module{sender: sender, sse: stream, log: log}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// RegisterRoutes mounts the operator event stream.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	if m.sse == nil {
		return
	}
	ctx.Operator.GET("/events", m.sse.Handler())
}

// RegisterHandlers subscribes to all relevant domain events on the event bus.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadCreated{}.EventName(), m)
	bus.Subscribe(events.LeadPhaseChanged{}.EventName(), m)
	bus.Subscribe(events.ViewingBooked{}.EventName(), m)
	bus.Subscribe(events.CallStatusChanged{}.EventName(), m)
	bus.Subscribe(events.TranscriptArchived{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadCreated:
		m.push(sse.Event{Type: sse.EventLeadCreated, LeadID: e.LeadID})
	case events.LeadPhaseChanged:
		m.push(sse.Event{Type: sse.EventLeadPhaseChanged, LeadID: e.LeadID, Data: map[string]string{"from": e.From, "to": e.To}})
	case events.ViewingBooked:
		return m.handleViewingBooked(ctx, e)
	case events.CallStatusChanged:
		callID := e.CallID
		m.push(sse.Event{Type: sse.EventCallStatusChanged, LeadID: e.LeadID, CallID: &callID, Message: e.Status})
	case events.TranscriptArchived:
		callID := e.CallID
		m.push(sse.Event{Type: sse.EventTranscriptArchived, LeadID: e.LeadID, CallID: &callID, Data: map[string]string{"fileKey": e.FileKey}})
	default:
		m.log.Warn("notification module received unknown event", "event", event.EventName())
	}
	return nil
}

func (m *Module) handleViewingBooked(ctx context.Context, e events.ViewingBooked) error {
	m.push(sse.Event{
		Type:   sse.EventViewingBooked,
		LeadID: e.LeadID,
		Data: map[string]string{
			"viewingId": e.ViewingID.String(),
			"date":      e.ViewingDate,
			"time":      e.ViewingTime,
		},
	})

	if e.LeadEmail == nil || strings.TrimSpace(*e.LeadEmail) == "" {
		m.log.Info("viewing booked without tenant email, skipping confirmation", "lead_id", e.LeadID.String())
		return nil
	}

	viewing := email.ViewingConfirmation{
		TenantName:  e.LeadName,
		ViewingDate: e.ViewingDate,
		ViewingTime: e.ViewingTime,
	}
	if e.PropertyAddress != nil {
		viewing.PropertyAddress = *e.PropertyAddress
	}

	if err := m.sender.SendViewingConfirmation(ctx, strings.TrimSpace(*e.LeadEmail), viewing); err != nil {
		m.log.Error("failed to send viewing confirmation", "lead_id", e.LeadID.String(), "error", err)
		return err
	}
	m.log.Info("viewing confirmation sent", "lead_id", e.LeadID.String())
	return nil
}

func (m *Module) push(event sse.Event) {
	if m.sse == nil {
		return
	}
	m.sse.Broadcast(event)
}
