// Package sse provides Server-Sent Events support for the operator dashboard.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lettings_backend/platform/httpkit"
	"lettings_backend/platform/logger"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventLeadCreated        EventType = "lead_created"
	EventLeadPhaseChanged   EventType = "lead_phase_changed"
	EventViewingBooked      EventType = "viewing_booked"
	EventCallStatusChanged  EventType = "call_status_changed"
	EventTranscriptArchived EventType = "transcript_archived"
)

// Event represents an SSE event payload
type Event struct {
	Type    EventType   `json:"type"`
	LeadID  uuid.UUID   `json:"leadId,omitempty"`
	CallID  *uuid.UUID  `json:"callId,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// client represents a connected SSE client
type client struct {
	operatorID uuid.UUID
	events     chan Event
}

// Service manages SSE connections and event broadcasting
type Service struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[*client]struct{}),
		log:     log,
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.events)
}

// ClientCount reports the number of connected operators.
func (s *Service) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast sends an event to every connected operator. Slow clients drop events
// rather than block the publisher.
func (s *Service) Broadcast(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.clients {
		select {
		case c.events <- event:
		default:
			s.log.Warn("sse event buffer full", "operator_id", c.operatorID.String(), "type", string(event.Type))
		}
	}
}

// Handler returns a Gin handler for SSE connections
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := httpkit.GetIdentity(c)
		if !identity.IsAuthenticated() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{
			operatorID: identity.UserID(),
			events:     make(chan Event, 32),
		}
		s.addClient(cl)
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"operatorId": cl.operatorID})
		c.Writer.Flush()

		s.log.Debug("sse client connected", "operator_id", cl.operatorID.String())

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				s.log.Debug("sse client disconnected", "operator_id", cl.operatorID.String())
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close disconnects every client.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		close(c.events)
		delete(s.clients, c)
	}
}
