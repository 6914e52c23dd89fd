// Package sessions keeps speculatively established agent conversations keyed
// by lead, so an answered call can be handed a live session immediately.
package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lettings_backend/internal/voice"
)

var (
	// ErrSessionUnavailable is the claim miss: no ready session for the lead.
	ErrSessionUnavailable = errors.New("no ready session for lead")
	// ErrSessionBusy means the lead's session is already serving a call.
	ErrSessionBusy = errors.New("session already claimed for lead")
)

// State is the lifecycle state of a pooled session.
type State int32

const (
	StateWarming State = iota + 1
	StateReady
	StateClaimed
	StateConsumed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateWarming:
		return "warming"
	case StateReady:
		return "ready"
	case StateClaimed:
		return "claimed"
	case StateConsumed:
		return "consumed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session can no longer change state.
func (s State) Terminal() bool {
	return s == StateConsumed || s == StateExpired
}

// Session is one agent conversation owned by the pool.
type Session struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	CreatedAt time.Time

	// reserved sessions are established on behalf of a specific caller and
	// are never handed out by Claim.
	reserved bool

	state atomic.Int32

	// conn and readyAt are written before the warming -> ready transition and
	// only read by whoever observes ready or claimed.
	conn    voice.Conn
	readyAt time.Time

	claimedAt atomic.Int64

	cancelDial context.CancelFunc
	settled    chan struct{}
	settleOnce sync.Once
}

func newSession(leadID uuid.UUID, now time.Time, reserved bool) *Session {
	s := &Session{
		ID:        uuid.New(),
		LeadID:    leadID,
		CreatedAt: now,
		reserved:  reserved,
		settled:   make(chan struct{}),
	}
	s.state.Store(int32(StateWarming))
	return s
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Conn returns the agent conversation. It is only valid once the session has
// been claimed by the caller.
func (s *Session) Conn() voice.Conn {
	return s.conn
}

// ended reports whether the provider already closed the conversation.
func (s *Session) ended() bool {
	select {
	case <-s.conn.Done():
		return true
	default:
		return false
	}
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// settle releases everyone waiting for the warming phase to end.
func (s *Session) settle() {
	s.settleOnce.Do(func() { close(s.settled) })
}
