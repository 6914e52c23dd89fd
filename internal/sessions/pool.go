package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lettings_backend/internal/voice"
	"lettings_backend/platform/config"
	"lettings_backend/platform/logger"
)

const (
	defaultReadyTTL         = 5 * time.Minute
	defaultWarmingTTL       = 30 * time.Second
	defaultSweepInterval    = time.Second
	defaultEstablishTimeout = 10 * time.Second
	// claimed sessions outliving any plausible call are reclaimed by the sweep
	maxClaimedLifetime = 2 * time.Hour
)

// Stats is a point-in-time view of the pool.
type Stats struct {
	Warming   int   `json:"warming"`
	Ready     int   `json:"ready"`
	Claimed   int   `json:"claimed"`
	Prewarmed int64 `json:"prewarmed"`
	Claims    int64 `json:"claims"`
	Misses    int64 `json:"misses"`
	Fallbacks int64 `json:"fallbacks"`
	Expired   int64 `json:"expired"`
}

// Pool holds at most one non-terminal session per lead.
type Pool struct {
	dialer voice.Dialer
	log    *logger.Logger

	readyTTL         time.Duration
	warmingTTL       time.Duration
	sweepInterval    time.Duration
	establishTimeout time.Duration
	now              func() time.Time

	mu     sync.Mutex
	byLead map[uuid.UUID]*Session
	byID   map[uuid.UUID]*Session

	prewarmed atomic.Int64
	claims    atomic.Int64
	misses    atomic.Int64
	fallbacks atomic.Int64
	expired   atomic.Int64
}

func New(dialer voice.Dialer, cfg config.SessionPoolConfig, log *logger.Logger) *Pool {
	p := &Pool{
		dialer:           dialer,
		log:              log,
		readyTTL:         cfg.GetSessionReadyTTL(),
		warmingTTL:       cfg.GetSessionWarmingTTL(),
		sweepInterval:    cfg.GetSessionSweepInterval(),
		establishTimeout: cfg.GetSessionEstablishTimeout(),
		now:              time.Now,
		byLead:           make(map[uuid.UUID]*Session),
		byID:             make(map[uuid.UUID]*Session),
	}
	if p.readyTTL <= 0 {
		p.readyTTL = defaultReadyTTL
	}
	if p.warmingTTL <= 0 {
		p.warmingTTL = defaultWarmingTTL
	}
	if p.sweepInterval <= 0 {
		p.sweepInterval = defaultSweepInterval
	}
	if p.establishTimeout <= 0 {
		p.establishTimeout = defaultEstablishTimeout
	}
	return p
}

// Prewarm starts establishing a session for the lead in the background and
// returns immediately. It is a no-op when the lead already has a live session.
func (p *Pool) Prewarm(sc voice.SessionContext) {
	if p == nil || p.dialer == nil {
		return
	}

	p.mu.Lock()
	if existing, ok := p.byLead[sc.LeadID]; ok && !existing.State().Terminal() {
		p.mu.Unlock()
		return
	}
	s := newSession(sc.LeadID, p.now(), false)
	dialCtx, cancel := context.WithTimeout(context.Background(), p.warmingTTL)
	s.cancelDial = cancel
	p.track(s)
	p.mu.Unlock()

	p.prewarmed.Add(1)
	p.logTransition(s, 0, StateWarming)
	go p.warm(dialCtx, s, sc)
}

func (p *Pool) warm(ctx context.Context, s *Session, sc voice.SessionContext) {
	defer s.cancelDial()
	defer s.settle()

	conn, err := p.dialer.Dial(ctx, sc)
	if err != nil {
		if s.transition(StateWarming, StateExpired) {
			p.untrack(s)
			p.expired.Add(1)
			p.logTransition(s, StateWarming, StateExpired)
		}
		if p.log != nil {
			p.log.Warn("session prewarm failed", "lead_id", s.LeadID.String(), "session_id", s.ID.String(), "error", err)
		}
		return
	}

	s.conn = conn
	s.readyAt = p.now()
	if !s.transition(StateWarming, StateReady) {
		// cancelled or evicted while dialing
		_ = conn.Close()
		return
	}
	p.logTransition(s, StateWarming, StateReady)
	go p.watchReady(s)
}

// watchReady evicts a ready session whose conversation the provider ended
// before anyone claimed it.
func (p *Pool) watchReady(s *Session) {
	<-s.conn.Done()
	if p.expire(s, StateReady) && p.log != nil {
		p.log.Warn("ready session ended by provider", "lead_id", s.LeadID.String(), "session_id", s.ID.String())
	}
}

// Claim hands the lead's ready session to the caller. Exactly one caller can
// win a given session; every other caller, including the eviction sweep, gets
// ErrSessionUnavailable.
func (p *Pool) Claim(leadID uuid.UUID) (*Session, error) {
	if p == nil {
		return nil, ErrSessionUnavailable
	}
	p.mu.Lock()
	s, ok := p.byLead[leadID]
	p.mu.Unlock()

	if !ok || s.reserved || !s.transition(StateReady, StateClaimed) {
		p.misses.Add(1)
		return nil, ErrSessionUnavailable
	}
	if s.ended() {
		p.expire(s, StateClaimed)
		p.misses.Add(1)
		return nil, ErrSessionUnavailable
	}
	s.claimedAt.Store(p.now().UnixNano())
	p.claims.Add(1)
	p.logTransition(s, StateReady, StateClaimed)
	return s, nil
}

// Establish returns a claimed session for the lead, dialing synchronously when
// nothing usable is pooled. A session that is still warming is waited for.
// The wait and the dial are bounded by the establish timeout.
func (p *Pool) Establish(ctx context.Context, sc voice.SessionContext) (*Session, error) {
	if p == nil || p.dialer == nil {
		return nil, ErrSessionUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, p.establishTimeout)
	defer cancel()

	// a pooled session that fails while we wait gets one fresh dial
	for attempt := 0; attempt < 2; attempt++ {
		p.mu.Lock()
		existing, ok := p.byLead[sc.LeadID]
		if ok && !existing.State().Terminal() {
			p.mu.Unlock()
			s, err := p.awaitExisting(ctx, existing)
			if err == nil || errors.Is(err, ErrSessionBusy) || ctx.Err() != nil {
				return s, err
			}
			continue
		}
		s := newSession(sc.LeadID, p.now(), true)
		s.cancelDial = cancel
		p.track(s)
		p.mu.Unlock()

		return p.dialReserved(ctx, s, sc)
	}
	return nil, ErrSessionUnavailable
}

func (p *Pool) dialReserved(ctx context.Context, s *Session, sc voice.SessionContext) (*Session, error) {
	p.fallbacks.Add(1)
	p.logTransition(s, 0, StateWarming)
	defer s.settle()

	conn, err := p.dialer.Dial(ctx, sc)
	if err != nil {
		if s.transition(StateWarming, StateExpired) {
			p.untrack(s)
			p.logTransition(s, StateWarming, StateExpired)
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	s.conn = conn
	s.readyAt = p.now()
	if !s.transition(StateWarming, StateReady) || !s.transition(StateReady, StateClaimed) {
		_ = conn.Close()
		return nil, ErrSessionUnavailable
	}
	s.claimedAt.Store(p.now().UnixNano())
	p.logTransition(s, StateWarming, StateClaimed)
	return s, nil
}

func (p *Pool) awaitExisting(ctx context.Context, s *Session) (*Session, error) {
	switch s.State() {
	case StateClaimed:
		return nil, ErrSessionBusy
	case StateWarming:
		if s.reserved {
			return nil, ErrSessionBusy
		}
		select {
		case <-s.settled:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, ctx.Err())
		}
	}

	claimed, err := p.Claim(s.LeadID)
	if err == nil {
		return claimed, nil
	}
	if s.State() == StateClaimed {
		return nil, ErrSessionBusy
	}
	return nil, ErrSessionUnavailable
}

// Release ends a claimed session after its call. Sessions are never reused.
func (p *Pool) Release(sessionID uuid.UUID) {
	if p == nil {
		return
	}
	p.mu.Lock()
	s, ok := p.byID[sessionID]
	p.mu.Unlock()
	if !ok {
		return
	}

	if s.transition(StateClaimed, StateConsumed) {
		_ = s.conn.Close()
		p.logTransition(s, StateClaimed, StateConsumed)
	}
	if s.State().Terminal() {
		p.untrack(s)
	}
}

// Cancel tears down a warming or ready session of the lead. Claimed sessions
// belong to a live call and are left alone. It reports whether a session was
// cancelled.
func (p *Pool) Cancel(leadID uuid.UUID) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	s, ok := p.byLead[leadID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	return p.expire(s, StateWarming) || p.expire(s, StateReady)
}

// expire moves s from the given state to expired and frees its resources.
func (p *Pool) expire(s *Session, from State) bool {
	if !s.transition(from, StateExpired) {
		return false
	}
	switch from {
	case StateWarming:
		// the dialer closes its own conn once it sees the lost transition
		if s.cancelDial != nil {
			s.cancelDial()
		}
		s.settle()
	case StateReady, StateClaimed:
		_ = s.conn.Close()
	}
	p.untrack(s)
	p.expired.Add(1)
	p.logTransition(s, from, StateExpired)
	return true
}

// Get returns the session with the given id.
func (p *Pool) Get(sessionID uuid.UUID) (*Session, bool) {
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.byID[sessionID]
	return s, ok
}

// Run evicts timed out sessions until ctx is done, then closes every session.
func (p *Pool) Run(ctx context.Context) {
	if p == nil {
		return
	}
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.closeAll()
			return
		case <-ticker.C:
			p.sweep(p.now())
		}
	}
}

func (p *Pool) sweep(now time.Time) {
	for _, s := range p.snapshot() {
		switch s.State() {
		case StateWarming:
			if now.Sub(s.CreatedAt) > p.warmingTTL && !s.reserved {
				p.expire(s, StateWarming)
			}
		case StateReady:
			if now.Sub(s.readyAt) > p.readyTTL {
				p.expire(s, StateReady)
			}
		case StateClaimed:
			// zero until the claimer records the claim time
			stamp := s.claimedAt.Load()
			if stamp == 0 {
				continue
			}
			if now.Sub(time.Unix(0, stamp)) > maxClaimedLifetime {
				p.expire(s, StateClaimed)
			}
		default:
			p.untrack(s)
		}
	}
}

func (p *Pool) closeAll() {
	for _, s := range p.snapshot() {
		_ = p.expire(s, StateWarming) || p.expire(s, StateReady) || p.expire(s, StateClaimed)
	}
}

// Stats reports pool occupancy and counters.
func (p *Pool) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	st := Stats{
		Prewarmed: p.prewarmed.Load(),
		Claims:    p.claims.Load(),
		Misses:    p.misses.Load(),
		Fallbacks: p.fallbacks.Load(),
		Expired:   p.expired.Load(),
	}
	for _, s := range p.snapshot() {
		switch s.State() {
		case StateWarming:
			st.Warming++
		case StateReady:
			st.Ready++
		case StateClaimed:
			st.Claimed++
		}
	}
	return st
}

// track must be called with p.mu held.
func (p *Pool) track(s *Session) {
	p.byLead[s.LeadID] = s
	p.byID[s.ID] = s
}

func (p *Pool) untrack(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.byLead[s.LeadID]; ok && current == s {
		delete(p.byLead, s.LeadID)
	}
	delete(p.byID, s.ID)
}

func (p *Pool) snapshot() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, 0, len(p.byID))
	for _, s := range p.byID {
		out = append(out, s)
	}
	return out
}

func (p *Pool) logTransition(s *Session, from, to State) {
	if p.log == nil {
		return
	}
	fromName := ""
	if from != 0 {
		fromName = from.String()
	}
	p.log.SessionTransition(s.LeadID.String(), s.ID.String(), fromName, to.String())
}
