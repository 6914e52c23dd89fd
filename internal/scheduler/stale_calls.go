package scheduler

import (
	"context"
	"time"

	"lettings_backend/internal/events"
	"lettings_backend/internal/leads/domain"
	"lettings_backend/platform/logger"
)

const (
	defaultStaleCallSweepInterval = time.Minute
	defaultStaleCallAge           = 2 * time.Hour
)

// StaleCallStore closes call attempts whose provider never reported a final status.
type StaleCallStore interface {
	ExpireStaleCalls(ctx context.Context, cutoff time.Time) ([]domain.CallAttempt, error)
}

// StaleCallSweeper periodically finalizes call attempts stuck in a live status.
type StaleCallSweeper struct {
	store    StaleCallStore
	bus      events.Bus
	log      *logger.Logger
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

func NewStaleCallSweeper(store StaleCallStore, bus events.Bus, log *logger.Logger, interval, maxAge time.Duration) *StaleCallSweeper {
	if interval <= 0 {
		interval = defaultStaleCallSweepInterval
	}
	if maxAge <= 0 {
		maxAge = defaultStaleCallAge
	}

	return &StaleCallSweeper{
		store:    store,
		bus:      bus,
		log:      log,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

func (s *StaleCallSweeper) Run(ctx context.Context) {
	if s == nil || s.store == nil {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *StaleCallSweeper) sweep(ctx context.Context) int {
	expired, err := s.store.ExpireStaleCalls(ctx, s.now().Add(-s.maxAge))
	if err != nil {
		s.log.Warn("stale call sweep failed", "error", err)
		return 0
	}

	for _, call := range expired {
		s.log.Info("stale call finalized", "call_id", call.ID.String(), "lead_id", call.LeadID.String(), "status", string(call.Status))
		if s.bus != nil {
			s.bus.Publish(ctx, events.CallStatusChanged{
				BaseEvent: events.NewBaseEvent(),
				LeadID:    call.LeadID,
				CallID:    call.ID,
				Status:    string(call.Status),
			})
		}
	}
	return len(expired)
}
