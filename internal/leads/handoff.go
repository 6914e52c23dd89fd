package leads

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lettings_backend/internal/leads/domain"
	"lettings_backend/internal/sessions"
	"lettings_backend/platform/apperr"
)

const (
	SessionSourcePrewarmed = "prewarmed"
	SessionSourceFallback  = "fallback"
)

// handoff is the voice session assigned to one answered call.
type handoff struct {
	done    chan struct{}
	session *sessions.Session
	source  string
	err     error
}

// startHandoff claims the lead's pre-warmed session for call, or establishes
// one synchronously on a miss. It runs once per call.
func (o *Orchestrator) startHandoff(call domain.CallAttempt) *handoff {
	o.handoffMu.Lock()
	if h, ok := o.handoffs[call.ID]; ok {
		o.handoffMu.Unlock()
		return h
	}
	h := &handoff{done: make(chan struct{})}
	o.handoffs[call.ID] = h
	o.handoffMu.Unlock()

	go o.runHandoff(call, h)
	time.AfterFunc(handoffRetention, func() { o.finishHandoff(call.ID) })
	return h
}

func (o *Orchestrator) runHandoff(call domain.CallAttempt, h *handoff) {
	defer close(h.done)

	if o.pool == nil {
		h.err = sessions.ErrSessionUnavailable
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.settings.HandoffTimeout)
	defer cancel()

	log := o.log.WithLeadID(call.LeadID.String())
	source := SessionSourcePrewarmed
	session, err := o.pool.Claim(call.LeadID)
	if err != nil {
		log.Info("session claim missed, establishing synchronously", "call_id", call.ID.String(), "reason", err.Error())
		source = SessionSourceFallback

		sc, scErr := o.sessionContextFor(ctx, call)
		if scErr != nil {
			h.err = scErr
			log.Error("cannot build session context for fallback", "call_id", call.ID.String(), "error", scErr)
			return
		}
		session, err = o.pool.Establish(ctx, sc)
		if err != nil {
			h.err = err
			log.Error("fallback session establishment failed", "call_id", call.ID.String(), "error", err)
			return
		}
	}

	h.session = session
	h.source = source
	log.Info("session handed to call", "call_id", call.ID.String(), "session_id", session.ID.String(), "source", source)

	o.recordSession(ctx, call.ID, session, source)
}

func (o *Orchestrator) recordSession(ctx context.Context, callID uuid.UUID, session *sessions.Session, source string) {
	_, err := o.store.MutateCallAttempt(ctx, callID, "", func(c *domain.CallAttempt) error {
		if source != "" {
			src := source
			c.SessionSource = &src
		}
		if conn := session.Conn(); conn != nil {
			if id := conn.ConversationID(); id != "" {
				c.ConversationID = &id
			}
		}
		return nil
	})
	if err != nil {
		o.log.Warn("failed to record call session", "call_id", callID.String(), "error", err)
	}
}

// AttachCall returns the voice session for an answered call, starting the
// handoff if the status callback has not arrived yet. The wait is bounded by
// the handoff timeout.
func (o *Orchestrator) AttachCall(ctx context.Context, callID uuid.UUID) (*sessions.Session, error) {
	call, err := o.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.IsFinal() {
		return nil, apperr.New(apperr.KindGone, "call already ended")
	}

	h := o.startHandoff(call)

	timer := time.NewTimer(o.settings.HandoffTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, apperr.New(apperr.KindUnavailable, "voice session not ready")
	}

	if h.err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "voice session unavailable", h.err)
	}
	return h.session, nil
}

// FinishCall releases the call's session once its audio bridge has ended.
func (o *Orchestrator) FinishCall(ctx context.Context, callID uuid.UUID) {
	o.handoffMu.Lock()
	h, ok := o.handoffs[callID]
	o.handoffMu.Unlock()
	if ok {
		select {
		case <-h.done:
			if h.session != nil {
				// conversation id may only be known once the conversation started
				o.recordSession(ctx, callID, h.session, "")
			}
		default:
		}
	}
	o.finishHandoff(callID)
}

// finishHandoff forgets the call's handoff and releases its session, waiting
// for an in-flight establishment to settle first.
func (o *Orchestrator) finishHandoff(callID uuid.UUID) {
	o.handoffMu.Lock()
	h, ok := o.handoffs[callID]
	delete(o.handoffs, callID)
	o.handoffMu.Unlock()
	if !ok {
		return
	}

	release := func() {
		if h.session != nil && o.pool != nil {
			o.pool.Release(h.session.ID)
		}
	}
	select {
	case <-h.done:
		release()
	default:
		go func() {
			<-h.done
			release()
		}()
	}
}

// activeHandoffs is the number of calls currently holding a session.
func (o *Orchestrator) activeHandoffs() int {
	o.handoffMu.Lock()
	defer o.handoffMu.Unlock()
	return len(o.handoffs)
}
