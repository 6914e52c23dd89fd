package leads

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"lettings_backend/internal/events"
	"lettings_backend/internal/leads/domain"
	"lettings_backend/platform/apperr"
)

// errCallUnchanged aborts a call mutation whose event was stale.
var errCallUnchanged = errors.New("call status unchanged")

// PlaceCall records a call attempt for the lead and asks the provider to dial it.
func (o *Orchestrator) PlaceCall(ctx context.Context, leadID uuid.UUID) (domain.CallAttempt, error) {
	if o.calls == nil {
		return domain.CallAttempt{}, apperr.New(apperr.KindUnavailable, "telephony is not configured")
	}

	lead, err := o.GetLead(ctx, leadID)
	if err != nil {
		return domain.CallAttempt{}, err
	}

	existing, err := o.store.ListCallsByLead(ctx, leadID)
	if err != nil {
		return domain.CallAttempt{}, o.storeError("list_calls", "", err)
	}
	for _, call := range existing {
		if !call.Status.IsFinal() {
			return domain.CallAttempt{}, apperr.Conflict("lead already has a call in progress").
				WithDetails(map[string]string{"callId": call.ID.String()})
		}
	}

	call := domain.NewCallAttempt(lead.ID, o.now().UTC())
	if err := o.store.CreateCallAttempt(ctx, call); err != nil {
		return domain.CallAttempt{}, o.storeError("create_call", "", err)
	}

	sc, err := o.persona.BuildSessionContext(&lead, call.IdempotencyToken)
	if err != nil {
		o.log.WithContext(ctx).Warn("cannot build session context for call", "call_id", call.ID.String(), "error", err)
	} else {
		if o.contexts != nil {
			if err := o.contexts.Put(ctx, call.ID, sc); err != nil {
				o.log.WithContext(ctx).Warn("failed to store session context", "call_id", call.ID.String(), "error", err)
			}
		}
		if o.pool != nil {
			// no-op when the lead still has a live session from creation
			o.pool.Prewarm(sc)
		}
	}

	placed, err := o.calls.PlaceCall(ctx, call.ID, lead.Phone)
	if err != nil {
		o.log.WithContext(ctx).Error("call placement failed", "lead_id", lead.ID.String(), "call_id", call.ID.String(), "error", err)
		if _, abortErr := o.HandleCallStatus(ctx, call.ID, domain.CallEventFailed, "dial_failed", nil); abortErr != nil {
			o.log.WithContext(ctx).Warn("failed to mark call terminated", "call_id", call.ID.String(), "error", abortErr)
		}
		return domain.CallAttempt{}, apperr.Wrap(apperr.KindUnavailable, "failed to place call", err)
	}

	updated, err := o.store.MutateCallAttempt(ctx, call.ID, "", func(c *domain.CallAttempt) error {
		sid := placed.SID
		c.ProviderCallSID = &sid
		return nil
	})
	if err != nil {
		return domain.CallAttempt{}, o.storeError("update_call", "call not found", err)
	}

	o.log.WithContext(ctx).Info("call placed", "lead_id", lead.ID.String(), "call_id", call.ID.String(), "provider_sid", placed.SID)
	return updated, nil
}

// PlaceScheduledCall places the automatic first call unless the lead has
// already been called or has nothing left to do.
func (o *Orchestrator) PlaceScheduledCall(ctx context.Context, leadID uuid.UUID) error {
	lead, err := o.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	if lead.Phase.IsTerminal() {
		o.log.WithContext(ctx).Info("scheduled call skipped, viewing already booked", "lead_id", leadID.String())
		return nil
	}

	calls, err := o.store.ListCallsByLead(ctx, leadID)
	if err != nil {
		return o.storeError("list_calls", "", err)
	}
	if len(calls) > 0 {
		o.log.WithContext(ctx).Info("scheduled call skipped, lead already called", "lead_id", leadID.String())
		return nil
	}

	_, err = o.PlaceCall(ctx, leadID)
	return err
}

// HandleCallStatus applies a provider progress event to the call. Stale and
// repeated events are ignored. Answering starts the session handoff; ending
// before answer cancels the pre-warmed session.
func (o *Orchestrator) HandleCallStatus(ctx context.Context, callID uuid.UUID, event domain.CallEvent, rawStatus string, durationSeconds *int) (domain.CallAttempt, error) {
	call, err := o.store.MutateCallAttempt(ctx, callID, rawStatus, func(c *domain.CallAttempt) error {
		next, changed, err := c.Status.Apply(event)
		if err != nil {
			return err
		}
		if !changed {
			return errCallUnchanged
		}
		c.Status = next
		if durationSeconds != nil {
			d := *durationSeconds
			c.DurationSeconds = &d
		}
		return nil
	})
	switch {
	case errors.Is(err, errCallUnchanged):
		return call, nil
	case errors.Is(err, domain.ErrInvalidTransition):
		return call, apperr.Conflict(err.Error())
	case err != nil:
		return domain.CallAttempt{}, o.storeError("update_call", "call not found", err)
	}

	o.log.WithContext(ctx).Info("call status changed", "call_id", call.ID.String(), "lead_id", call.LeadID.String(), "status", string(call.Status), "raw_status", rawStatus)
	o.publish(ctx, events.CallStatusChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    call.LeadID,
		CallID:    call.ID,
		Status:    string(call.Status),
	})

	switch call.Status {
	case domain.CallAnswered:
		o.startHandoff(call)
	case domain.CallTerminated:
		o.finishHandoff(call.ID)
		if o.pool != nil && o.pool.Cancel(call.LeadID) {
			o.log.WithContext(ctx).Info("pre-warmed session cancelled, call ended before answer", "call_id", call.ID.String())
		}
	case domain.CallCompleted:
		o.finishHandoff(call.ID)
	}

	if call.Status.IsFinal() && o.contexts != nil {
		if err := o.contexts.Delete(ctx, call.ID); err != nil {
			o.log.WithContext(ctx).Warn("failed to drop session context", "call_id", call.ID.String(), "error", err)
		}
	}
	return call, nil
}

// FindCallByProviderSID resolves a provider call reference.
func (o *Orchestrator) FindCallByProviderSID(ctx context.Context, sid string) (domain.CallAttempt, error) {
	call, err := o.store.GetCallAttemptByProviderSID(ctx, sid)
	if err != nil {
		return domain.CallAttempt{}, o.storeError("get_call", "call not found", err)
	}
	return call, nil
}

// GetCall returns a call attempt by id.
func (o *Orchestrator) GetCall(ctx context.Context, callID uuid.UUID) (domain.CallAttempt, error) {
	call, err := o.store.GetCallAttempt(ctx, callID)
	if err != nil {
		return domain.CallAttempt{}, o.storeError("get_call", "call not found", err)
	}
	return call, nil
}
