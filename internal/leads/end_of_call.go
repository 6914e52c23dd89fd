package leads

import (
	"context"
	"errors"
	"strings"

	"lettings_backend/internal/events"
	"lettings_backend/internal/leads/domain"
	"lettings_backend/internal/leads/repository"
	"lettings_backend/platform/apperr"
)

// errReplayed rolls back a transaction that found an existing receipt.
var errReplayed = errors.New("end-of-call update replayed")

// ApplyEndOfCallUpdate applies the update gathered on the call identified by
// token, advances the lead and books its viewing. The token is consumed in
// the same transaction; redeliveries return the stored result marked as a
// duplicate and change nothing.
func (o *Orchestrator) ApplyEndOfCallUpdate(ctx context.Context, token string, update domain.EndOfCallUpdate) (domain.UpdateResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.UpdateResult{}, apperr.Validation("call token is required")
	}

	call, err := o.store.GetCallAttemptByToken(ctx, token)
	if err != nil {
		return domain.UpdateResult{}, o.storeError("get_call", "unknown call token", err)
	}

	result, err := o.applyOnce(ctx, call, token, update)
	if errors.Is(err, domain.ErrDuplicateDelivery) {
		// a concurrent delivery won the receipt insert; read its result back
		result, err = o.applyOnce(ctx, call, token, update)
	}
	if err != nil {
		return domain.UpdateResult{}, err
	}
	if result.Duplicate {
		o.log.WithContext(ctx).Info("duplicate end-of-call update ignored", "lead_id", call.LeadID.String(), "call_id", call.ID.String())
		return result, nil
	}

	o.log.WithContext(ctx).Info("end-of-call update applied",
		"lead_id", result.LeadID.String(),
		"call_id", result.CallID.String(),
		"from", string(result.PreviousPhase),
		"to", string(result.PhaseInfo.CurrentPhase),
		"changed", len(result.ChangedFields),
		"ignored_confirmations", len(result.IgnoredConfirmations),
	)
	return result, nil
}

func (o *Orchestrator) applyOnce(ctx context.Context, call domain.CallAttempt, token string, update domain.EndOfCallUpdate) (domain.UpdateResult, error) {
	var (
		result  domain.UpdateResult
		lead    domain.Lead
		viewing *domain.PropertyViewing
	)

	err := o.store.WithinLeadTx(ctx, call.LeadID, func(tx repository.LeadTx) error {
		var err error
		lead, err = tx.LockLead(ctx)
		if err != nil {
			return err
		}

		stored, err := tx.GetReceipt(ctx, token)
		if err != nil {
			return err
		}
		if stored != nil {
			result = *stored
			result.Duplicate = true
			return errReplayed
		}

		outcome, err := lead.ApplyUpdate(update)
		if err != nil {
			return apperr.Validation(err.Error())
		}

		var created bool
		viewing, created, err = o.resolver.Resolve(ctx, tx, &lead)
		if err != nil {
			return err
		}

		previous := lead.Phase
		lead.Advance(viewing != nil)
		lead.UpdatedAt = o.now().UTC()
		if err := tx.SaveLead(ctx, lead); err != nil {
			return err
		}

		result = domain.UpdateResult{
			LeadID:               lead.ID,
			CallID:               call.ID,
			PreviousPhase:        previous,
			PhaseInfo:            domain.CheckPhaseRequirements(&lead, viewing != nil),
			ViewingCreated:       created,
			ChangedFields:        outcome.ChangedFields,
			IgnoredConfirmations: outcome.IgnoredConfirmations,
		}
		if viewing != nil {
			id := viewing.ID
			result.ViewingID = &id
		}
		return tx.SaveReceipt(ctx, token, result)
	})

	switch {
	case errors.Is(err, errReplayed):
		return result, nil
	case errors.Is(err, domain.ErrDuplicateDelivery):
		return domain.UpdateResult{}, err
	case err != nil:
		return domain.UpdateResult{}, o.storeError("apply_end_of_call", "lead not found", err)
	}

	if result.PreviousPhase != lead.Phase {
		o.log.WithContext(ctx).Info("lead phase advanced", "lead_id", lead.ID.String(), "from", string(result.PreviousPhase), "to", string(lead.Phase))
		o.publish(ctx, events.LeadPhaseChanged{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    lead.ID,
			From:      string(result.PreviousPhase),
			To:        string(lead.Phase),
		})
	}
	if result.ViewingCreated && viewing != nil {
		o.publish(ctx, viewingBooked(&lead, viewing))
	}
	return result, nil
}

func viewingBooked(lead *domain.Lead, viewing *domain.PropertyViewing) events.ViewingBooked {
	var name string
	if v, ok := lead.Fields.Value(domain.FieldName); ok {
		name = v
	}
	return events.ViewingBooked{
		BaseEvent:       events.NewBaseEvent(),
		LeadID:          lead.ID,
		ViewingID:       viewing.ID,
		LeadName:        name,
		LeadEmail:       lead.Email,
		ViewingDate:     viewing.ViewingDate,
		ViewingTime:     viewing.ViewingTime,
		PropertyAddress: viewing.PropertyAddress,
	}
}
