package leads

import (
	"context"
	"strings"

	"lettings_backend/internal/events"
	"lettings_backend/internal/leads/domain"
	"lettings_backend/internal/voice"
	"lettings_backend/platform/apperr"
)

// PostCallTranscription is the only post-call webhook type that is processed.
const PostCallTranscription = "post_call_transcription"

// HandlePostCall archives the transcript of a finished conversation and, when
// an analyzer is configured, applies the update it extracts. The update uses
// the call's token, so it is a duplicate if the agent already reported one.
// A nil result means nothing was applied.
func (o *Orchestrator) HandlePostCall(ctx context.Context, payload voice.PostCallPayload) (*domain.UpdateResult, error) {
	if payload.Type != PostCallTranscription {
		o.log.WithContext(ctx).Debug("post-call webhook ignored", "type", payload.Type)
		return nil, nil
	}

	call, err := o.callForConversation(ctx, payload.Data)
	if err != nil {
		return nil, err
	}
	log := o.log.WithContext(ctx).WithLeadID(call.LeadID.String())

	transcript := payload.Data.TranscriptText()
	var transcriptKey *string
	if o.archive != nil && strings.TrimSpace(transcript) != "" {
		key, err := o.archive.Archive(ctx, call.LeadID, call.ID, transcript)
		if err != nil {
			log.Error("transcript archive failed", "call_id", call.ID.String(), "error", err)
		} else {
			transcriptKey = &key
		}
	}

	conversationID := strings.TrimSpace(payload.Data.ConversationID)
	duration := payload.Data.Metadata.CallDurationSecs
	call, err = o.store.MutateCallAttempt(ctx, call.ID, "", func(c *domain.CallAttempt) error {
		if transcriptKey != nil {
			c.TranscriptKey = transcriptKey
		}
		if conversationID != "" && c.ConversationID == nil {
			c.ConversationID = &conversationID
		}
		if duration > 0 && c.DurationSeconds == nil {
			d := duration
			c.DurationSeconds = &d
		}
		return nil
	})
	if err != nil {
		return nil, o.storeError("update_call", "call not found", err)
	}

	if transcriptKey != nil {
		log.Info("transcript archived", "call_id", call.ID.String(), "key", *transcriptKey)
		o.publish(ctx, events.TranscriptArchived{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    call.LeadID,
			CallID:    call.ID,
			FileKey:   *transcriptKey,
		})
	}

	if o.analyzer == nil || strings.TrimSpace(transcript) == "" {
		return nil, nil
	}

	lead, err := o.GetLead(ctx, call.LeadID)
	if err != nil {
		return nil, err
	}
	update, err := o.analyzer.Analyze(ctx, &lead, transcript)
	if err != nil {
		log.Error("transcript analysis failed", "call_id", call.ID.String(), "error", err)
		return nil, apperr.Wrap(apperr.KindUnavailable, "transcript analysis failed", err)
	}
	if update.IsEmpty() {
		log.Info("transcript analysis found nothing to apply", "call_id", call.ID.String())
		return nil, nil
	}

	result, err := o.ApplyEndOfCallUpdate(ctx, call.IdempotencyToken, update)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// callForConversation finds the call by the token the conversation was
// started with, then by the conversation id recorded at handoff.
func (o *Orchestrator) callForConversation(ctx context.Context, data voice.PostCallData) (domain.CallAttempt, error) {
	if token := data.Variable("call_token"); token != "" {
		call, err := o.store.GetCallAttemptByToken(ctx, token)
		if err == nil {
			return call, nil
		}
		if !isNotFound(err) {
			return domain.CallAttempt{}, o.storeError("get_call", "", err)
		}
	}

	if id := strings.TrimSpace(data.ConversationID); id != "" {
		call, err := o.store.GetCallAttemptByConversationID(ctx, id)
		if err == nil {
			return call, nil
		}
		if !isNotFound(err) {
			return domain.CallAttempt{}, o.storeError("get_call", "", err)
		}
	}
	return domain.CallAttempt{}, apperr.NotFound("no call matches the conversation")
}

