package leads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"lettings_backend/internal/leads/domain"
	"lettings_backend/internal/voice"
	"lettings_backend/platform/apperr"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func intakeFields() map[domain.Field]domain.FieldInput {
	return map[domain.Field]domain.FieldInput{
		domain.FieldName:       {Value: "Ada Lovelace"},
		domain.FieldBudget:     {Value: "1200"},
		domain.FieldMoveInDate: {Value: "1 July"},
		domain.FieldOccupation: {Value: "Engineer"},
		domain.FieldYearlyWage: {Value: "£48,000"},
	}
}

func createLead(t *testing.T, h *harness, fields map[domain.Field]domain.FieldInput) domain.Lead {
	t.Helper()
	lead, err := h.orch.CreateLead(context.Background(), domain.Intake{Phone: "+447400123456", Fields: fields})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	return lead
}

func placeCall(t *testing.T, h *harness, leadID uuid.UUID) domain.CallAttempt {
	t.Helper()
	call, err := h.orch.PlaceCall(context.Background(), leadID)
	if err != nil {
		t.Fatalf("place call: %v", err)
	}
	return call
}

func strPtr(s string) *string { return &s }

func bookingUpdate() domain.EndOfCallUpdate {
	return domain.EndOfCallUpdate{
		Confirm:     append([]domain.Field(nil), domain.ConfirmInfoRequired...),
		ViewingDate: strPtr("2024-06-01"),
		ViewingTime: strPtr("14:00"),
	}
}

func TestCreateLeadStartsInConfirmInfoAndPrewarms(t *testing.T) {
	h := newHarness(t)

	lead := createLead(t, h, intakeFields())

	if lead.Phase != domain.PhaseConfirmInfo {
		t.Fatalf("expected CONFIRM_INFO, got %s", lead.Phase)
	}
	if lead.Fields.Satisfaction(domain.FieldBudget) != domain.SatisfactionUnconfirmed {
		t.Fatalf("expected intake value to stay unconfirmed")
	}
	waitFor(t, func() bool { return h.pool.Stats().Ready == 1 })
	if h.bus.count("leads.lead.created") != 1 {
		t.Fatalf("expected lead created event")
	}
}

func TestCreateLeadRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.CreateLead(ctx, domain.Intake{
		Phone:  "+447400123456",
		Fields: map[domain.Field]domain.FieldInput{"shoe_size": {Value: "9"}},
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for unknown field, got %v", err)
	}

	_, err = h.orch.CreateLead(ctx, domain.Intake{
		Phone:  "+447400123456",
		Fields: map[domain.Field]domain.FieldInput{domain.FieldBudget: {Value: "lots"}},
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for bad budget, got %v", err)
	}
	if h.pool.Stats().Prewarmed != 0 {
		t.Fatalf("rejected leads must not be pre-warmed")
	}
}

func TestCreateLeadSchedulesAutomaticCall(t *testing.T) {
	h := newHarness(t)
	scheduler := &fakeScheduler{}
	h.orch.settings.AutoCall = true
	h.orch.SetCallScheduler(scheduler)

	lead := createLead(t, h, nil)

	if len(scheduler.leads) != 1 || scheduler.leads[0] != lead.ID {
		t.Fatalf("expected automatic call scheduled for lead, got %v", scheduler.leads)
	}
}

func TestPhaseInfoReportsMissingFields(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, map[domain.Field]domain.FieldInput{
		domain.FieldName:       {Value: "Ada", Confirmed: true},
		domain.FieldBudget:     {Value: "1200", Confirmed: true},
		domain.FieldMoveInDate: {Value: "1 July", Confirmed: true},
	})

	info, err := h.orch.PhaseInfo(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("phase info: %v", err)
	}
	if info.CanProgress {
		t.Fatalf("expected lead to be blocked")
	}
	if len(info.MissingFields) != 2 || info.MissingFields[0] != domain.FieldOccupation || info.MissingFields[1] != domain.FieldYearlyWage {
		t.Fatalf("unexpected missing fields %v", info.MissingFields)
	}
	if len(info.UnconfirmedFields) != 0 {
		t.Fatalf("unexpected unconfirmed fields %v", info.UnconfirmedFields)
	}

	if _, err := h.orch.PhaseInfo(context.Background(), uuid.New()); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for unknown lead, got %v", err)
	}
}

func TestEndOfCallUpdateBooksViewing(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	call := placeCall(t, h, lead.ID)

	result, err := h.orch.ApplyEndOfCallUpdate(context.Background(), call.IdempotencyToken, bookingUpdate())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if result.PreviousPhase != domain.PhaseConfirmInfo {
		t.Fatalf("expected previous phase CONFIRM_INFO, got %s", result.PreviousPhase)
	}
	if result.PhaseInfo.CurrentPhase != domain.PhaseViewingBooked {
		t.Fatalf("expected VIEWING_BOOKED, got %s", result.PhaseInfo.CurrentPhase)
	}
	if !result.ViewingCreated || result.ViewingID == nil {
		t.Fatalf("expected viewing to be created")
	}

	viewing, err := h.orch.GetViewing(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("get viewing: %v", err)
	}
	if viewing.Status != domain.ViewingStatusScheduled || viewing.ViewingTime != "14:00" {
		t.Fatalf("unexpected viewing %+v", viewing)
	}
	if h.bus.count("leads.phase.changed") != 1 || h.bus.count("leads.viewing.booked") != 1 {
		t.Fatalf("expected one phase change and one booking event")
	}
}

func TestEndOfCallUpdateStopsAtBookingWithoutViewing(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	call := placeCall(t, h, lead.ID)

	result, err := h.orch.ApplyEndOfCallUpdate(context.Background(), call.IdempotencyToken, domain.EndOfCallUpdate{
		Confirm: domain.ConfirmInfoRequired,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.PhaseInfo.CurrentPhase != domain.PhaseBookingViewing {
		t.Fatalf("expected BOOKING_VIEWING, got %s", result.PhaseInfo.CurrentPhase)
	}
	if len(result.PhaseInfo.MissingFields) != 2 {
		t.Fatalf("expected viewing date and time reported missing, got %v", result.PhaseInfo.MissingFields)
	}
	if h.store.viewingCount() != 0 {
		t.Fatalf("expected no viewing")
	}
}

func TestEndOfCallUpdateDuplicateDelivery(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	call := placeCall(t, h, lead.ID)
	ctx := context.Background()

	first, err := h.orch.ApplyEndOfCallUpdate(ctx, call.IdempotencyToken, bookingUpdate())
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}

	// a redelivery carrying different data must still change nothing
	replay := bookingUpdate()
	replay.ViewingTime = strPtr("18:00")
	second, err := h.orch.ApplyEndOfCallUpdate(ctx, call.IdempotencyToken, replay)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if first.Duplicate || !second.Duplicate {
		t.Fatalf("expected only the redelivery to be marked duplicate")
	}
	if *second.ViewingID != *first.ViewingID || second.PhaseInfo.CurrentPhase != first.PhaseInfo.CurrentPhase {
		t.Fatalf("expected stored result to be returned")
	}
	viewing, _ := h.orch.GetViewing(ctx, lead.ID)
	if viewing.ViewingTime != "14:00" {
		t.Fatalf("duplicate delivery mutated the viewing")
	}
	if h.store.viewingCount() != 1 || h.bus.count("leads.phase.changed") != 1 {
		t.Fatalf("duplicate delivery had side effects")
	}
}

func TestEndOfCallUpdateConcurrentDeliveries(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	call := placeCall(t, h, lead.ID)

	const deliveries = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		applied    int
		duplicates int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.orch.ApplyEndOfCallUpdate(context.Background(), call.IdempotencyToken, bookingUpdate())
			if err != nil {
				t.Errorf("apply: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result.Duplicate {
				duplicates++
			} else {
				applied++
			}
		}()
	}
	wg.Wait()

	if applied != 1 || duplicates != deliveries-1 {
		t.Fatalf("expected exactly one applied delivery, got %d applied %d duplicates", applied, duplicates)
	}
	if h.store.viewingCount() != 1 {
		t.Fatalf("expected exactly one viewing")
	}
}

func TestEndOfCallUpdateUnknownToken(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ApplyEndOfCallUpdate(context.Background(), uuid.NewString(), bookingUpdate())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEndOfCallUpdateIgnoresConfirmationOfAbsentField(t *testing.T) {
	h := newHarness(t)
	fields := intakeFields()
	delete(fields, domain.FieldOccupation)
	lead := createLead(t, h, fields)
	call := placeCall(t, h, lead.ID)

	result, err := h.orch.ApplyEndOfCallUpdate(context.Background(), call.IdempotencyToken, domain.EndOfCallUpdate{
		Confirm: domain.ConfirmInfoRequired,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(result.IgnoredConfirmations) != 1 || result.IgnoredConfirmations[0] != domain.FieldOccupation {
		t.Fatalf("expected occupation confirmation ignored, got %v", result.IgnoredConfirmations)
	}
	if result.PhaseInfo.CurrentPhase != domain.PhaseConfirmInfo {
		t.Fatalf("expected lead to stay in CONFIRM_INFO, got %s", result.PhaseInfo.CurrentPhase)
	}
	if len(result.PhaseInfo.MissingFields) != 1 || result.PhaseInfo.MissingFields[0] != domain.FieldOccupation {
		t.Fatalf("expected occupation missing, got %v", result.PhaseInfo.MissingFields)
	}
}

func TestEndOfCallUpdateValueThenConfirm(t *testing.T) {
	h := newHarness(t)
	fields := intakeFields()
	delete(fields, domain.FieldOccupation)
	lead := createLead(t, h, fields)
	call := placeCall(t, h, lead.ID)

	result, err := h.orch.ApplyEndOfCallUpdate(context.Background(), call.IdempotencyToken, domain.EndOfCallUpdate{
		Confirm: domain.ConfirmInfoRequired,
		Values:  map[domain.Field]string{domain.FieldOccupation: "Nurse"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(result.IgnoredConfirmations) != 0 {
		t.Fatalf("expected supplied value to be confirmable, ignored %v", result.IgnoredConfirmations)
	}
	if result.PhaseInfo.CurrentPhase != domain.PhaseBookingViewing {
		t.Fatalf("expected BOOKING_VIEWING, got %s", result.PhaseInfo.CurrentPhase)
	}
}

func TestEndOfCallUpdateRejectedValueLeavesTokenUnconsumed(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	call := placeCall(t, h, lead.ID)
	ctx := context.Background()

	_, err := h.orch.ApplyEndOfCallUpdate(ctx, call.IdempotencyToken, domain.EndOfCallUpdate{
		Confirm: domain.ConfirmInfoRequired,
		Values:  map[domain.Field]string{domain.FieldBudget: "lots"},
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	stored, _ := h.orch.GetLead(ctx, lead.ID)
	if stored.Phase != domain.PhaseConfirmInfo || stored.Fields.Satisfaction(domain.FieldName) != domain.SatisfactionUnconfirmed {
		t.Fatalf("rejected update was partially applied")
	}

	result, err := h.orch.ApplyEndOfCallUpdate(ctx, call.IdempotencyToken, bookingUpdate())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Duplicate {
		t.Fatalf("expected token to be consumable after a rejected update")
	}
}

func TestUpdateAfterViewingBookedKeepsViewing(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	ctx := context.Background()

	first := placeCall(t, h, lead.ID)
	booked, err := h.orch.ApplyEndOfCallUpdate(ctx, first.IdempotencyToken, bookingUpdate())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := h.orch.HandleCallStatus(ctx, first.ID, domain.CallEventFailed, "no-answer", nil); err != nil {
		t.Fatalf("status: %v", err)
	}

	second := placeCall(t, h, lead.ID)
	update := bookingUpdate()
	update.ViewingDate = strPtr("2024-07-01")
	result, err := h.orch.ApplyEndOfCallUpdate(ctx, second.IdempotencyToken, update)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if result.ViewingCreated || *result.ViewingID != *booked.ViewingID {
		t.Fatalf("expected the existing viewing to be kept")
	}
	if result.PhaseInfo.CurrentPhase != domain.PhaseViewingBooked {
		t.Fatalf("expected phase to stay VIEWING_BOOKED")
	}
}

func TestAnsweredCallClaimsPrewarmedSession(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	waitFor(t, func() bool { return h.pool.Stats().Ready == 1 })
	ctx := context.Background()

	call := placeCall(t, h, lead.ID)
	if _, err := h.orch.HandleCallStatus(ctx, call.ID, domain.CallEventAnswered, "in-progress", nil); err != nil {
		t.Fatalf("answered: %v", err)
	}

	session, err := h.orch.AttachCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if session.LeadID != lead.ID {
		t.Fatalf("session belongs to another lead")
	}
	if h.dialer.dials() != 1 {
		t.Fatalf("expected the pre-warmed session to be reused, got %d dials", h.dialer.dials())
	}

	stored, _ := h.orch.GetCall(ctx, call.ID)
	if stored.SessionSource == nil || *stored.SessionSource != SessionSourcePrewarmed {
		t.Fatalf("expected prewarmed session source, got %v", stored.SessionSource)
	}
	if stored.ConversationID == nil || *stored.ConversationID != session.Conn().ConversationID() {
		t.Fatalf("expected conversation id recorded")
	}

	if _, err := h.orch.HandleCallStatus(ctx, call.ID, domain.CallEventCompleted, "completed", nil); err != nil {
		t.Fatalf("completed: %v", err)
	}
	conn := session.Conn().(*fakeConn)
	waitFor(t, conn.isClosed)
	if h.orch.activeHandoffs() != 0 {
		t.Fatalf("expected handoff to be released")
	}
}

func TestAnsweredCallFallsBackWhenPrewarmFailed(t *testing.T) {
	h := newHarness(t)
	h.dialer.failNext = 2
	lead := createLead(t, h, intakeFields())
	waitFor(t, func() bool { return h.pool.Stats().Expired == 1 })
	ctx := context.Background()

	call := placeCall(t, h, lead.ID)
	waitFor(t, func() bool { return h.pool.Stats().Expired == 2 })

	if _, err := h.orch.HandleCallStatus(ctx, call.ID, domain.CallEventAnswered, "in-progress", nil); err != nil {
		t.Fatalf("answered: %v", err)
	}
	session, err := h.orch.AttachCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if session == nil || h.dialer.dials() != 3 {
		t.Fatalf("expected a synchronous fallback dial, got %d dials", h.dialer.dials())
	}

	stored, _ := h.orch.GetCall(ctx, call.ID)
	if stored.SessionSource == nil || *stored.SessionSource != SessionSourceFallback {
		t.Fatalf("expected fallback session source")
	}
	if h.pool.Stats().Fallbacks != 1 {
		t.Fatalf("expected one fallback")
	}
}

func TestMediaStreamBeforeStatusCallbackStartsHandoff(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	waitFor(t, func() bool { return h.pool.Stats().Ready == 1 })
	ctx := context.Background()

	call := placeCall(t, h, lead.ID)
	session, err := h.orch.AttachCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	// the late answered callback must reuse the same handoff
	if _, err := h.orch.HandleCallStatus(ctx, call.ID, domain.CallEventAnswered, "in-progress", nil); err != nil {
		t.Fatalf("answered: %v", err)
	}
	again, err := h.orch.AttachCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if again.ID != session.ID || h.dialer.dials() != 1 {
		t.Fatalf("expected a single session for the call")
	}
}

func TestCallEndedBeforeAnswerCancelsSession(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	waitFor(t, func() bool { return h.pool.Stats().Ready == 1 })
	ctx := context.Background()

	call := placeCall(t, h, lead.ID)
	updated, err := h.orch.HandleCallStatus(ctx, call.ID, domain.CallEventFailed, "no-answer", nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if updated.Status != domain.CallTerminated {
		t.Fatalf("expected terminated, got %s", updated.Status)
	}
	if h.pool.Stats().Ready != 0 {
		t.Fatalf("expected pre-warmed session to be cancelled")
	}
	if !h.dialer.conns[0].isClosed() {
		t.Fatalf("expected agent conversation to be closed")
	}
	history := h.store.statusHistory(call.ID)
	if history[len(history)-1] != "terminated:no-answer" {
		t.Fatalf("expected raw provider status in history, got %v", history)
	}
}

func TestCallStatusIgnoresStaleEvents(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	ctx := context.Background()
	call := placeCall(t, h, lead.ID)

	if _, err := h.orch.HandleCallStatus(ctx, call.ID, domain.CallEventAnswered, "in-progress", nil); err != nil {
		t.Fatalf("answered: %v", err)
	}
	stale, err := h.orch.HandleCallStatus(ctx, call.ID, domain.CallEventRinging, "ringing", nil)
	if err != nil {
		t.Fatalf("stale ringing: %v", err)
	}
	if stale.Status != domain.CallAnswered {
		t.Fatalf("stale event regressed status to %s", stale.Status)
	}
	if h.bus.count("calls.status.changed") != 1 {
		t.Fatalf("stale event must not be published")
	}

	duration := 42
	done, err := h.orch.HandleCallStatus(ctx, call.ID, domain.CallEventCompleted, "completed", &duration)
	if err != nil {
		t.Fatalf("completed: %v", err)
	}
	if done.Status != domain.CallCompleted || done.DurationSeconds == nil || *done.DurationSeconds != 42 {
		t.Fatalf("unexpected final call %+v", done)
	}

	_, err = h.orch.HandleCallStatus(ctx, call.ID, domain.CallEventRinging, "ringing", nil)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on finished call, got %v", err)
	}
}

func TestAttachCallRejectsEndedCall(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	ctx := context.Background()
	call := placeCall(t, h, lead.ID)

	if _, err := h.orch.HandleCallStatus(ctx, call.ID, domain.CallEventFailed, "busy", nil); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := h.orch.AttachCall(ctx, call.ID); !apperr.Is(err, apperr.KindGone) {
		t.Fatalf("expected gone, got %v", err)
	}
}

func TestPlaceCallRejectsWhileCallInProgress(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	placeCall(t, h, lead.ID)

	_, err := h.orch.PlaceCall(context.Background(), lead.ID)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPlaceCallDialFailureTerminatesCall(t *testing.T) {
	h := newHarness(t)
	h.placer.err = errors.New("provider down")
	lead := createLead(t, h, intakeFields())
	ctx := context.Background()

	_, err := h.orch.PlaceCall(ctx, lead.ID)
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}

	calls, _ := h.orch.ListCalls(ctx, lead.ID)
	if len(calls) != 1 || calls[0].Status != domain.CallTerminated {
		t.Fatalf("expected a terminated call attempt, got %+v", calls)
	}
}

func TestPlaceCallWithoutTelephony(t *testing.T) {
	h := newHarness(t)
	h.orch.SetCallPlacer(nil)
	lead := createLead(t, h, nil)

	if _, err := h.orch.PlaceCall(context.Background(), lead.ID); !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestPlaceScheduledCallSkipsCalledLead(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	ctx := context.Background()

	if err := h.orch.PlaceScheduledCall(ctx, lead.ID); err != nil {
		t.Fatalf("first scheduled call: %v", err)
	}
	if err := h.orch.PlaceScheduledCall(ctx, lead.ID); err != nil {
		t.Fatalf("second scheduled call: %v", err)
	}
	if len(h.placer.placed) != 1 {
		t.Fatalf("expected a single placed call, got %d", len(h.placer.placed))
	}
}

func postCallPayload(conversationID, token string) voice.PostCallPayload {
	payload := voice.PostCallPayload{Type: PostCallTranscription}
	payload.Data.ConversationID = conversationID
	payload.Data.Transcript = []voice.TranscriptTurn{
		{Role: "agent", Message: "Can I confirm your budget is 1200?"},
		{Role: "user", Message: "Yes that's right."},
	}
	payload.Data.Metadata.CallDurationSecs = 95
	if token != "" {
		payload.Data.ConversationInitiationClientData.DynamicVariables = map[string]any{"call_token": token}
	}
	return payload
}

func TestHandlePostCallArchivesAndApplies(t *testing.T) {
	h := newHarness(t)
	archive := &fakeArchive{}
	analyzer := &fakeAnalyzer{update: bookingUpdate()}
	h.orch.SetTranscriptArchive(archive)
	h.orch.SetTranscriptAnalyzer(analyzer)

	lead := createLead(t, h, intakeFields())
	call := placeCall(t, h, lead.ID)
	ctx := context.Background()

	result, err := h.orch.HandlePostCall(ctx, postCallPayload("conv_1", call.IdempotencyToken))
	if err != nil {
		t.Fatalf("post call: %v", err)
	}
	if result == nil || result.PhaseInfo.CurrentPhase != domain.PhaseViewingBooked {
		t.Fatalf("expected analyzed update to book the viewing, got %+v", result)
	}

	stored, _ := h.orch.GetCall(ctx, call.ID)
	if stored.TranscriptKey == nil || *stored.TranscriptKey != archive.keys[call.ID] {
		t.Fatalf("expected transcript key recorded")
	}
	if stored.DurationSeconds == nil || *stored.DurationSeconds != 95 {
		t.Fatalf("expected duration recorded")
	}
	if h.bus.count("calls.transcript.archived") != 1 {
		t.Fatalf("expected transcript archived event")
	}
}

func TestHandlePostCallMatchesConversationID(t *testing.T) {
	h := newHarness(t)
	h.orch.SetTranscriptArchive(&fakeArchive{})
	lead := createLead(t, h, intakeFields())
	waitFor(t, func() bool { return h.pool.Stats().Ready == 1 })
	ctx := context.Background()

	call := placeCall(t, h, lead.ID)
	session, err := h.orch.AttachCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	result, err := h.orch.HandlePostCall(ctx, postCallPayload(session.Conn().ConversationID(), ""))
	if err != nil {
		t.Fatalf("post call: %v", err)
	}
	if result != nil {
		t.Fatalf("expected no update without an analyzer")
	}
	stored, _ := h.orch.GetCall(ctx, call.ID)
	if stored.TranscriptKey == nil {
		t.Fatalf("expected transcript archived for the matched call")
	}
}

func TestHandlePostCallUnknownConversation(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.HandlePostCall(context.Background(), postCallPayload("conv_unknown", ""))
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	result, err := h.orch.HandlePostCall(context.Background(), voice.PostCallPayload{Type: "post_call_audio"})
	if err != nil || result != nil {
		t.Fatalf("expected other webhook types to be ignored")
	}
}

func TestDeleteLeadHangsUpLiveCalls(t *testing.T) {
	h := newHarness(t)
	lead := createLead(t, h, intakeFields())
	waitFor(t, func() bool { return h.pool.Stats().Ready == 1 })
	ctx := context.Background()
	call := placeCall(t, h, lead.ID)

	if err := h.orch.DeleteLead(ctx, lead.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(h.placer.hangups) != 1 || h.placer.hangups[0] != *call.ProviderCallSID {
		t.Fatalf("expected live call hung up, got %v", h.placer.hangups)
	}
	if h.pool.Stats().Ready != 0 {
		t.Fatalf("expected pre-warmed session cancelled")
	}
	if _, err := h.orch.GetLead(ctx, lead.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected lead gone, got %v", err)
	}
}
