package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lettings_backend/internal/events"
	"lettings_backend/internal/leads/booking"
	"lettings_backend/internal/leads/domain"
	"lettings_backend/internal/leads/ports"
	"lettings_backend/internal/leads/repository"
	"lettings_backend/internal/voice"
	"lettings_backend/platform/apperr"
	"lettings_backend/platform/logger"
)

const (
	defaultHandoffTimeout = 15 * time.Second
	// handoffs nobody finished are released after this long
	handoffRetention = 2 * time.Hour
)

// Settings tunes orchestrator behaviour.
type Settings struct {
	AutoCall       bool
	AutoCallDelay  time.Duration
	HandoffTimeout time.Duration
}

// Orchestrator is the only writer of lead state. It wires lead creation,
// session pre-warming, call handoff and end-of-call updates together.
type Orchestrator struct {
	store    repository.Store
	pool     ports.SessionPool
	persona  ports.SessionContextBuilder
	resolver *booking.Resolver
	eventBus events.Bus
	log      *logger.Logger
	settings Settings
	now      func() time.Time

	calls     ports.CallPlacer
	contexts  ports.SessionContextStore
	scheduler ports.CallScheduler
	archive   ports.TranscriptArchive
	analyzer  ports.TranscriptAnalyzer

	handoffMu sync.Mutex
	handoffs  map[uuid.UUID]*handoff
}

func NewOrchestrator(store repository.Store, pool ports.SessionPool, persona ports.SessionContextBuilder, eventBus events.Bus, settings Settings, log *logger.Logger) *Orchestrator {
	if settings.HandoffTimeout <= 0 {
		settings.HandoffTimeout = defaultHandoffTimeout
	}
	return &Orchestrator{
		store:    store,
		pool:     pool,
		persona:  persona,
		resolver: booking.NewResolver(isNotFound),
		eventBus: eventBus,
		log:      log,
		settings: settings,
		now:      time.Now,
		handoffs: make(map[uuid.UUID]*handoff),
	}
}

// SetCallPlacer enables outbound calling.
func (o *Orchestrator) SetCallPlacer(calls ports.CallPlacer) { o.calls = calls }

// SetSessionContextStore enables the personalization lookup by call.
func (o *Orchestrator) SetSessionContextStore(store ports.SessionContextStore) { o.contexts = store }

// SetCallScheduler enables the automatic first call after lead creation.
func (o *Orchestrator) SetCallScheduler(s ports.CallScheduler) { o.scheduler = s }

// SetTranscriptArchive enables transcript archiving on post-call webhooks.
func (o *Orchestrator) SetTranscriptArchive(a ports.TranscriptArchive) { o.archive = a }

// SetTranscriptAnalyzer enables transcript analysis on post-call webhooks.
func (o *Orchestrator) SetTranscriptAnalyzer(a ports.TranscriptAnalyzer) { o.analyzer = a }

// CreateLead persists a new lead in CONFIRM_INFO and requests a pre-warmed
// session for it. Pre-warm failures never fail lead creation.
func (o *Orchestrator) CreateLead(ctx context.Context, in domain.Intake) (domain.Lead, error) {
	lead := domain.NewLead(uuid.New(), in.Phone, o.now().UTC())
	lead.Email = in.Email
	lead.Postcode = in.Postcode
	lead.PropertyAddress = in.PropertyAddress

	for f := range in.Fields {
		if !f.IsTracked() {
			return domain.Lead{}, apperr.Validation(fmt.Sprintf("unknown field %q", f))
		}
	}
	for _, f := range domain.TrackedFields {
		input, ok := in.Fields[f]
		if !ok || strings.TrimSpace(input.Value) == "" {
			continue
		}
		var err error
		if input.Confirmed {
			err = lead.Fields.SetValue(f, input.Value)
		} else {
			err = lead.Fields.Seed(f, input.Value)
		}
		if err != nil {
			return domain.Lead{}, apperr.Validation(err.Error())
		}
	}

	if err := lead.Begin(); err != nil {
		return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "failed to start lead lifecycle", err)
	}

	if err := o.store.CreateLead(ctx, lead); err != nil {
		o.log.DatabaseError("create_lead", err)
		return domain.Lead{}, apperr.Wrap(apperr.KindUnavailable, "failed to create lead", err)
	}

	o.log.WithContext(ctx).Info("lead created", "lead_id", lead.ID.String(), "phase", string(lead.Phase))
	o.publish(ctx, events.LeadCreated{BaseEvent: events.NewBaseEvent(), LeadID: lead.ID, Phone: lead.Phone})

	o.prewarm(ctx, &lead, "")
	o.scheduleAutoCall(ctx, lead.ID)

	return lead, nil
}

func (o *Orchestrator) prewarm(ctx context.Context, lead *domain.Lead, callToken string) {
	if o.pool == nil {
		return
	}
	sc, err := o.persona.BuildSessionContext(lead, callToken)
	if err != nil {
		o.log.WithContext(ctx).Warn("cannot build session context for prewarm", "lead_id", lead.ID.String(), "error", err)
		return
	}
	o.pool.Prewarm(sc)
}

func (o *Orchestrator) scheduleAutoCall(ctx context.Context, leadID uuid.UUID) {
	if !o.settings.AutoCall || o.scheduler == nil {
		return
	}
	runAt := o.now().Add(o.settings.AutoCallDelay)
	if err := o.scheduler.ScheduleLeadCall(ctx, leadID, runAt); err != nil {
		o.log.WithContext(ctx).Warn("failed to schedule automatic call", "lead_id", leadID.String(), "error", err)
	}
}

// GetLead returns a lead by id.
func (o *Orchestrator) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := o.store.GetLead(ctx, id)
	if err != nil {
		return domain.Lead{}, o.storeError("get_lead", "lead not found", err)
	}
	return lead, nil
}

// GetViewing returns the lead's booked viewing.
func (o *Orchestrator) GetViewing(ctx context.Context, leadID uuid.UUID) (domain.PropertyViewing, error) {
	viewing, err := o.store.GetViewingByLead(ctx, leadID)
	if err != nil {
		return domain.PropertyViewing{}, o.storeError("get_viewing", "viewing not found", err)
	}
	return viewing, nil
}

// PhaseInfo reports whether the lead can leave its current phase and what is missing.
func (o *Orchestrator) PhaseInfo(ctx context.Context, leadID uuid.UUID) (domain.PhaseInfo, error) {
	lead, err := o.GetLead(ctx, leadID)
	if err != nil {
		return domain.PhaseInfo{}, err
	}
	hasViewing, err := o.hasViewing(ctx, leadID)
	if err != nil {
		return domain.PhaseInfo{}, err
	}
	return domain.CheckPhaseRequirements(&lead, hasViewing), nil
}

func (o *Orchestrator) hasViewing(ctx context.Context, leadID uuid.UUID) (bool, error) {
	_, err := o.store.GetViewingByLead(ctx, leadID)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, o.storeError("get_viewing", "", err)
	}
}

// ListCalls returns the lead's call attempts, newest first.
func (o *Orchestrator) ListCalls(ctx context.Context, leadID uuid.UUID) ([]domain.CallAttempt, error) {
	if _, err := o.GetLead(ctx, leadID); err != nil {
		return nil, err
	}
	calls, err := o.store.ListCallsByLead(ctx, leadID)
	if err != nil {
		return nil, o.storeError("list_calls", "", err)
	}
	return calls, nil
}

// CancelSession tears down the lead's warming or ready session. It reports
// whether a session was cancelled.
func (o *Orchestrator) CancelSession(ctx context.Context, leadID uuid.UUID) (bool, error) {
	if _, err := o.GetLead(ctx, leadID); err != nil {
		return false, err
	}
	if o.pool == nil {
		return false, nil
	}
	return o.pool.Cancel(leadID), nil
}

// DeleteLead cancels any pre-warmed session, hangs up live calls and removes the lead.
func (o *Orchestrator) DeleteLead(ctx context.Context, leadID uuid.UUID) error {
	calls, err := o.ListCalls(ctx, leadID)
	if err != nil {
		return err
	}

	if o.pool != nil {
		o.pool.Cancel(leadID)
	}
	for _, call := range calls {
		if call.Status.IsFinal() {
			continue
		}
		o.finishHandoff(call.ID)
		if o.calls != nil && call.ProviderCallSID != nil {
			if err := o.calls.Hangup(ctx, *call.ProviderCallSID); err != nil {
				o.log.WithContext(ctx).Warn("hangup on lead delete failed", "call_id", call.ID.String(), "error", err)
			}
		}
	}

	if err := o.store.DeleteLead(ctx, leadID); err != nil {
		return o.storeError("delete_lead", "lead not found", err)
	}
	o.log.WithContext(ctx).Info("lead deleted", "lead_id", leadID.String())
	return nil
}

// SessionContextForProviderCall returns the agent context for a call known by
// its provider SID. The cached context is preferred; it is rebuilt from the
// lead when it has expired.
func (o *Orchestrator) SessionContextForProviderCall(ctx context.Context, callSID string) (voice.SessionContext, error) {
	call, err := o.store.GetCallAttemptByProviderSID(ctx, callSID)
	if err != nil {
		return voice.SessionContext{}, o.storeError("get_call", "call not found", err)
	}
	return o.sessionContextFor(ctx, call)
}

func (o *Orchestrator) sessionContextFor(ctx context.Context, call domain.CallAttempt) (voice.SessionContext, error) {
	if o.contexts != nil {
		sc, err := o.contexts.Get(ctx, call.ID)
		if err == nil {
			return sc, nil
		}
		if !errors.Is(err, voice.ErrContextNotFound) {
			o.log.WithContext(ctx).Warn("session context lookup failed", "call_id", call.ID.String(), "error", err)
		}
	}

	lead, err := o.GetLead(ctx, call.LeadID)
	if err != nil {
		return voice.SessionContext{}, err
	}
	sc, err := o.persona.BuildSessionContext(&lead, call.IdempotencyToken)
	if err != nil {
		return voice.SessionContext{}, apperr.Wrap(apperr.KindInternal, "failed to build session context", err)
	}
	return sc, nil
}

func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if o.eventBus == nil {
		return
	}
	o.eventBus.Publish(ctx, event)
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

// storeError maps repository failures onto apperr kinds.
func (o *Orchestrator) storeError(op, notFoundMessage string, err error) error {
	if isNotFound(err) && notFoundMessage != "" {
		return apperr.NotFound(notFoundMessage)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	o.log.DatabaseError(op, err)
	return apperr.Wrap(apperr.KindUnavailable, "storage unavailable", err).WithOp(op)
}
