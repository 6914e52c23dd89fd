package leads

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"lettings_backend/internal/events"
	"lettings_backend/internal/leads/domain"
	"lettings_backend/internal/leads/repository"
	"lettings_backend/internal/sessions"
	"lettings_backend/internal/telephony"
	"lettings_backend/internal/voice"
	"lettings_backend/platform/logger"
)

// memStore is an in-memory repository.Store. Lead transactions hold a per-lead
// mutex and stage their writes until fn returns nil.
type memStore struct {
	mu        sync.Mutex
	leadLocks map[uuid.UUID]*sync.Mutex
	leads     map[uuid.UUID]domain.Lead
	viewings  map[uuid.UUID]domain.PropertyViewing
	calls     map[uuid.UUID]domain.CallAttempt
	receipts  map[string]domain.UpdateResult
	history   map[uuid.UUID][]string
}

var _ repository.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		leadLocks: make(map[uuid.UUID]*sync.Mutex),
		leads:     make(map[uuid.UUID]domain.Lead),
		viewings:  make(map[uuid.UUID]domain.PropertyViewing),
		calls:     make(map[uuid.UUID]domain.CallAttempt),
		receipts:  make(map[string]domain.UpdateResult),
		history:   make(map[uuid.UUID][]string),
	}
}

func cloneLead(l domain.Lead) domain.Lead {
	l.Fields = l.Fields.Clone()
	return l
}

func (s *memStore) CreateLead(_ context.Context, lead domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.ID] = cloneLead(lead)
	return nil
}

func (s *memStore) GetLead(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, repository.ErrNotFound
	}
	return cloneLead(lead), nil
}

func (s *memStore) DeleteLead(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.leads, id)
	delete(s.viewings, id)
	for callID, call := range s.calls {
		if call.LeadID == id {
			delete(s.calls, callID)
		}
	}
	return nil
}

func (s *memStore) GetViewingByLead(_ context.Context, leadID uuid.UUID) (domain.PropertyViewing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.viewings[leadID]
	if !ok {
		return domain.PropertyViewing{}, repository.ErrNotFound
	}
	return v, nil
}

func (s *memStore) CreateCallAttempt(_ context.Context, call domain.CallAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.ID] = call
	s.history[call.ID] = append(s.history[call.ID], string(call.Status))
	return nil
}

func (s *memStore) GetCallAttempt(_ context.Context, id uuid.UUID) (domain.CallAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	if !ok {
		return domain.CallAttempt{}, repository.ErrNotFound
	}
	return call, nil
}

func (s *memStore) findCall(match func(domain.CallAttempt) bool) (domain.CallAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, call := range s.calls {
		if match(call) {
			return call, nil
		}
	}
	return domain.CallAttempt{}, repository.ErrNotFound
}

func (s *memStore) GetCallAttemptByProviderSID(_ context.Context, sid string) (domain.CallAttempt, error) {
	return s.findCall(func(c domain.CallAttempt) bool { return c.ProviderCallSID != nil && *c.ProviderCallSID == sid })
}

func (s *memStore) GetCallAttemptByToken(_ context.Context, token string) (domain.CallAttempt, error) {
	return s.findCall(func(c domain.CallAttempt) bool { return c.IdempotencyToken == token })
}

func (s *memStore) GetCallAttemptByConversationID(_ context.Context, id string) (domain.CallAttempt, error) {
	return s.findCall(func(c domain.CallAttempt) bool { return c.ConversationID != nil && *c.ConversationID == id })
}

func (s *memStore) MutateCallAttempt(_ context.Context, id uuid.UUID, rawStatus string, fn func(*domain.CallAttempt) error) (domain.CallAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	if !ok {
		return domain.CallAttempt{}, repository.ErrNotFound
	}
	before := call.Status
	working := call
	if err := fn(&working); err != nil {
		return call, err
	}
	working.UpdatedAt = time.Now().UTC()
	s.calls[id] = working
	if working.Status != before {
		s.history[id] = append(s.history[id], string(working.Status)+":"+rawStatus)
	}
	return working, nil
}

func (s *memStore) ListCallsByLead(_ context.Context, leadID uuid.UUID) ([]domain.CallAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.CallAttempt{}
	for _, call := range s.calls {
		if call.LeadID == leadID {
			out = append(out, call)
		}
	}
	return out, nil
}

func (s *memStore) ExpireStaleCalls(_ context.Context, cutoff time.Time) ([]domain.CallAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CallAttempt
	for id, call := range s.calls {
		if call.Status.IsFinal() || !call.UpdatedAt.Before(cutoff) {
			continue
		}
		next, _, _ := call.Status.Apply(domain.CallEventFailed)
		call.Status = next
		s.calls[id] = call
		out = append(out, call)
	}
	return out, nil
}

func (s *memStore) lockFor(leadID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leadLocks[leadID]
	if !ok {
		l = &sync.Mutex{}
		s.leadLocks[leadID] = l
	}
	return l
}

func (s *memStore) WithinLeadTx(ctx context.Context, leadID uuid.UUID, fn func(tx repository.LeadTx) error) error {
	lock := s.lockFor(leadID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memTx{store: s, leadID: leadID}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.lead != nil {
		s.leads[leadID] = cloneLead(*tx.lead)
	}
	if tx.viewing != nil {
		s.viewings[leadID] = *tx.viewing
	}
	if tx.receipt != nil {
		s.receipts[tx.token] = *tx.receipt
	}
	return nil
}

func (s *memStore) viewingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewings)
}

func (s *memStore) statusHistory(callID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history[callID]...)
}

type memTx struct {
	store   *memStore
	leadID  uuid.UUID
	lead    *domain.Lead
	viewing *domain.PropertyViewing
	token   string
	receipt *domain.UpdateResult
}

func (t *memTx) LockLead(ctx context.Context) (domain.Lead, error) {
	return t.store.GetLead(ctx, t.leadID)
}

func (t *memTx) SaveLead(_ context.Context, lead domain.Lead) error {
	l := cloneLead(lead)
	t.lead = &l
	return nil
}

func (t *memTx) GetReceipt(_ context.Context, token string) (*domain.UpdateResult, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	r, ok := t.store.receipts[token]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *memTx) SaveReceipt(_ context.Context, token string, result domain.UpdateResult) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.receipts[token]; ok {
		return domain.ErrDuplicateDelivery
	}
	t.token = token
	t.receipt = &result
	return nil
}

func (t *memTx) GetViewingByLead(ctx context.Context) (domain.PropertyViewing, error) {
	if t.viewing != nil {
		return *t.viewing, nil
	}
	return t.store.GetViewingByLead(ctx, t.leadID)
}

func (t *memTx) InsertViewing(ctx context.Context, v domain.PropertyViewing) error {
	if _, err := t.GetViewingByLead(ctx); err == nil {
		return domain.ErrAlreadyBooked
	}
	t.viewing = &v
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

type poolConfig struct{}

func (poolConfig) GetSessionReadyTTL() time.Duration         { return time.Minute }
func (poolConfig) GetSessionWarmingTTL() time.Duration       { return time.Minute }
func (poolConfig) GetSessionSweepInterval() time.Duration    { return 10 * time.Millisecond }
func (poolConfig) GetSessionEstablishTimeout() time.Duration { return time.Second }

type fakeConn struct {
	id     string
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (c *fakeConn) ConversationID() string                      { return c.id }
func (c *fakeConn) SendUserAudio(context.Context, string) error { return nil }
func (c *fakeConn) Events() <-chan voice.Event                  { return nil }
func (c *fakeConn) Done() <-chan struct{}                       { return c.done }
func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
	}
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var errDialFailed = errors.New("dial failed")

type fakeDialer struct {
	mu       sync.Mutex
	failNext int
	contexts []voice.SessionContext
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, sc voice.SessionContext) (voice.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contexts = append(d.contexts, sc)
	if d.failNext > 0 {
		d.failNext--
		return nil, errDialFailed
	}
	c := &fakeConn{id: "conv_" + uuid.NewString()[:8], done: make(chan struct{})}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.contexts)
}

type fakePlacer struct {
	mu      sync.Mutex
	err     error
	placed  []uuid.UUID
	hangups []string
}

func (p *fakePlacer) PlaceCall(_ context.Context, callID uuid.UUID, _ string) (telephony.PlacedCall, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return telephony.PlacedCall{}, p.err
	}
	p.placed = append(p.placed, callID)
	return telephony.PlacedCall{SID: "CA" + callID.String()[:8], Status: "queued"}, nil
}

func (p *fakePlacer) Hangup(_ context.Context, sid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangups = append(p.hangups, sid)
	return nil
}

type fakeArchive struct {
	mu   sync.Mutex
	keys map[uuid.UUID]string
}

func (a *fakeArchive) Archive(_ context.Context, leadID, callID uuid.UUID, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.keys == nil {
		a.keys = make(map[uuid.UUID]string)
	}
	key := "leads/" + leadID.String() + "/calls/" + callID.String() + ".txt"
	a.keys[callID] = key
	return key, nil
}

type fakeAnalyzer struct {
	update domain.EndOfCallUpdate
	err    error
	calls  int
}

func (a *fakeAnalyzer) Analyze(context.Context, *domain.Lead, string) (domain.EndOfCallUpdate, error) {
	a.calls++
	return a.update, a.err
}

type fakeScheduler struct {
	mu    sync.Mutex
	leads []uuid.UUID
}

func (s *fakeScheduler) ScheduleLeadCall(_ context.Context, leadID uuid.UUID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = append(s.leads, leadID)
	return nil
}

type harness struct {
	orch   *Orchestrator
	store  *memStore
	pool   *sessions.Pool
	dialer *fakeDialer
	placer *fakePlacer
	bus    *recordingBus
}

func newHarness(t interface {
	Helper()
	Fatalf(string, ...any)
}) *harness {
	t.Helper()
	log := logger.New("development")
	persona, err := voice.DefaultPersona()
	if err != nil {
		t.Fatalf("persona: %v", err)
	}

	h := &harness{
		store:  newMemStore(),
		dialer: &fakeDialer{},
		placer: &fakePlacer{},
		bus:    &recordingBus{},
	}
	h.pool = sessions.New(h.dialer, poolConfig{}, log)
	h.orch = NewOrchestrator(h.store, h.pool, persona, h.bus, Settings{HandoffTimeout: 2 * time.Second}, log)
	h.orch.SetCallPlacer(h.placer)
	return h
}
