package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"lettings_backend/internal/leads/domain"
)

var errMissing = errors.New("missing")

type fakeViewingStore struct {
	viewing    *domain.PropertyViewing
	conflictOn *domain.PropertyViewing
	inserts    int
}

func (s *fakeViewingStore) GetViewingByLead(context.Context) (domain.PropertyViewing, error) {
	if s.viewing == nil {
		return domain.PropertyViewing{}, errMissing
	}
	return *s.viewing, nil
}

func (s *fakeViewingStore) InsertViewing(_ context.Context, v domain.PropertyViewing) error {
	s.inserts++
	if s.conflictOn != nil {
		s.viewing = s.conflictOn
		return domain.ErrAlreadyBooked
	}
	if s.viewing != nil {
		return domain.ErrAlreadyBooked
	}
	s.viewing = &v
	return nil
}

func newResolver() *Resolver {
	r := NewResolver(func(err error) bool { return errors.Is(err, errMissing) })
	r.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return r
}

func leadWithViewing(date, at string) domain.Lead {
	lead := domain.NewLead(uuid.New(), "+447400123456", time.Now())
	if date != "" {
		lead.ViewingDate = &date
	}
	if at != "" {
		lead.ViewingTime = &at
	}
	return lead
}

func TestResolveCreatesViewing(t *testing.T) {
	store := &fakeViewingStore{}
	lead := leadWithViewing("2024-06-01", "14:00")

	viewing, created, err := newResolver().Resolve(context.Background(), store, &lead)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || viewing == nil {
		t.Fatalf("expected a new viewing")
	}
	if viewing.LeadID != lead.ID || viewing.Status != domain.ViewingStatusScheduled {
		t.Fatalf("unexpected viewing: %+v", viewing)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	store := &fakeViewingStore{}
	lead := leadWithViewing("2024-06-01", "14:00")
	r := newResolver()

	first, _, err := r.Resolve(context.Background(), store, &lead)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, created, err := r.Resolve(context.Background(), store, &lead)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected the existing viewing to be returned")
	}
	if store.inserts != 1 {
		t.Fatalf("expected a single insert, got %d", store.inserts)
	}
}

func TestResolveWithoutRequest(t *testing.T) {
	store := &fakeViewingStore{}
	lead := leadWithViewing("2024-06-01", "")

	viewing, created, err := newResolver().Resolve(context.Background(), store, &lead)
	if err != nil || viewing != nil || created {
		t.Fatalf("expected nothing to be booked, got %v %v %v", viewing, created, err)
	}
}

func TestResolveReturnsWinnerOnConflict(t *testing.T) {
	lead := leadWithViewing("2024-06-01", "14:00")
	winner := domain.PropertyViewing{ID: uuid.New(), LeadID: lead.ID, ViewingDate: "2024-06-02", ViewingTime: "10:00"}
	store := &fakeViewingStore{conflictOn: &winner}

	viewing, created, err := newResolver().Resolve(context.Background(), store, &lead)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created || viewing.ID != winner.ID {
		t.Fatalf("expected concurrent winner to be returned")
	}
}
