// Package booking turns the viewing request collected during a call into the
// lead's single PropertyViewing.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"lettings_backend/internal/leads/domain"
)

// ViewingStore is the slice of the locked lead transaction the resolver needs.
type ViewingStore interface {
	GetViewingByLead(ctx context.Context) (domain.PropertyViewing, error)
	InsertViewing(ctx context.Context, viewing domain.PropertyViewing) error
}

// Resolver books at most one viewing per lead.
type Resolver struct {
	isNotFound func(error) bool
	now        func() time.Time
}

// NewResolver returns a resolver. isNotFound identifies the store's missing-row error.
func NewResolver(isNotFound func(error) bool) *Resolver {
	return &Resolver{isNotFound: isNotFound, now: time.Now}
}

// Resolve returns the lead's viewing, creating it when the lead carries a
// complete viewing request and has none yet. It returns nil when no viewing
// exists and the request is incomplete. created reports whether this call
// inserted the viewing.
func (r *Resolver) Resolve(ctx context.Context, store ViewingStore, lead *domain.Lead) (*domain.PropertyViewing, bool, error) {
	existing, err := store.GetViewingByLead(ctx)
	switch {
	case err == nil:
		return &existing, false, nil
	case !r.isNotFound(err):
		return nil, false, err
	}

	if !lead.HasViewingRequest() {
		return nil, false, nil
	}

	viewing, err := domain.NewViewingFor(lead, uuid.New(), r.now())
	if err != nil {
		return nil, false, err
	}

	if err := store.InsertViewing(ctx, viewing); err != nil {
		if !errors.Is(err, domain.ErrAlreadyBooked) {
			return nil, false, err
		}
		existing, err := store.GetViewingByLead(ctx)
		if err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}
	return &viewing, true, nil
}
