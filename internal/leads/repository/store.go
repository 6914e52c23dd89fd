// Package repository persists leads, viewings, call attempts and end-of-call
// receipts in PostgreSQL.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lettings_backend/internal/leads/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence surface the lifecycle depends on.
type Store interface {
	LeadReader
	LeadWriter
	CallStore
	// WithinLeadTx runs fn in a transaction holding the row lock of the lead.
	// Every read-modify-write of a lead goes through it.
	WithinLeadTx(ctx context.Context, leadID uuid.UUID, fn func(tx LeadTx) error) error
}

// LeadReader provides read-only access to leads and their viewing.
type LeadReader interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	GetViewingByLead(ctx context.Context, leadID uuid.UUID) (domain.PropertyViewing, error)
}

// LeadWriter creates and removes leads.
type LeadWriter interface {
	CreateLead(ctx context.Context, lead domain.Lead) error
	DeleteLead(ctx context.Context, id uuid.UUID) error
}

// CallStore persists call attempts and their status history.
type CallStore interface {
	CreateCallAttempt(ctx context.Context, call domain.CallAttempt) error
	GetCallAttempt(ctx context.Context, id uuid.UUID) (domain.CallAttempt, error)
	GetCallAttemptByProviderSID(ctx context.Context, sid string) (domain.CallAttempt, error)
	GetCallAttemptByToken(ctx context.Context, token string) (domain.CallAttempt, error)
	GetCallAttemptByConversationID(ctx context.Context, conversationID string) (domain.CallAttempt, error)
	// MutateCallAttempt applies fn to the locked call row and saves it, appending
	// rawStatus to the history when the status changed.
	MutateCallAttempt(ctx context.Context, id uuid.UUID, rawStatus string, fn func(call *domain.CallAttempt) error) (domain.CallAttempt, error)
	ListCallsByLead(ctx context.Context, leadID uuid.UUID) ([]domain.CallAttempt, error)
	// ExpireStaleCalls terminates calls stuck in a non-final status since before cutoff.
	ExpireStaleCalls(ctx context.Context, cutoff time.Time) ([]domain.CallAttempt, error)
}

// LeadTx is the view of the store inside a locked lead transaction.
type LeadTx interface {
	LockLead(ctx context.Context) (domain.Lead, error)
	SaveLead(ctx context.Context, lead domain.Lead) error
	GetReceipt(ctx context.Context, token string) (*domain.UpdateResult, error)
	SaveReceipt(ctx context.Context, token string, result domain.UpdateResult) error
	GetViewingByLead(ctx context.Context) (domain.PropertyViewing, error)
	// InsertViewing returns domain.ErrAlreadyBooked when the lead already owns a viewing.
	InsertViewing(ctx context.Context, viewing domain.PropertyViewing) error
}

// Repository is the pgx implementation of Store.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithinLeadTx begins a transaction, runs fn and commits when fn returns nil.
func (r *Repository) WithinLeadTx(ctx context.Context, leadID uuid.UUID, fn func(tx LeadTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&leadTx{tx: tx, leadID: leadID}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
