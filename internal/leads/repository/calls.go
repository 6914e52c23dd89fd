package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lettings_backend/internal/leads/domain"
)

const callColumns = `id, lead_id, status, provider_call_sid, conversation_id, idempotency_token,
	session_source, transcript_key, duration_seconds, created_at, updated_at`

func (r *Repository) CreateCallAttempt(ctx context.Context, call domain.CallAttempt) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO call_attempts (`+callColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, call.ID, call.LeadID, string(call.Status), call.ProviderCallSID, call.ConversationID, call.IdempotencyToken,
		call.SessionSource, call.TranscriptKey, call.DurationSeconds, call.CreatedAt, call.UpdatedAt)
	if err != nil {
		return err
	}

	if err := insertStatusEvent(ctx, tx, call.ID, call.Status, ""); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetCallAttempt(ctx context.Context, id uuid.UUID) (domain.CallAttempt, error) {
	return scanCall(r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM call_attempts WHERE id = $1`, id))
}

func (r *Repository) GetCallAttemptByProviderSID(ctx context.Context, sid string) (domain.CallAttempt, error) {
	return scanCall(r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM call_attempts WHERE provider_call_sid = $1`, sid))
}

func (r *Repository) GetCallAttemptByToken(ctx context.Context, token string) (domain.CallAttempt, error) {
	return scanCall(r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM call_attempts WHERE idempotency_token = $1`, token))
}

func (r *Repository) GetCallAttemptByConversationID(ctx context.Context, conversationID string) (domain.CallAttempt, error) {
	return scanCall(r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM call_attempts WHERE conversation_id = $1`, conversationID))
}

// MutateCallAttempt locks the call row, lets fn modify it and saves the result.
// A status change is appended to the history with rawStatus. When fn fails the
// row is left untouched and the loaded call is returned with fn's error.
func (r *Repository) MutateCallAttempt(ctx context.Context, id uuid.UUID, rawStatus string, fn func(call *domain.CallAttempt) error) (domain.CallAttempt, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.CallAttempt{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	call, err := scanCall(tx.QueryRow(ctx, `SELECT `+callColumns+` FROM call_attempts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.CallAttempt{}, err
	}
	previous := call.Status

	if err := fn(&call); err != nil {
		return call, err
	}
	call.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE call_attempts
		SET status = $2, provider_call_sid = $3, conversation_id = $4, session_source = $5,
			transcript_key = $6, duration_seconds = $7, updated_at = $8
		WHERE id = $1
	`, call.ID, string(call.Status), call.ProviderCallSID, call.ConversationID, call.SessionSource,
		call.TranscriptKey, call.DurationSeconds, call.UpdatedAt)
	if err != nil {
		return domain.CallAttempt{}, err
	}

	if previous != call.Status {
		if err := insertStatusEvent(ctx, tx, call.ID, call.Status, rawStatus); err != nil {
			return domain.CallAttempt{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.CallAttempt{}, err
	}
	return call, nil
}

func (r *Repository) ListCallsByLead(ctx context.Context, leadID uuid.UUID) ([]domain.CallAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+callColumns+`
		FROM call_attempts
		WHERE lead_id = $1
		ORDER BY created_at DESC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calls := make([]domain.CallAttempt, 0)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return calls, nil
}

func (r *Repository) ExpireStaleCalls(ctx context.Context, cutoff time.Time) ([]domain.CallAttempt, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM call_attempts
		WHERE status IN ('initiated', 'ringing', 'answered') AND updated_at < $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE call_attempts c
	SET status = CASE WHEN c.status = 'answered' THEN 'completed' ELSE 'terminated' END, updated_at = now()
	FROM cte
	WHERE c.id = cte.id
	RETURNING `+prefixed("c.", callColumns), cutoff)
	if err != nil {
		return nil, err
	}

	expired := make([]domain.CallAttempt, 0)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, call)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	for _, call := range expired {
		if err := insertStatusEvent(ctx, tx, call.ID, call.Status, "expired"); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

func insertStatusEvent(ctx context.Context, tx pgx.Tx, callID uuid.UUID, status domain.CallStatus, raw string) error {
	var rawStatus *string
	if raw != "" {
		rawStatus = &raw
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO call_status_events (call_id, status, raw_status)
		VALUES ($1, $2, $3)
	`, callID, string(status), rawStatus)
	return err
}

func scanCall(row pgx.Row) (domain.CallAttempt, error) {
	var (
		call   domain.CallAttempt
		status string
	)
	err := row.Scan(
		&call.ID, &call.LeadID, &status, &call.ProviderCallSID, &call.ConversationID, &call.IdempotencyToken,
		&call.SessionSource, &call.TranscriptKey, &call.DurationSeconds, &call.CreatedAt, &call.UpdatedAt,
	)
	if err != nil {
		return domain.CallAttempt{}, notFound(err)
	}
	call.Status = domain.CallStatus(status)
	return call, nil
}

// prefixed qualifies each column in a comma separated list.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = prefix + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
