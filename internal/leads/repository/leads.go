package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"lettings_backend/internal/leads/domain"
)

const leadColumns = `id, phone, email, postcode, property_address, fields,
	viewing_date, viewing_time, viewing_notes, phase, created_at, updated_at`

const viewingColumns = `id, lead_id, viewing_date, viewing_time, property_address, notes, status, created_at`

const uniqueViolation = "23505"

func (r *Repository) CreateLead(ctx context.Context, lead domain.Lead) error {
	fields, err := json.Marshal(lead.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, lead.ID, lead.Phone, lead.Email, lead.Postcode, lead.PropertyAddress, fields,
		lead.ViewingDate, lead.ViewingTime, lead.ViewingNotes, string(lead.Phase), lead.CreatedAt, lead.UpdatedAt)
	return err
}

func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
}

func (r *Repository) DeleteLead(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetViewingByLead(ctx context.Context, leadID uuid.UUID) (domain.PropertyViewing, error) {
	return getViewing(ctx, r.pool, leadID)
}

func getViewing(ctx context.Context, q querier, leadID uuid.UUID) (domain.PropertyViewing, error) {
	var v domain.PropertyViewing
	err := q.QueryRow(ctx, `SELECT `+viewingColumns+` FROM property_viewings WHERE lead_id = $1`, leadID).Scan(
		&v.ID, &v.LeadID, &v.ViewingDate, &v.ViewingTime, &v.PropertyAddress, &v.Notes, &v.Status, &v.CreatedAt,
	)
	if err != nil {
		return domain.PropertyViewing{}, notFound(err)
	}
	return v, nil
}

func scanLead(row pgx.Row) (domain.Lead, error) {
	var (
		lead   domain.Lead
		fields []byte
		phase  string
	)
	err := row.Scan(
		&lead.ID, &lead.Phone, &lead.Email, &lead.Postcode, &lead.PropertyAddress, &fields,
		&lead.ViewingDate, &lead.ViewingTime, &lead.ViewingNotes, &phase, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return domain.Lead{}, notFound(err)
	}
	if err := json.Unmarshal(fields, &lead.Fields); err != nil {
		return domain.Lead{}, fmt.Errorf("decode fields: %w", err)
	}
	lead.Phase = domain.Phase(phase)
	return lead, nil
}

type leadTx struct {
	tx     pgx.Tx
	leadID uuid.UUID
}

func (t *leadTx) LockLead(ctx context.Context) (domain.Lead, error) {
	return scanLead(t.tx.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 FOR UPDATE`, t.leadID))
}

func (t *leadTx) SaveLead(ctx context.Context, lead domain.Lead) error {
	fields, err := json.Marshal(lead.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		UPDATE leads
		SET email = $2, postcode = $3, property_address = $4, fields = $5,
			viewing_date = $6, viewing_time = $7, viewing_notes = $8, phase = $9, updated_at = $10
		WHERE id = $1
	`, t.leadID, lead.Email, lead.Postcode, lead.PropertyAddress, fields,
		lead.ViewingDate, lead.ViewingTime, lead.ViewingNotes, string(lead.Phase), lead.UpdatedAt)
	return err
}

func (t *leadTx) GetReceipt(ctx context.Context, token string) (*domain.UpdateResult, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx, `SELECT result FROM end_of_call_receipts WHERE idempotency_token = $1`, token).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result domain.UpdateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &result, nil
}

func (t *leadTx) SaveReceipt(ctx context.Context, token string, result domain.UpdateResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO end_of_call_receipts (idempotency_token, lead_id, result)
		VALUES ($1, $2, $3)
	`, token, t.leadID, raw)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateDelivery
	}
	return err
}

func (t *leadTx) GetViewingByLead(ctx context.Context) (domain.PropertyViewing, error) {
	return getViewing(ctx, t.tx, t.leadID)
}

func (t *leadTx) InsertViewing(ctx context.Context, v domain.PropertyViewing) error {
	result, err := t.tx.Exec(ctx, `
		INSERT INTO property_viewings (`+viewingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (lead_id) DO NOTHING
	`, v.ID, v.LeadID, v.ViewingDate, v.ViewingTime, v.PropertyAddress, v.Notes, v.Status, v.CreatedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAlreadyBooked
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
