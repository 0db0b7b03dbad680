package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

const recordColumns = `id, owner_identifier, status, store_name, total_amount, currency, purchase_date, ticket_number,
	raw_text, source_ref, failure_reason, created_at, updated_at`

type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) CreateRecord(ctx context.Context, ownerIdentifier, sourceRef string) (*domain.Record, error) {
	now := time.Now().UTC()
	rec := &domain.Record{
		ID:              uuid.NewString(),
		OwnerIdentifier: ownerIdentifier,
		Status:          domain.RecordPending,
		SourceRef:       sourceRef,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO receipt_records (id, owner_identifier, status, source_ref, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, rec.ID, rec.OwnerIdentifier, string(rec.Status), rec.SourceRef, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// SetRecordOutcome applies the terminal write. Only pending records accept
// it; anything else is domain.ErrInvalidTransition.
func (r *RecordRepository) SetRecordOutcome(ctx context.Context, recordID string, outcome domain.RecordOutcome) (*domain.Record, error) {
	if !outcome.Status.Terminal() {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "set record outcome", fmt.Errorf("status %q is not terminal", outcome.Status))
	}
	outcome = outcome.Normalize()
	fields := outcome.Fields
	if fields == nil {
		fields = &domain.ReceiptFields{}
	}

	row := r.db.QueryRowContext(ctx, `
UPDATE receipt_records
SET status = $2, store_name = $3, total_amount = $4, currency = $5, purchase_date = $6, ticket_number = $7,
	raw_text = $8, failure_reason = $9, updated_at = $10
WHERE id = $1 AND status = 'pending'
RETURNING `+recordColumns,
		recordID, string(outcome.Status),
		nullableString(fields.StoreName), nullableFloat(fields.TotalAmount), nullableString(fields.Currency),
		nullableString(fields.Date), nullableString(fields.TicketNumber),
		outcome.RawText, nullableReason(outcome.FailureReason), time.Now().UTC(),
	)

	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update record outcome: %w", err)
	}

	current, getErr := r.GetRecord(ctx, recordID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, domain.WrapError(
		domain.ErrInvalidTransition,
		"set record outcome",
		fmt.Errorf("record %s is already %s", recordID, current.Status),
	)
}

func (r *RecordRepository) GetRecord(ctx context.Context, recordID string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+recordColumns+`
FROM receipt_records
WHERE id = $1
`, recordID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRecordNotFound, "get record", fmt.Errorf("id=%s", recordID))
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	return rec, nil
}

// ListRecords returns the newest records of one owner first.
func (r *RecordRepository) ListRecords(ctx context.Context, ownerIdentifier string, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM receipt_records
WHERE owner_identifier = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, ownerIdentifier, limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var rec domain.Record
	var status string
	var storeName, currency, date, ticket, reason sql.NullString
	var total sql.NullFloat64

	err := row.Scan(
		&rec.ID,
		&rec.OwnerIdentifier,
		&status,
		&storeName,
		&total,
		&currency,
		&date,
		&ticket,
		&rec.RawText,
		&rec.SourceRef,
		&reason,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.RecordStatus(status)
	rec.FailureReason = reason.String
	if rec.Status == domain.RecordProcessed {
		rec.Fields = &domain.ReceiptFields{
			StoreName:    fromNullString(storeName),
			Currency:     fromNullString(currency),
			Date:         fromNullString(date),
			TicketNumber: fromNullString(ticket),
		}
		if total.Valid {
			v := total.Float64
			rec.Fields.TotalAmount = &v
		}
	}
	return &rec, nil
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableReason(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
