package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/txpilot/internal/core/domain"
)

// ArchiveRepo persists settled operation records for audit.
type ArchiveRepo struct {
	db *DB
}

// NewArchiveRepo creates an ArchiveRepo over db.
func NewArchiveRepo(db *DB) *ArchiveRepo {
	return &ArchiveRepo{db: db}
}

type operationRow struct {
	ID            string       `db:"id"`
	Description   string       `db:"description"`
	Status        string       `db:"status"`
	ExternalRef   string       `db:"external_ref"`
	Attempts      int          `db:"attempts"`
	ErrorCategory string       `db:"error_category"`
	ErrorMessage  string       `db:"error_message"`
	Result        []byte       `db:"result"`
	CreatedAt     time.Time    `db:"created_at"`
	SubmittedAt   sql.NullTime `db:"submitted_at"`
	SettledAt     time.Time    `db:"settled_at"`
}

func toRow(rec domain.OperationRecord) (operationRow, error) {
	row := operationRow{
		ID:          rec.ID,
		Description: rec.Description,
		Status:      string(rec.Status),
		ExternalRef: rec.ExternalRef,
		Attempts:    rec.Attempts,
		CreatedAt:   rec.CreatedAt,
		SettledAt:   rec.SettledAt,
	}
	if !rec.SubmittedAt.IsZero() {
		row.SubmittedAt = sql.NullTime{Time: rec.SubmittedAt, Valid: true}
	}
	if rec.LastError != nil {
		row.ErrorCategory = string(rec.LastError.Category)
		row.ErrorMessage = rec.LastError.Message
	}
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return operationRow{}, fmt.Errorf("marshal result: %w", err)
		}
		row.Result = data
	}
	return row, nil
}

func (row operationRow) toDomain() domain.OperationRecord {
	rec := domain.OperationRecord{
		ID:          row.ID,
		Description: row.Description,
		Status:      domain.OperationStatus(row.Status),
		ExternalRef: row.ExternalRef,
		Attempts:    row.Attempts,
		CreatedAt:   row.CreatedAt,
		SettledAt:   row.SettledAt,
	}
	if row.SubmittedAt.Valid {
		rec.SubmittedAt = row.SubmittedAt.Time
	}
	if row.ErrorCategory != "" {
		rec.LastError = &domain.ClassifiedError{
			Category:  domain.ErrorCategory(row.ErrorCategory),
			Message:   row.ErrorMessage,
			Retryable: false,
		}
	}
	if len(row.Result) > 0 {
		var receipt domain.Receipt
		if err := json.Unmarshal(row.Result, &receipt); err == nil {
			rec.Result = &receipt
		}
	}
	return rec
}

// Save upserts one settled record.
func (r *ArchiveRepo) Save(ctx context.Context, rec domain.OperationRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}

	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO operations (
			id, description, status, external_ref, attempts,
			error_category, error_message, result,
			created_at, submitted_at, settled_at
		) VALUES (
			:id, :description, :status, :external_ref, :attempts,
			:error_category, :error_message, :result,
			:created_at, :submitted_at, :settled_at
		)
		ON CONFLICT (id) DO UPDATE SET
			status         = EXCLUDED.status,
			external_ref   = EXCLUDED.external_ref,
			attempts       = EXCLUDED.attempts,
			error_category = EXCLUDED.error_category,
			error_message  = EXCLUDED.error_message,
			result         = EXCLUDED.result,
			settled_at     = EXCLUDED.settled_at
	`, row)
	if err != nil {
		return fmt.Errorf("archive operation %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the most recently settled records, newest first.
func (r *ArchiveRepo) ListRecent(ctx context.Context, limit int) ([]domain.OperationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []operationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, description, status, external_ref, attempts,
		       error_category, error_message, result,
		       created_at, submitted_at, settled_at
		FROM operations
		ORDER BY settled_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived operations: %w", err)
	}

	out := make([]domain.OperationRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// EventSink returns a registry subscriber that archives terminal records.
// Non-terminal events are ignored; archive failures are logged and dropped.
func (r *ArchiveRepo) EventSink(log *slog.Logger) func(domain.Event) {
	if log == nil {
		log = slog.Default()
	}
	return func(evt domain.Event) {
		if !evt.Record.Status.Terminal() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.Save(ctx, evt.Record); err != nil {
			log.Warn("Failed to archive operation",
				"operation", evt.Record.ID,
				"status", evt.Record.Status,
				"error", err,
			)
		}
	}
}
