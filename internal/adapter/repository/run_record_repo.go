package repository

import (
	"context"
	"fmt"
	"time"

	"echoman/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunRecordRepository persists the audit row each pipeline stage
// invocation writes. Grounded on the same insert-then-update-status
// shape a job queue uses, simplified to a single row per run rather
// than a dequeue-able queue since runs are scheduler-triggered, not
// worker-pulled.
type RunRecordRepository struct {
	db *pgxpool.Pool
}

func NewRunRecordRepository(db *pgxpool.Pool) domain.RunRecordRepository {
	return &RunRecordRepository{db: db}
}

func (r *RunRecordRepository) Start(ctx context.Context, rec domain.RunRecord) (*domain.RunRecord, error) {
	query := `
		INSERT INTO run_records (id, kind, period, status, started_at, input_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, rec.ID, rec.Kind, rec.Period, rec.Status, rec.StartedAt, rec.InputCount)
	if err != nil {
		return nil, fmt.Errorf("start run record: %w", err)
	}
	return &rec, nil
}

func (r *RunRecordRepository) Finish(ctx context.Context, id string, status domain.RunStatus, counts domain.RunCounts, errSummary string) error {
	query := `
		UPDATE run_records
		SET status = $1, ended_at = $2, input_count = $3, output_count = $4,
		    success_count = $5, failed_count = $6, dropped_count = $7, error_summary = $8
		WHERE id = $9
	`
	_, err := r.db.Exec(ctx, query,
		status, time.Now(), counts.InputCount, counts.OutputCount,
		counts.SuccessCount, counts.FailedCount, counts.DroppedCount, errSummary, id,
	)
	if err != nil {
		return fmt.Errorf("finish run record: %w", err)
	}
	return nil
}

// LastByKind returns the most recently started run for each kind seen
// in the table, via DISTINCT ON rather than a window function since
// the result set is at most len(domain.RunKind) rows.
func (r *RunRecordRepository) LastByKind(ctx context.Context) (map[domain.RunKind]domain.RunRecord, error) {
	query := `
		SELECT DISTINCT ON (kind) id, kind, period, status, started_at, ended_at,
		       input_count, output_count, success_count, failed_count, dropped_count, error_summary
		FROM run_records
		ORDER BY kind, started_at DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list last run per kind: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.RunKind]domain.RunRecord)
	for rows.Next() {
		var rec domain.RunRecord
		if err := rows.Scan(
			&rec.ID, &rec.Kind, &rec.Period, &rec.Status, &rec.StartedAt, &rec.EndedAt,
			&rec.InputCount, &rec.OutputCount, &rec.SuccessCount, &rec.FailedCount, &rec.DroppedCount, &rec.ErrorSummary,
		); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		out[rec.Kind] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run records: %w", err)
	}
	return out, nil
}
