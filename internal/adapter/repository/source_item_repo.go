package repository

import (
	"context"
	"errors"
	"fmt"

	"echoman/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// SourceItemRepository is the pgx-backed implementation of
// domain.SourceItemRepository, grounded on the bulk tx-aware
// executor-resolution idiom used across this package's repositories.
type SourceItemRepository struct {
	pool *pgxpool.Pool
}

func NewSourceItemRepository(pool *pgxpool.Pool) domain.SourceItemRepository {
	return &SourceItemRepository{pool: pool}
}

func (r *SourceItemRepository) Insert(ctx context.Context, item domain.SourceItem) (*domain.SourceItem, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.MergeStatus == "" {
		item.MergeStatus = domain.PendingEventMerge
	}

	query := `
		INSERT INTO source_items (
			id, platform, title, summary, url, published_at, fetched_at,
			interactions, heat_value, period, merge_status,
			period_merge_group_id, occurrence_count, heat_normalized,
			embedding_id, run_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`
	_, err := executor(ctx, r.pool).Exec(ctx, query,
		item.ID, item.Platform, item.Title, item.Summary, item.URL,
		item.PublishedAt, item.FetchedAt, item.Interactions, item.HeatValue,
		item.Period, item.MergeStatus, item.PeriodMergeGroupID,
		item.OccurrenceCount, item.HeatNormalized, item.EmbeddingID, item.RunID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, domain.ErrDuplicateItem
		}
		return nil, fmt.Errorf("insert source item: %w", err)
	}
	return &item, nil
}

func (r *SourceItemRepository) ListPendingEventMerge(ctx context.Context, period string) ([]domain.SourceItem, error) {
	return r.listByStatusAndPeriod(ctx, period, domain.PendingEventMerge)
}

func (r *SourceItemRepository) ListPendingGlobalMerge(ctx context.Context, period string) ([]domain.SourceItem, error) {
	return r.listByStatusAndPeriod(ctx, period, domain.PendingGlobalMerge)
}

func (r *SourceItemRepository) listByStatusAndPeriod(ctx context.Context, period string, status domain.MergeStatus) ([]domain.SourceItem, error) {
	query := `
		SELECT id, platform, title, summary, url, published_at, fetched_at,
		       interactions, heat_value, period, merge_status,
		       period_merge_group_id, occurrence_count, heat_normalized,
		       embedding_id, run_id
		FROM source_items
		WHERE period = $1 AND merge_status = $2
		ORDER BY fetched_at ASC
	`
	rows, err := executor(ctx, r.pool).Query(ctx, query, period, status)
	if err != nil {
		return nil, fmt.Errorf("list source items: %w", err)
	}
	defer rows.Close()
	return scanSourceItems(rows)
}

func (r *SourceItemRepository) SetGroupAssignment(ctx context.Context, ids []uuid.UUID, groupID uuid.UUID, occurrenceCount int) error {
	query := `
		UPDATE source_items
		SET period_merge_group_id = $1, occurrence_count = $2
		WHERE id = ANY($3)
	`
	_, err := executor(ctx, r.pool).Exec(ctx, query, groupID, occurrenceCount, ids)
	if err != nil {
		return fmt.Errorf("set group assignment: %w", err)
	}
	return nil
}

func (r *SourceItemRepository) BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, from, to domain.MergeStatus) error {
	if err := domain.Transition(from, to); err != nil {
		return err
	}
	query := `
		UPDATE source_items
		SET merge_status = $1
		WHERE id = ANY($2) AND merge_status = $3
	`
	_, err := executor(ctx, r.pool).Exec(ctx, query, to, ids, from)
	if err != nil {
		return fmt.Errorf("bulk update status: %w", err)
	}
	return nil
}

func (r *SourceItemRepository) Get(ctx context.Context, id uuid.UUID) (*domain.SourceItem, error) {
	query := `
		SELECT id, platform, title, summary, url, published_at, fetched_at,
		       interactions, heat_value, period, merge_status,
		       period_merge_group_id, occurrence_count, heat_normalized,
		       embedding_id, run_id
		FROM source_items WHERE id = $1
	`
	row := executor(ctx, r.pool).QueryRow(ctx, query, id)
	item, err := scanSourceItem(row)
	if err != nil {
		return nil, fmt.Errorf("get source item: %w", err)
	}
	return item, nil
}

func (r *SourceItemRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.SourceItem, error) {
	query := `
		SELECT id, platform, title, summary, url, published_at, fetched_at,
		       interactions, heat_value, period, merge_status,
		       period_merge_group_id, occurrence_count, heat_normalized,
		       embedding_id, run_id
		FROM source_items WHERE id = ANY($1)
	`
	rows, err := executor(ctx, r.pool).Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("list source items by ids: %w", err)
	}
	defer rows.Close()
	return scanSourceItems(rows)
}

func (r *SourceItemRepository) CountByStatus(ctx context.Context) (map[domain.MergeStatus]int, error) {
	query := `SELECT merge_status, count(*) FROM source_items GROUP BY merge_status`
	rows, err := executor(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count source items by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.MergeStatus]int)
	for rows.Next() {
		var status domain.MergeStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func scanSourceItem(row pgx.Row) (*domain.SourceItem, error) {
	var item domain.SourceItem
	err := row.Scan(
		&item.ID, &item.Platform, &item.Title, &item.Summary, &item.URL,
		&item.PublishedAt, &item.FetchedAt, &item.Interactions, &item.HeatValue,
		&item.Period, &item.MergeStatus, &item.PeriodMergeGroupID,
		&item.OccurrenceCount, &item.HeatNormalized, &item.EmbeddingID, &item.RunID,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func scanSourceItems(rows pgx.Rows) ([]domain.SourceItem, error) {
	var items []domain.SourceItem
	for rows.Next() {
		item, err := scanSourceItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source items: %w", err)
	}
	return items, nil
}
