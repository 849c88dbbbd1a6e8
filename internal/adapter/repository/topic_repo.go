package repository

import (
	"context"
	"fmt"

	"echoman/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TopicRepository is the pgx-backed implementation of domain.TopicRepository.
type TopicRepository struct {
	pool *pgxpool.Pool
}

func NewTopicRepository(pool *pgxpool.Pool) domain.TopicRepository {
	return &TopicRepository{pool: pool}
}

func (r *TopicRepository) Create(ctx context.Context, t domain.Topic) (*domain.Topic, error) {
	query := `
		INSERT INTO topics (
			status, category, category_confidence, category_method,
			created_at, last_active, current_heat_normalized, peak_heat_normalized, summary_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`
	err := executor(ctx, r.pool).QueryRow(ctx, query,
		t.Status, t.Category, t.CategoryConfidence, t.CategoryMethod,
		t.CreatedAt, t.LastActive, t.CurrentHeatNormalized, t.PeakHeatNormalized, t.SummaryID,
	).Scan(&t.ID)
	if err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	return &t, nil
}

func (r *TopicRepository) Get(ctx context.Context, id int64) (*domain.Topic, error) {
	query := `
		SELECT id, status, category, category_confidence, category_method,
		       created_at, last_active, current_heat_normalized, peak_heat_normalized, summary_id
		FROM topics WHERE id = $1
	`
	row := executor(ctx, r.pool).QueryRow(ctx, query, id)
	t, err := scanTopic(row)
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return t, nil
}

func (r *TopicRepository) ListRecentlyActive(ctx context.Context, limit int, scope domain.TopicStatusFilter) ([]domain.Topic, error) {
	if scope == domain.TopicStatusAny {
		query := `
			SELECT id, status, category, category_confidence, category_method,
			       created_at, last_active, current_heat_normalized, peak_heat_normalized, summary_id
			FROM topics
			ORDER BY last_active DESC
			LIMIT $1
		`
		rows, err := executor(ctx, r.pool).Query(ctx, query, limit)
		if err != nil {
			return nil, fmt.Errorf("list recently active topics: %w", err)
		}
		defer rows.Close()
		return scanTopics(rows)
	}

	query := `
		SELECT id, status, category, category_confidence, category_method,
		       created_at, last_active, current_heat_normalized, peak_heat_normalized, summary_id
		FROM topics WHERE status = $1
		ORDER BY last_active DESC
		LIMIT $2
	`
	rows, err := executor(ctx, r.pool).Query(ctx, query, string(scope), limit)
	if err != nil {
		return nil, fmt.Errorf("list recently active topics: %w", err)
	}
	defer rows.Close()
	return scanTopics(rows)
}

func (r *TopicRepository) ListAll(ctx context.Context) ([]domain.Topic, error) {
	query := `
		SELECT id, status, category, category_confidence, category_method,
		       created_at, last_active, current_heat_normalized, peak_heat_normalized, summary_id
		FROM topics
		ORDER BY id ASC
	`
	rows, err := executor(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list all topics: %w", err)
	}
	defer rows.Close()
	return scanTopics(rows)
}

func (r *TopicRepository) UpdateHeat(ctx context.Context, id int64, current, peak float64, lastActive string) error {
	query := `
		UPDATE topics
		SET current_heat_normalized = $1,
		    peak_heat_normalized = GREATEST(peak_heat_normalized, $2),
		    last_active = $3
		WHERE id = $4
	`
	_, err := executor(ctx, r.pool).Exec(ctx, query, current, peak, lastActive, id)
	if err != nil {
		return fmt.Errorf("update topic heat: %w", err)
	}
	return nil
}

func (r *TopicRepository) UpdateSummaryID(ctx context.Context, id int64, summaryID uuid.UUID) error {
	query := `UPDATE topics SET summary_id = $1 WHERE id = $2`
	_, err := executor(ctx, r.pool).Exec(ctx, query, summaryID, id)
	if err != nil {
		return fmt.Errorf("update topic summary id: %w", err)
	}
	return nil
}

func (r *TopicRepository) ZeroHeat(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE topics SET current_heat_normalized = 0 WHERE id = ANY($1)`
	_, err := executor(ctx, r.pool).Exec(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("zero topic heat: %w", err)
	}
	return nil
}

func scanTopic(row pgx.Row) (*domain.Topic, error) {
	var t domain.Topic
	err := row.Scan(
		&t.ID, &t.Status, &t.Category, &t.CategoryConfidence, &t.CategoryMethod,
		&t.CreatedAt, &t.LastActive, &t.CurrentHeatNormalized, &t.PeakHeatNormalized, &t.SummaryID,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTopics(rows pgx.Rows) ([]domain.Topic, error) {
	var topics []domain.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}
