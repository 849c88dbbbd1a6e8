package repository

import (
	"context"
	"fmt"

	"echoman/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SummaryRepository is the pgx-backed, append-only implementation of
// domain.SummaryRepository.
type SummaryRepository struct {
	pool *pgxpool.Pool
}

func NewSummaryRepository(pool *pgxpool.Pool) domain.SummaryRepository {
	return &SummaryRepository{pool: pool}
}

func (r *SummaryRepository) Create(ctx context.Context, s domain.Summary) (*domain.Summary, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	query := `
		INSERT INTO summaries (id, topic_id, method, text, generated_at, source_node_ids)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := executor(ctx, r.pool).Exec(ctx, query,
		s.ID, s.TopicID, s.Method, s.Text, s.GeneratedAt, s.SourceNodeIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("create summary: %w", err)
	}
	return &s, nil
}

func (r *SummaryRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Summary, error) {
	query := `
		SELECT id, topic_id, method, text, generated_at, source_node_ids
		FROM summaries WHERE id = $1
	`
	row := executor(ctx, r.pool).QueryRow(ctx, query, id)
	s, err := scanSummary(row)
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return s, nil
}

func (r *SummaryRepository) ListByTopic(ctx context.Context, topicID int64) ([]domain.Summary, error) {
	query := `
		SELECT id, topic_id, method, text, generated_at, source_node_ids
		FROM summaries WHERE topic_id = $1
		ORDER BY generated_at ASC
	`
	rows, err := executor(ctx, r.pool).Query(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("list summaries by topic: %w", err)
	}
	defer rows.Close()

	var summaries []domain.Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return summaries, nil
}

func scanSummary(row pgx.Row) (*domain.Summary, error) {
	var s domain.Summary
	if err := row.Scan(&s.ID, &s.TopicID, &s.Method, &s.Text, &s.GeneratedAt, &s.SourceNodeIDs); err != nil {
		return nil, err
	}
	return &s, nil
}
