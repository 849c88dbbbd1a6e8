package repository

import (
	"context"
	"fmt"

	"echoman/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TopicNodeRepository is the pgx-backed implementation of domain.TopicNodeRepository.
type TopicNodeRepository struct {
	pool *pgxpool.Pool
}

func NewTopicNodeRepository(pool *pgxpool.Pool) domain.TopicNodeRepository {
	return &TopicNodeRepository{pool: pool}
}

func (r *TopicNodeRepository) Create(ctx context.Context, n domain.TopicNode) (*domain.TopicNode, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	query := `
		INSERT INTO topic_nodes (id, topic_id, source_item_id, period_key, joined_at, adjudication_id)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := executor(ctx, r.pool).Exec(ctx, query,
		n.ID, n.TopicID, n.SourceItemID, n.PeriodKey, n.JoinedAt, n.AdjudicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("create topic node: %w", err)
	}
	return &n, nil
}

func (r *TopicNodeRepository) ListByTopic(ctx context.Context, topicID int64) ([]domain.TopicNode, error) {
	query := `
		SELECT id, topic_id, source_item_id, period_key, joined_at, adjudication_id
		FROM topic_nodes WHERE topic_id = $1
		ORDER BY joined_at ASC
	`
	rows, err := executor(ctx, r.pool).Query(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("list topic nodes: %w", err)
	}
	defer rows.Close()
	return scanTopicNodes(rows)
}

func (r *TopicNodeRepository) ListRecentByTopic(ctx context.Context, topicID int64, limit int) ([]domain.TopicNode, error) {
	query := `
		SELECT id, topic_id, source_item_id, period_key, joined_at, adjudication_id
		FROM topic_nodes WHERE topic_id = $1
		ORDER BY joined_at DESC
		LIMIT $2
	`
	rows, err := executor(ctx, r.pool).Query(ctx, query, topicID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent topic nodes: %w", err)
	}
	defer rows.Close()
	return scanTopicNodes(rows)
}

func scanTopicNodes(rows pgx.Rows) ([]domain.TopicNode, error) {
	var nodes []domain.TopicNode
	for rows.Next() {
		var n domain.TopicNode
		if err := rows.Scan(&n.ID, &n.TopicID, &n.SourceItemID, &n.PeriodKey, &n.JoinedAt, &n.AdjudicationID); err != nil {
			return nil, fmt.Errorf("scan topic node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic nodes: %w", err)
	}
	return nodes, nil
}
