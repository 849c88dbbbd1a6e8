package repository

import (
	"context"
	"fmt"

	"echoman/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TopicPeriodHeatRepository is the pgx-backed implementation of
// domain.TopicPeriodHeatRepository.
type TopicPeriodHeatRepository struct {
	pool *pgxpool.Pool
}

func NewTopicPeriodHeatRepository(pool *pgxpool.Pool) domain.TopicPeriodHeatRepository {
	return &TopicPeriodHeatRepository{pool: pool}
}

func (r *TopicPeriodHeatRepository) Upsert(ctx context.Context, h domain.TopicPeriodHeat) error {
	query := `
		INSERT INTO topic_period_heat (topic_id, date, period, heat_normalized)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (topic_id, date, period)
		DO UPDATE SET heat_normalized = EXCLUDED.heat_normalized
	`
	_, err := executor(ctx, r.pool).Exec(ctx, query, h.TopicID, h.Date, h.Period, h.HeatNormalized)
	if err != nil {
		return fmt.Errorf("upsert topic period heat: %w", err)
	}
	return nil
}

func (r *TopicPeriodHeatRepository) ZeroForBatch(ctx context.Context, topicIDs []int64, date, period string) error {
	if len(topicIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO topic_period_heat (topic_id, date, period, heat_normalized)
		SELECT unnest($1::bigint[]), $2, $3, 0
		ON CONFLICT (topic_id, date, period)
		DO UPDATE SET heat_normalized = 0
	`
	_, err := executor(ctx, r.pool).Exec(ctx, query, topicIDs, date, period)
	if err != nil {
		return fmt.Errorf("zero topic period heat for batch: %w", err)
	}
	return nil
}
