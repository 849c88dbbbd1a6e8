package repository

import (
	"context"
	"fmt"

	"echoman/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CategoryMetricsRepository refreshes the per-date, per-category heat
// rollup from the current state of active topics.
type CategoryMetricsRepository struct {
	pool *pgxpool.Pool
}

func NewCategoryMetricsRepository(pool *pgxpool.Pool) domain.CategoryMetricsRepository {
	return &CategoryMetricsRepository{pool: pool}
}

// Refresh recomputes and persists category_metrics for date from the
// current topics table, then returns the refreshed rows.
func (r *CategoryMetricsRepository) Refresh(ctx context.Context, date string) ([]domain.CategoryMetric, error) {
	upsert := `
		INSERT INTO category_metrics (date, category, topic_count, total_heat)
		SELECT $1, category, COUNT(*), COALESCE(SUM(current_heat_normalized), 0)
		FROM topics
		WHERE status = $2
		GROUP BY category
		ON CONFLICT (date, category)
		DO UPDATE SET topic_count = EXCLUDED.topic_count, total_heat = EXCLUDED.total_heat
	`
	if _, err := executor(ctx, r.pool).Exec(ctx, upsert, date, domain.StatusActive); err != nil {
		return nil, fmt.Errorf("refresh category metrics: %w", err)
	}

	query := `
		SELECT date, category, topic_count, total_heat
		FROM category_metrics WHERE date = $1
		ORDER BY total_heat DESC
	`
	rows, err := executor(ctx, r.pool).Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("list category metrics: %w", err)
	}
	defer rows.Close()

	var metrics []domain.CategoryMetric
	for rows.Next() {
		var m domain.CategoryMetric
		if err := rows.Scan(&m.Date, &m.Category, &m.TopicCount, &m.TotalHeat); err != nil {
			return nil, fmt.Errorf("scan category metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category metrics: %w", err)
	}
	return metrics, nil
}
