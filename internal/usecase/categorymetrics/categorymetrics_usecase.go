// Package categorymetrics refreshes the per-date, per-category heat
// rollup stage two's New/Merge paths leave stale after every batch.
package categorymetrics

import (
	"context"
	"fmt"
	"log/slog"

	"echoman/internal/domain"
)

// CategoryMetricsUsecase is the entry point stage two calls once per
// Run, after every group in the batch has been committed.
type CategoryMetricsUsecase interface {
	Refresh(ctx context.Context, date string) ([]domain.CategoryMetric, error)
}

type categoryMetricsUsecase struct {
	repo domain.CategoryMetricsRepository
}

func New(repo domain.CategoryMetricsRepository) CategoryMetricsUsecase {
	return &categoryMetricsUsecase{repo: repo}
}

// Refresh recomputes the rollup for date and logs the resulting
// category count, mirroring original_source's
// category_metrics_service.py logging a summary line after each
// refresh rather than returning silently.
func (u *categoryMetricsUsecase) Refresh(ctx context.Context, date string) ([]domain.CategoryMetric, error) {
	metrics, err := u.repo.Refresh(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("refresh category metrics: %w", err)
	}
	slog.Info("category metrics refreshed", "date", date, "categories", len(metrics))
	return metrics, nil
}
