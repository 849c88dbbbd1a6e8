package categorymetrics

import (
	"context"
	"errors"
	"testing"

	"echoman/internal/domain"

	"github.com/stretchr/testify/require"
)

type fakeCategoryMetricsRepo struct {
	metrics []domain.CategoryMetric
	err     error
	lastDate string
}

func (f *fakeCategoryMetricsRepo) Refresh(ctx context.Context, date string) ([]domain.CategoryMetric, error) {
	f.lastDate = date
	if f.err != nil {
		return nil, f.err
	}
	return f.metrics, nil
}

func TestRefresh_ReturnsRepoResult(t *testing.T) {
	repo := &fakeCategoryMetricsRepo{metrics: []domain.CategoryMetric{
		{Date: "2026-08-02", Category: "tech", TopicCount: 3, TotalHeat: 12.5},
	}}
	u := New(repo)

	metrics, err := u.Refresh(context.Background(), "2026-08-02")

	require.NoError(t, err)
	require.Equal(t, "2026-08-02", repo.lastDate)
	require.Len(t, metrics, 1)
	require.Equal(t, "tech", metrics[0].Category)
}

func TestRefresh_WrapsRepoError(t *testing.T) {
	repo := &fakeCategoryMetricsRepo{err: errors.New("boom")}
	u := New(repo)

	_, err := u.Refresh(context.Background(), "2026-08-02")

	require.Error(t, err)
	require.Contains(t, err.Error(), "refresh category metrics")
}
