package monitoring

import (
	"context"
	"testing"
	"time"

	"echoman/internal/domain"

	"github.com/stretchr/testify/require"
)

type fakeRunsRepo struct{ last map[domain.RunKind]domain.RunRecord }

func (f *fakeRunsRepo) Start(ctx context.Context, r domain.RunRecord) (*domain.RunRecord, error) {
	return &r, nil
}
func (f *fakeRunsRepo) Finish(ctx context.Context, id string, status domain.RunStatus, counts domain.RunCounts, errSummary string) error {
	return nil
}
func (f *fakeRunsRepo) LastByKind(ctx context.Context) (map[domain.RunKind]domain.RunRecord, error) {
	return f.last, nil
}

type fakeJudgementsRepo struct {
	total, errored int
}

func (f *fakeJudgementsRepo) Create(ctx context.Context, j domain.LLMJudgement) (*domain.LLMJudgement, error) {
	return &j, nil
}
func (f *fakeJudgementsRepo) ErrorRateSince(ctx context.Context, since time.Time) (int, int, error) {
	return f.total, f.errored, nil
}

func TestSnapshot_FlagsStaleIngestionWhenOld(t *testing.T) {
	fixedNow := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	runs := &fakeRunsRepo{last: map[domain.RunKind]domain.RunRecord{
		domain.RunIngest: {Kind: domain.RunIngest, StartedAt: fixedNow.Add(-4 * time.Hour)},
	}}
	judgements := &fakeJudgementsRepo{total: 10, errored: 2}

	u := &monitoringUsecase{
		items:      itemsOnlyCountByStatus{counts: map[domain.MergeStatus]int{domain.Merged: 5}},
		runs:       runs,
		judgements: judgements,
		now:        func() time.Time { return fixedNow },
	}

	snap, err := u.Snapshot(context.Background())

	require.NoError(t, err)
	require.True(t, snap.IngestionStale)
	require.Equal(t, 5, snap.ItemsByStatus[domain.Merged])
	require.Equal(t, 0.2, snap.AdjudicatorErrorRate)
}

func TestSnapshot_FreshIngestionIsNotStale(t *testing.T) {
	fixedNow := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	runs := &fakeRunsRepo{last: map[domain.RunKind]domain.RunRecord{
		domain.RunIngest: {Kind: domain.RunIngest, StartedAt: fixedNow.Add(-30 * time.Minute)},
	}}
	judgements := &fakeJudgementsRepo{}

	u := &monitoringUsecase{
		items:      itemsOnlyCountByStatus{counts: map[domain.MergeStatus]int{}},
		runs:       runs,
		judgements: judgements,
		now:        func() time.Time { return fixedNow },
	}

	snap, err := u.Snapshot(context.Background())

	require.NoError(t, err)
	require.False(t, snap.IngestionStale)
	require.Zero(t, snap.AdjudicatorErrorRate)
}

// itemsOnlyCountByStatus is a minimal domain.SourceItemRepository stub:
// Snapshot only calls CountByStatus, so every other method panics if
// hit, surfacing a test that started depending on unintended behavior.
type itemsOnlyCountByStatus struct {
	domain.SourceItemRepository
	counts map[domain.MergeStatus]int
}

func (i itemsOnlyCountByStatus) CountByStatus(ctx context.Context) (map[domain.MergeStatus]int, error) {
	return i.counts, nil
}
