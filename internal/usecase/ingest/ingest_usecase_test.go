package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"echoman/internal/domain"
	"echoman/internal/domain/noisefilter"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeItemsRepo struct {
	inserted []domain.SourceItem
	err      error
}

func (f *fakeItemsRepo) Insert(ctx context.Context, item domain.SourceItem) (*domain.SourceItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inserted = append(f.inserted, item)
	return &item, nil
}
func (f *fakeItemsRepo) ListPendingEventMerge(ctx context.Context, period string) ([]domain.SourceItem, error) {
	return nil, nil
}
func (f *fakeItemsRepo) ListPendingGlobalMerge(ctx context.Context, period string) ([]domain.SourceItem, error) {
	return nil, nil
}
func (f *fakeItemsRepo) SetGroupAssignment(ctx context.Context, ids []uuid.UUID, groupID uuid.UUID, occurrenceCount int) error {
	return nil
}
func (f *fakeItemsRepo) BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, from, to domain.MergeStatus) error {
	return nil
}
func (f *fakeItemsRepo) Get(ctx context.Context, id uuid.UUID) (*domain.SourceItem, error) {
	return nil, nil
}
func (f *fakeItemsRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.SourceItem, error) {
	return nil, nil
}
func (f *fakeItemsRepo) CountByStatus(ctx context.Context) (map[domain.MergeStatus]int, error) {
	return nil, nil
}

func validDraft() Draft {
	return Draft{
		Platform: domain.PlatformWeibo,
		Title:    "a real headline",
		URL:      "https://weibo.com/status/1",
		RunID:    "run-1",
	}
}

func TestIngest_AssignsPeriodAndPendingStatus(t *testing.T) {
	items := &fakeItemsRepo{}
	uc := New(items, noisefilter.New("", ""))
	fixed := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	uc.(*ingestUsecase).now = func() time.Time { return fixed }

	d := validDraft()
	item, err := uc.Ingest(context.Background(), d)

	require.NoError(t, err)
	require.Len(t, items.inserted, 1)
	require.Equal(t, domain.PendingEventMerge, item.MergeStatus)
	require.NotEmpty(t, item.Period)
	require.NotEqual(t, uuid.Nil, item.ID)
}

func TestIngest_UsesExplicitFetchedAt(t *testing.T) {
	items := &fakeItemsRepo{}
	uc := New(items, noisefilter.New("", ""))

	d := validDraft()
	d.FetchedAt = time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	item, err := uc.Ingest(context.Background(), d)

	require.NoError(t, err)
	require.Equal(t, d.FetchedAt, item.FetchedAt)
}

func TestIngest_RejectsUnknownPlatform(t *testing.T) {
	items := &fakeItemsRepo{}
	uc := New(items, noisefilter.New("", ""))

	d := validDraft()
	d.Platform = "unknown"
	_, err := uc.Ingest(context.Background(), d)

	require.ErrorIs(t, err, ErrInvalidDraft)
	require.Empty(t, items.inserted)
}

func TestIngest_RejectsEmptyTitle(t *testing.T) {
	items := &fakeItemsRepo{}
	uc := New(items, noisefilter.New("", ""))

	d := validDraft()
	d.Title = "   "
	_, err := uc.Ingest(context.Background(), d)

	require.ErrorIs(t, err, ErrInvalidDraft)
}

func TestIngest_RejectsEmptyRunID(t *testing.T) {
	items := &fakeItemsRepo{}
	uc := New(items, noisefilter.New("", ""))

	d := validDraft()
	d.RunID = ""
	_, err := uc.Ingest(context.Background(), d)

	require.ErrorIs(t, err, ErrInvalidDraft)
}

func TestIngest_RejectsNoisyTitle(t *testing.T) {
	items := &fakeItemsRepo{}
	uc := New(items, noisefilter.New("直播预告", ""))

	d := validDraft()
	d.Title = "今晚直播预告：xxx"
	_, err := uc.Ingest(context.Background(), d)

	require.ErrorIs(t, err, ErrNoisyTitle)
	require.Empty(t, items.inserted)
}

func TestIngest_PropagatesDuplicateError(t *testing.T) {
	items := &fakeItemsRepo{err: domain.ErrDuplicateItem}
	uc := New(items, noisefilter.New("", ""))

	_, err := uc.Ingest(context.Background(), validDraft())

	require.ErrorIs(t, err, domain.ErrDuplicateItem)
}

func TestIngest_WrapsOtherRepoErrors(t *testing.T) {
	items := &fakeItemsRepo{err: errors.New("connection reset")}
	uc := New(items, noisefilter.New("", ""))

	_, err := uc.Ingest(context.Background(), validDraft())

	require.Error(t, err)
	require.Contains(t, err.Error(), "insert source item")
}
