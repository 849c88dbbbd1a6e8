package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransactionManager runs fn inside a single database transaction,
// injecting it into ctx so repositories called within fn share it.
// Every multi-write operation in the pipeline goes through this
// rather than issuing independent statements.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SourceItemRepository persists SourceItem rows and their merge_status
// transitions.
type SourceItemRepository interface {
	Insert(ctx context.Context, item SourceItem) (*SourceItem, error)
	ListPendingEventMerge(ctx context.Context, period string) ([]SourceItem, error)
	ListPendingGlobalMerge(ctx context.Context, period string) ([]SourceItem, error)
	SetGroupAssignment(ctx context.Context, ids []uuid.UUID, groupID uuid.UUID, occurrenceCount int) error
	BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, from, to MergeStatus) error
	Get(ctx context.Context, id uuid.UUID) (*SourceItem, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]SourceItem, error)
	// CountByStatus reports the current item count in every
	// merge_status bucket, for the monitoring dashboard.
	CountByStatus(ctx context.Context) (map[MergeStatus]int, error)
}

// ErrDuplicateItem is returned by Insert when (platform, url, run_id)
// already exists.
var ErrDuplicateItem = errDuplicateItem{}

type errDuplicateItem struct{}

func (errDuplicateItem) Error() string { return "duplicate source item for platform/url/run" }

// TopicStatusFilter narrows ListRecentlyActive's candidate pool. The
// zero value, TopicStatusAny, matches every Status.
type TopicStatusFilter string

const (
	TopicStatusAny    TopicStatusFilter = ""
	TopicStatusActive TopicStatusFilter = TopicStatusFilter(StatusActive)
	TopicStatusEnded  TopicStatusFilter = TopicStatusFilter(StatusEnded)
)

// TopicRepository persists Topic rows.
type TopicRepository interface {
	Create(ctx context.Context, t Topic) (*Topic, error)
	Get(ctx context.Context, id int64) (*Topic, error)
	// ListRecentlyActive returns up to limit topics ordered by
	// last_active desc, restricted to scope (TopicStatusAny for no
	// restriction).
	ListRecentlyActive(ctx context.Context, limit int, scope TopicStatusFilter) ([]Topic, error)
	ListAll(ctx context.Context) ([]Topic, error)
	UpdateHeat(ctx context.Context, id int64, current, peak float64, lastActive string) error
	UpdateSummaryID(ctx context.Context, id int64, summaryID uuid.UUID) error
	ZeroHeat(ctx context.Context, ids []int64) error
}

// TopicNodeRepository persists TopicNode rows.
type TopicNodeRepository interface {
	Create(ctx context.Context, n TopicNode) (*TopicNode, error)
	ListByTopic(ctx context.Context, topicID int64) ([]TopicNode, error)
	ListRecentByTopic(ctx context.Context, topicID int64, limit int) ([]TopicNode, error)
}

// TopicPeriodHeatRepository persists TopicPeriodHeat rows, keyed by
// (topic_id, date, period) so repeated runs upsert rather than
// duplicate.
type TopicPeriodHeatRepository interface {
	Upsert(ctx context.Context, h TopicPeriodHeat) error
	ZeroForBatch(ctx context.Context, topicIDs []int64, date, period string) error
}

// SummaryRepository persists Summary rows. Summaries are append-only;
// there is no Update or Delete.
type SummaryRepository interface {
	Create(ctx context.Context, s Summary) (*Summary, error)
	Get(ctx context.Context, id uuid.UUID) (*Summary, error)
	ListByTopic(ctx context.Context, topicID int64) ([]Summary, error)
}

// RunCounts is the set of tallies a RunRecord closes out with.
type RunCounts struct {
	InputCount   int
	OutputCount  int
	SuccessCount int
	FailedCount  int
	DroppedCount int
}

// RunRecordRepository persists RunRecord audit rows.
type RunRecordRepository interface {
	Start(ctx context.Context, r RunRecord) (*RunRecord, error)
	Finish(ctx context.Context, id string, status RunStatus, counts RunCounts, errSummary string) error
	// LastByKind returns the most recently started RunRecord for each
	// RunKind that has ever run, for the monitoring dashboard's
	// staleness check.
	LastByKind(ctx context.Context) (map[RunKind]RunRecord, error)
}

// LLMJudgementRepository persists the append-only adjudicator audit
// log.
type LLMJudgementRepository interface {
	Create(ctx context.Context, j LLMJudgement) (*LLMJudgement, error)
	// ErrorRateSince reports the total judgement count and the count
	// whose Status is not "ok" in [since, now), for the monitoring
	// dashboard's adjudicator health check.
	ErrorRateSince(ctx context.Context, since time.Time) (total int, errored int, err error)
}

// CategoryMetric is the per-date, per-category heat rollup the
// global merger refreshes after each batch.
type CategoryMetric struct {
	Date       string
	Category   string
	TopicCount int
	TotalHeat  float64
}

// CategoryMetricsRepository persists CategoryMetric rollups.
type CategoryMetricsRepository interface {
	Refresh(ctx context.Context, date string) ([]CategoryMetric, error)
}
