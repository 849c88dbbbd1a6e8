// Package monitoring exposes read-only operational counters over the
// pipeline's own tables, grounded on original_source's
// monitoring_service.py (get_health_status / get_metrics_summary)
// adapted to the repository contracts already defined for the merge
// and adjudication stages rather than issuing ad hoc SQL.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"echoman/internal/domain"
)

// StalenessWindow is how long since the last ingest run before the
// dashboard flags ingestion as stale, mirroring the Python service's
// three-hour threshold.
const StalenessWindow = 3 * time.Hour

// ErrorRateWindow bounds how far back the adjudicator error rate
// looks, mirroring the Python service's 24h metrics summary window.
const ErrorRateWindow = 24 * time.Hour

// Snapshot is the full set of counters the monitoring dashboard
// renders in one read.
type Snapshot struct {
	ItemsByStatus      map[domain.MergeStatus]int
	LastRunByKind      map[domain.RunKind]domain.RunRecord
	IngestionStale     bool
	AdjudicatorTotal   int
	AdjudicatorErrored int
	AdjudicatorErrorRate float64
	GeneratedAt        time.Time
}

// MonitoringUsecase is the entry point an HTTP handler or CLI command
// calls to render the operational dashboard.
type MonitoringUsecase interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

type monitoringUsecase struct {
	items       domain.SourceItemRepository
	runs        domain.RunRecordRepository
	judgements  domain.LLMJudgementRepository
	now         func() time.Time
}

func New(items domain.SourceItemRepository, runs domain.RunRecordRepository, judgements domain.LLMJudgementRepository) MonitoringUsecase {
	return &monitoringUsecase{items: items, runs: runs, judgements: judgements, now: time.Now}
}

func (u *monitoringUsecase) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := u.now()

	byStatus, err := u.items.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count items by status: %w", err)
	}

	lastRuns, err := u.runs.LastByKind(ctx)
	if err != nil {
		return nil, fmt.Errorf("list last run by kind: %w", err)
	}

	stale := true
	if ingest, ok := lastRuns[domain.RunIngest]; ok {
		stale = now.Sub(ingest.StartedAt) > StalenessWindow
	}

	total, errored, err := u.judgements.ErrorRateSince(ctx, now.Add(-ErrorRateWindow))
	if err != nil {
		return nil, fmt.Errorf("query adjudicator error rate: %w", err)
	}
	var rate float64
	if total > 0 {
		rate = float64(errored) / float64(total)
	}

	return &Snapshot{
		ItemsByStatus:        byStatus,
		LastRunByKind:        lastRuns,
		IngestionStale:       stale,
		AdjudicatorTotal:     total,
		AdjudicatorErrored:   errored,
		AdjudicatorErrorRate: rate,
		GeneratedAt:          now,
	}, nil
}
