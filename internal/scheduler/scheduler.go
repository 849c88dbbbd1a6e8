// Package scheduler fires the ingest/stage-one/stage-two pipeline
// stages at fixed Asia/Shanghai clock times and exposes the same three
// stages for manual, idempotent, per-period invocation from the HTTP
// boundary.
//
// Grounded on rag-orchestrator's internal/worker/worker.go: the same
// goroutine-loop-plus-logger shape, generalized from a single
// poll-and-backoff job queue to fixed daily fire times per stage (eight
// for ingest, four each for stage one and stage two).
// No cron-expression library appears anywhere in the retrieved pack —
// the teacher's own "scheduled work" idiom is a plain time.Ticker poll
// loop, so this keeps that idiom (time.Timer recomputed against the
// Asia/Shanghai clock each iteration) rather than introducing an
// unseen dependency like robfig/cron for a few fixed times a day.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"echoman/internal/domain"
	"echoman/internal/period"
	"echoman/internal/usecase/eventmerge"
	"echoman/internal/usecase/globalmerge"

	"github.com/google/uuid"
)

// IngestTrigger kicks off platform scraping for one period key. Actual
// scraping is a spec Non-goal; this is the seam a real scraper plugs
// into without the scheduler itself knowing anything about platforms.
type IngestTrigger interface {
	TriggerIngest(ctx context.Context, periodKey string) error
}

// NoopIngestTrigger is the default IngestTrigger until a real scraper
// is wired in: it does nothing and returns nil, so the ingest run that
// Scheduler.TriggerIngest records completes immediately and empty.
type NoopIngestTrigger struct{}

func (NoopIngestTrigger) TriggerIngest(ctx context.Context, periodKey string) error {
	return nil
}

const defaultSoftTimeout = 900 * time.Second

type stageKind int

const (
	stageIngest stageKind = iota
	stageOne
	stageTwo
)

func (k stageKind) String() string {
	switch k {
	case stageIngest:
		return "ingest"
	case stageOne:
		return "stage_one"
	case stageTwo:
		return "stage_two"
	default:
		return "unknown"
	}
}

type clockTime struct{ hour, minute int }

var (
	ingestTimes   = []clockTime{{8, 0}, {10, 0}, {12, 0}, {14, 0}, {16, 0}, {18, 0}, {20, 0}, {22, 0}}
	stageOneTimes = []clockTime{{8, 5}, {12, 5}, {18, 5}, {22, 5}}
	stageTwoTimes = []clockTime{{8, 20}, {12, 20}, {18, 20}, {22, 20}}
)

// Scheduler ticks the fixed-time pipeline schedule and also serves as
// the idempotent entry point the manual HTTP (/v1/pipeline/*) and CLI
// triggers call into.
type Scheduler struct {
	ingest      IngestTrigger
	eventMerge  eventmerge.EventMergeUsecase
	globalMerge globalmerge.GlobalMergeUsecase
	runs        domain.RunRecordRepository
	logger      *slog.Logger
	softTimeout time.Duration
	loc         *time.Location
}

// New builds a Scheduler. softTimeoutSeconds <= 0 falls back to the
// spec default of 900s (PIPELINE_RUN_SOFT_TIMEOUT_SECONDS).
func New(
	ingest IngestTrigger,
	eventMerge eventmerge.EventMergeUsecase,
	globalMerge globalmerge.GlobalMergeUsecase,
	runs domain.RunRecordRepository,
	logger *slog.Logger,
	softTimeoutSeconds int,
) (*Scheduler, error) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return nil, fmt.Errorf("load Asia/Shanghai location: %w", err)
	}
	softTimeout := defaultSoftTimeout
	if softTimeoutSeconds > 0 {
		softTimeout = time.Duration(softTimeoutSeconds) * time.Second
	}
	return &Scheduler{
		ingest: ingest, eventMerge: eventMerge, globalMerge: globalMerge,
		runs: runs, logger: logger, softTimeout: softTimeout, loc: loc,
	}, nil
}

type firing struct {
	at    time.Time
	stage stageKind
}

// Start blocks, firing each stage at its fixed time until ctx is
// canceled. Each firing runs in its own goroutine so a slow stage
// (bounded by the soft timeout) never delays the next tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler starting", "soft_timeout", s.softTimeout)
	for {
		next := s.nextFiring(time.Now())
		timer := time.NewTimer(time.Until(next.at))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopping")
			return
		case <-timer.C:
			go s.fire(context.Background(), next.stage)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, stage stageKind) {
	_, periodKey, err := period.Label(time.Now())
	if err != nil {
		s.logger.Error("resolve period for scheduled firing", "stage", stage.String(), "error", err)
		return
	}
	var runErr error
	switch stage {
	case stageIngest:
		runErr = s.TriggerIngest(ctx, periodKey)
	case stageOne:
		runErr = s.TriggerStageOne(ctx, periodKey)
	case stageTwo:
		runErr = s.TriggerStageTwo(ctx, periodKey)
	}
	if runErr != nil {
		s.logger.Error("scheduled stage failed", "stage", stage.String(), "period", periodKey, "error", runErr)
	}
}

// TriggerIngest runs the ingest hook for one period, with the soft
// timeout and a RunRecord wrapped around it. Safe to call manually for
// the same period more than once: the hook and downstream insert are
// responsible for their own idempotency (duplicate (platform, url,
// run_id) rows are rejected by SourceItemRepository.Insert).
func (s *Scheduler) TriggerIngest(ctx context.Context, periodKey string) error {
	ctx, cancel := context.WithTimeout(ctx, s.softTimeout)
	defer cancel()

	runID := uuid.New().String()
	if _, err := s.runs.Start(ctx, domain.RunRecord{ID: runID, Kind: domain.RunIngest, Period: periodKey, Status: domain.RunRunning, StartedAt: time.Now()}); err != nil {
		return fmt.Errorf("start ingest run record: %w", err)
	}

	err := s.ingest.TriggerIngest(ctx, periodKey)
	if err != nil {
		_ = s.runs.Finish(ctx, runID, domain.RunFailed, domain.RunCounts{}, err.Error())
		return fmt.Errorf("trigger ingest: %w", err)
	}
	_ = s.runs.Finish(ctx, runID, domain.RunSuccess, domain.RunCounts{}, "")
	s.logger.Info("ingest triggered", "period", periodKey)
	return nil
}

// TriggerStageOne runs event-merge for one period. eventmerge.Run
// already manages its own RunRecord.
func (s *Scheduler) TriggerStageOne(ctx context.Context, periodKey string) error {
	ctx, cancel := context.WithTimeout(ctx, s.softTimeout)
	defer cancel()

	summary, err := s.eventMerge.Run(ctx, periodKey)
	if err != nil {
		return fmt.Errorf("run stage one: %w", err)
	}
	s.logger.Info("stage one complete", "period", periodKey, "summary", summary)
	return nil
}

// TriggerStageTwo runs global-merge for one period, then closes out
// the period with a merge_completed RunRecord summarizing that both
// stages ran. globalmerge.Run already manages its own RunRecord and
// invokes the summary engine and category metrics refresh internally.
func (s *Scheduler) TriggerStageTwo(ctx context.Context, periodKey string) error {
	ctx, cancel := context.WithTimeout(ctx, s.softTimeout)
	defer cancel()

	summary, err := s.globalMerge.Run(ctx, periodKey)
	if err != nil {
		completeID := uuid.New().String()
		_, _ = s.runs.Start(ctx, domain.RunRecord{ID: completeID, Kind: domain.RunMergeComplete, Period: periodKey, Status: domain.RunRunning, StartedAt: time.Now()})
		_ = s.runs.Finish(ctx, completeID, domain.RunFailed, domain.RunCounts{}, err.Error())
		return fmt.Errorf("run stage two: %w", err)
	}

	completeID := uuid.New().String()
	if _, err := s.runs.Start(ctx, domain.RunRecord{ID: completeID, Kind: domain.RunMergeComplete, Period: periodKey, Status: domain.RunRunning, StartedAt: time.Now()}); err == nil {
		_ = s.runs.Finish(ctx, completeID, domain.RunSuccess, domain.RunCounts{}, "")
	}
	s.logger.Info("stage two complete", "period", periodKey, "summary", summary)
	return nil
}

// nextFiring returns the earliest upcoming fire time across all three
// schedules, recomputed fresh each call against the Asia/Shanghai
// clock so DST-free Shanghai offsets never drift.
func (s *Scheduler) nextFiring(now time.Time) firing {
	candidates := []firing{
		{at: nextOccurrence(now, s.loc, ingestTimes), stage: stageIngest},
		{at: nextOccurrence(now, s.loc, stageOneTimes), stage: stageOne},
		{at: nextOccurrence(now, s.loc, stageTwoTimes), stage: stageTwo},
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at.Before(candidates[j].at) })
	return candidates[0]
}

func nextOccurrence(now time.Time, loc *time.Location, times []clockTime) time.Time {
	local := now.In(loc)
	var best time.Time
	for _, dayOffset := range [2]int{0, 1} {
		day := local.AddDate(0, 0, dayOffset)
		for _, ct := range times {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), ct.hour, ct.minute, 0, 0, loc)
			if !candidate.After(now) {
				continue
			}
			if best.IsZero() || candidate.Before(best) {
				best = candidate
			}
		}
	}
	return best
}
