// Package globalmerge implements Stage Two: associating each period's
// confirmed event groups with a long-lived cross-period Topic, either
// folding a group into an existing Topic or starting a new one.
//
// Each group is processed by its own worker with its own database
// transaction, rather than one shared session for the whole batch —
// a group that needs to retry or fails independently of every other
// group in the same run.
package globalmerge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"echoman/internal/domain"
	"echoman/internal/domain/normalizer"
	"echoman/internal/usecase/categorymetrics"
	"echoman/internal/usecase/summaryengine"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const defaultRecallTopK = 3

// Config bounds the recall, confirmation and batching behavior,
// sourced from GLOBAL_MERGE_* and SUMMARY_* environment variables.
type Config struct {
	TopKCandidates      int // candidate topics recalled per group; <= 0 uses defaultRecallTopK
	RecallScope         domain.TopicStatusFilter // TopicStatusAny recalls from every topic regardless of status
	MinSimilarity       float64
	ConfidenceThreshold float64
	Concurrent          int
	MaxBatchSize        int
	SummaryConcurrent   int
	NewTopicKeepRatio   float64 // 1.0 disables pruning
}

// RunSummary reports the outcome of one Stage-Two invocation.
type RunSummary struct {
	Period         string
	GroupsTotal    int
	GroupsDropped  int // exceeded MaxBatchSize this run, left for next run
	GroupsMerged   int
	GroupsNew      int
	GroupsFailed   int
	TopicsZeroed   int
}

// GlobalMergeUsecase is the Stage-Two entry point.
type GlobalMergeUsecase interface {
	Run(ctx context.Context, period string) (*RunSummary, error)
}

type globalMergeUsecase struct {
	items           domain.SourceItemRepository
	topics          domain.TopicRepository
	topicNodes      domain.TopicNodeRepository
	periodHeat      domain.TopicPeriodHeatRepository
	summaries       domain.SummaryRepository
	vectorIndex     domain.VectorIndex
	encoder         domain.VectorEncoder
	adjudicator     domain.Adjudicator
	summaryEngine   summaryengine.SummaryEngine
	categoryMetrics categorymetrics.CategoryMetricsUsecase
	runs            domain.RunRecordRepository
	tx              domain.TransactionManager
	normalizer      normalizer.Normalizer
	classifier      domain.Classifier
	cfg             Config
}

func New(
	items domain.SourceItemRepository,
	topics domain.TopicRepository,
	topicNodes domain.TopicNodeRepository,
	periodHeat domain.TopicPeriodHeatRepository,
	summaries domain.SummaryRepository,
	vectorIndex domain.VectorIndex,
	encoder domain.VectorEncoder,
	adjudicator domain.Adjudicator,
	summaryEngine summaryengine.SummaryEngine,
	categoryMetrics categorymetrics.CategoryMetricsUsecase,
	runs domain.RunRecordRepository,
	tx domain.TransactionManager,
	norm normalizer.Normalizer,
	classifier domain.Classifier,
	cfg Config,
) GlobalMergeUsecase {
	return &globalMergeUsecase{
		items: items, topics: topics, topicNodes: topicNodes, periodHeat: periodHeat,
		summaries: summaries, vectorIndex: vectorIndex, encoder: encoder, adjudicator: adjudicator,
		summaryEngine: summaryEngine, categoryMetrics: categoryMetrics, runs: runs, tx: tx,
		normalizer: norm, classifier: classifier, cfg: cfg,
	}
}

func (u *globalMergeUsecase) topKCandidates() int {
	if u.cfg.TopKCandidates > 0 {
		return u.cfg.TopKCandidates
	}
	return defaultRecallTopK
}

func (u *globalMergeUsecase) Run(ctx context.Context, period string) (*RunSummary, error) {
	runID := uuid.New().String()
	startedAt := time.Now()
	if _, err := u.runs.Start(ctx, domain.RunRecord{
		ID: runID, Kind: domain.RunGlobalMerge, Period: period,
		Status: domain.RunRunning, StartedAt: startedAt,
	}); err != nil {
		return nil, fmt.Errorf("start run record: %w", err)
	}

	summary, err := u.run(ctx, period)
	if err != nil {
		_ = u.runs.Finish(ctx, runID, domain.RunFailed, domain.RunCounts{}, err.Error())
		return nil, err
	}

	_ = u.runs.Finish(ctx, runID, domain.RunSuccess, domain.RunCounts{
		InputCount:   summary.GroupsTotal,
		OutputCount:  summary.GroupsMerged + summary.GroupsNew,
		SuccessCount: summary.GroupsMerged + summary.GroupsNew,
		FailedCount:  summary.GroupsFailed,
		DroppedCount: summary.GroupsDropped,
	}, "")
	return summary, nil
}

type groupResult struct {
	topicID int64
	isNew   bool
	heat    float64
}

func (u *globalMergeUsecase) run(ctx context.Context, period string) (*RunSummary, error) {
	items, err := u.items.ListPendingGlobalMerge(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("list pending global merge items: %w", err)
	}
	if len(items) == 0 {
		return &RunSummary{Period: period}, nil
	}

	// Re-derive heat_normalized for this read: stage one's normalizer
	// mutates in memory only, so every consumer of per-item heat
	// re-runs the same idempotent pass rather than trusting a stale
	// column.
	if err := u.normalizer.Normalize(items); err != nil && err != normalizer.ErrEmptyPeriod {
		return nil, fmt.Errorf("normalize period heat: %w", err)
	}

	date, periodLabel := splitPeriod(period)
	groups := groupByPeriodGroup(items)

	summary := &RunSummary{Period: period, GroupsTotal: len(groups)}
	if len(groups) > u.cfg.MaxBatchSize {
		sort.Slice(groups, func(i, j int) bool {
			return earliestFetch(groups[i]).Before(earliestFetch(groups[j]))
		})
		summary.GroupsDropped = len(groups) - u.cfg.MaxBatchSize
		slog.Warn("global merge batch exceeds max size, deferring overflow to next run",
			"period", period, "total_groups", len(groups), "max_batch_size", u.cfg.MaxBatchSize, "dropped", summary.GroupsDropped)
		groups = groups[:u.cfg.MaxBatchSize]
	}

	concurrent := u.cfg.Concurrent
	if concurrent < 1 {
		concurrent = 1
	}
	sem := semaphore.NewWeighted(int64(concurrent))

	var mu sync.Mutex
	var results []groupResult

	g, gctx := errgroup.WithContext(ctx)
	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			// An acquired group runs to completion even if the run's soft
			// timeout expires; only groups not yet started are stopped.
			res, err := u.processGroup(context.WithoutCancel(gctx), date, periodLabel, grp)
			if err != nil {
				slog.Error("global merge group failed", "period", period, "group_id", grp.groupID, "error", err)
				mu.Lock()
				summary.GroupsFailed++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			results = append(results, res)
			if res.isNew {
				summary.GroupsNew++
			} else {
				summary.GroupsMerged++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("global merge fan-out: %w", err)
	}

	u.regenerateFullSummaries(ctx, touchedTopics(results))
	summary.TopicsZeroed = u.pruneNewTopics(ctx, results)

	if _, err := u.categoryMetrics.Refresh(ctx, date); err != nil {
		slog.Error("category metrics refresh failed", "period", period, "error", err)
	}

	return summary, nil
}

type sourceGroup struct {
	groupID uuid.UUID
	members []domain.SourceItem
}

func groupByPeriodGroup(items []domain.SourceItem) []sourceGroup {
	byGroup := make(map[uuid.UUID][]domain.SourceItem)
	var order []uuid.UUID
	for _, it := range items {
		if it.PeriodMergeGroupID == nil {
			continue
		}
		gid := *it.PeriodMergeGroupID
		if _, ok := byGroup[gid]; !ok {
			order = append(order, gid)
		}
		byGroup[gid] = append(byGroup[gid], it)
	}
	groups := make([]sourceGroup, 0, len(order))
	for _, gid := range order {
		groups = append(groups, sourceGroup{groupID: gid, members: byGroup[gid]})
	}
	return groups
}

func earliestFetch(g sourceGroup) time.Time {
	earliest := g.members[0].FetchedAt
	for _, m := range g.members[1:] {
		if m.FetchedAt.Before(earliest) {
			earliest = m.FetchedAt
		}
	}
	return earliest
}

func representative(g sourceGroup) domain.SourceItem {
	rep := g.members[0]
	for _, m := range g.members[1:] {
		if m.FetchedAt.Before(rep.FetchedAt) {
			rep = m
		}
	}
	return rep
}

func groupHeat(g sourceGroup) float64 {
	var total float64
	for _, m := range g.members {
		total += m.HeatNormalized
	}
	return total
}

// processGroup runs the recall -> decide -> mutate sequence for one
// group inside a single transaction. The new-topic path's placeholder
// summary and vector upsert intentionally happen after the relational
// commit, while the group's semaphore slot is still held, so a
// crash between commit and summary write is the only partial state
// that can occur.
func (u *globalMergeUsecase) processGroup(ctx context.Context, date, periodLabel string, grp sourceGroup) (groupResult, error) {
	rep := representative(grp)
	heat := groupHeat(grp)

	vectors, err := u.encoder.Encode(ctx, []string{rep.EmbeddingInput()})
	if err != nil {
		return groupResult{}, fmt.Errorf("encode representative: %w", err)
	}
	repVector := vectors[0]

	candidates, err := u.recallCandidates(ctx, repVector)
	if err != nil {
		return groupResult{}, fmt.Errorf("recall candidates: %w", err)
	}

	repBrief := domain.SourceItemBrief{ID: rep.ID.String(), Title: rep.Title, Summary: rep.Summary}
	decision, _, err := u.adjudicator.DecideTopicAssociation(ctx, repBrief, candidates)
	mergeTarget := int64(0)
	if err == nil && decision != nil && decision.Decision == "merge" &&
		decision.Confidence >= u.cfg.ConfidenceThreshold && decision.TargetTopicID != nil {
		mergeTarget = *decision.TargetTopicID
	}

	memberIDs := make([]uuid.UUID, len(grp.members))
	for i, m := range grp.members {
		memberIDs[i] = m.ID
	}

	var result groupResult
	err = u.tx.RunInTx(ctx, func(ctx context.Context) error {
		if mergeTarget != 0 {
			// Re-resolve the target inside this transaction: the
			// candidate list was built from a point-in-time vector
			// recall, and another group's worker may have since
			// folded the same topic away or this topic may simply no
			// longer exist.
			existing, err := u.topics.Get(ctx, mergeTarget)
			if err != nil {
				return fmt.Errorf("resolve merge target: %w", err)
			}
			if existing != nil {
				if err := u.mergeInto(ctx, *existing, grp, memberIDs, heat, date, periodLabel); err != nil {
					return err
				}
				result = groupResult{topicID: existing.ID, isNew: false, heat: heat}
				return nil
			}
			// Target vanished: fall through to the new-topic path.
		}

		topic, err := u.createTopic(ctx, grp, memberIDs, heat, date, periodLabel)
		if err != nil {
			return err
		}
		result = groupResult{topicID: topic.ID, isNew: true, heat: heat}
		return nil
	})
	if err != nil {
		return groupResult{}, err
	}

	if result.isNew {
		nodes, err := u.topicNodes.ListByTopic(ctx, result.topicID)
		if err != nil {
			return groupResult{}, fmt.Errorf("list nodes for placeholder: %w", err)
		}
		topic, err := u.topics.Get(ctx, result.topicID)
		if err != nil || topic == nil {
			return groupResult{}, fmt.Errorf("reload new topic: %w", err)
		}
		if _, err := u.summaryEngine.GeneratePlaceholder(ctx, *topic, nodes); err != nil {
			return groupResult{}, fmt.Errorf("generate placeholder summary: %w", err)
		}
	}

	return result, nil
}

func (u *globalMergeUsecase) recallCandidates(ctx context.Context, repVector []float32) ([]domain.TopicBrief, error) {
	hits, err := u.vectorIndex.Query(ctx, repVector, u.topKCandidates(), domain.VectorWhere{ObjectType: domain.ObjectTopicSummary})
	if err != nil {
		return nil, err
	}

	var candidates []domain.TopicBrief
	for _, h := range hits {
		if float64(h.Similarity()) < u.cfg.MinSimilarity {
			continue
		}
		if h.Record.TopicID == nil {
			continue
		}
		candidates = append(candidates, domain.TopicBrief{ID: *h.Record.TopicID, Summary: h.Record.Document})
	}
	if len(candidates) > 0 {
		return candidates, nil
	}

	// Recall came back empty or entirely below threshold: fall back
	// to recently-active topics so the adjudicator still gets a
	// chance to recognize a continuation the vector index missed.
	recent, err := u.topics.ListRecentlyActive(ctx, u.topKCandidates(), u.cfg.RecallScope)
	if err != nil {
		return nil, err
	}
	for _, t := range recent {
		text := ""
		if t.SummaryID != nil {
			if s, err := u.summaries.Get(ctx, *t.SummaryID); err == nil && s != nil {
				text = s.Text
			}
		}
		candidates = append(candidates, domain.TopicBrief{ID: t.ID, Summary: text})
	}
	return candidates, nil
}

func (u *globalMergeUsecase) mergeInto(ctx context.Context, topic domain.Topic, grp sourceGroup, memberIDs []uuid.UUID, heat float64, date, periodLabel string) error {
	if err := u.items.BulkUpdateStatus(ctx, memberIDs, domain.PendingGlobalMerge, domain.Merged); err != nil {
		return fmt.Errorf("mark group merged: %w", err)
	}
	for _, m := range grp.members {
		if _, err := u.topicNodes.Create(ctx, domain.TopicNode{
			ID: uuid.New(), TopicID: topic.ID, SourceItemID: m.ID, PeriodKey: periodLabel, JoinedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("create topic node: %w", err)
		}
	}
	if err := u.periodHeat.Upsert(ctx, domain.TopicPeriodHeat{TopicID: topic.ID, Date: date, Period: periodLabel, HeatNormalized: heat}); err != nil {
		return fmt.Errorf("upsert period heat: %w", err)
	}
	peak := topic.PeakHeatNormalized
	if heat > peak {
		peak = heat
	}
	if err := u.topics.UpdateHeat(ctx, topic.ID, heat, peak, time.Now().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("update topic heat: %w", err)
	}
	return nil
}

func (u *globalMergeUsecase) createTopic(ctx context.Context, grp sourceGroup, memberIDs []uuid.UUID, heat float64, date, periodLabel string) (*domain.Topic, error) {
	briefs := make([]domain.SourceItemBrief, len(grp.members))
	for i, m := range grp.members {
		briefs[i] = domain.SourceItemBrief{ID: m.ID.String(), Title: m.Title, Summary: m.Summary}
	}
	category, confidence, method, err := u.classifier.Classify(ctx, briefs)
	if err != nil {
		slog.Warn("category classification failed, leaving topic uncategorized", "error", err)
		category, confidence, method = "", 0, "unclassified"
	}

	topic := domain.Topic{
		Status: domain.StatusActive, Category: category, CategoryConfidence: confidence, CategoryMethod: method,
		CreatedAt: time.Now(), LastActive: time.Now(),
		CurrentHeatNormalized: heat, PeakHeatNormalized: heat,
	}
	saved, err := u.topics.Create(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	if err := u.items.BulkUpdateStatus(ctx, memberIDs, domain.PendingGlobalMerge, domain.Merged); err != nil {
		return nil, fmt.Errorf("mark group merged: %w", err)
	}
	for _, m := range grp.members {
		if _, err := u.topicNodes.Create(ctx, domain.TopicNode{
			ID: uuid.New(), TopicID: saved.ID, SourceItemID: m.ID, PeriodKey: periodLabel, JoinedAt: time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("create topic node: %w", err)
		}
	}
	if err := u.periodHeat.Upsert(ctx, domain.TopicPeriodHeat{TopicID: saved.ID, Date: date, Period: periodLabel, HeatNormalized: heat}); err != nil {
		return nil, fmt.Errorf("upsert period heat: %w", err)
	}
	return saved, nil
}

func touchedTopics(results []groupResult) []int64 {
	seen := make(map[int64]struct{}, len(results))
	var ids []int64
	for _, r := range results {
		if _, ok := seen[r.topicID]; ok {
			continue
		}
		seen[r.topicID] = struct{}{}
		ids = append(ids, r.topicID)
	}
	return ids
}

// regenerateFullSummaries overwrites every touched topic's summary
// (placeholder or prior full summary alike) with a freshly generated
// one, bounded to SummaryConcurrent concurrent LLM calls.
func (u *globalMergeUsecase) regenerateFullSummaries(ctx context.Context, topicIDs []int64) {
	concurrent := u.cfg.SummaryConcurrent
	if concurrent < 1 {
		concurrent = 1
	}
	sem := semaphore.NewWeighted(int64(concurrent))
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range topicIDs {
		id := id
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			topic, err := u.topics.Get(gctx, id)
			if err != nil || topic == nil {
				return nil
			}
			if _, err := u.summaryEngine.GenerateFull(gctx, *topic); err != nil {
				slog.Error("full summary generation failed", "topic_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// pruneNewTopics zeroes (never deletes) heat for the lowest-heat
// fraction of this batch's brand-new topics when NewTopicKeepRatio is
// below 1.0, so a flood of one-off new topics doesn't dominate the
// trending view until they prove they recur.
func (u *globalMergeUsecase) pruneNewTopics(ctx context.Context, results []groupResult) int {
	if u.cfg.NewTopicKeepRatio >= 1.0 {
		return 0
	}
	var fresh []groupResult
	for _, r := range results {
		if r.isNew {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		return 0
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].heat < fresh[j].heat })

	keep := int(float64(len(fresh)) * u.cfg.NewTopicKeepRatio)
	toZero := fresh[:len(fresh)-keep]
	if len(toZero) == 0 {
		return 0
	}
	ids := make([]int64, len(toZero))
	for i, r := range toZero {
		ids[i] = r.topicID
	}
	if err := u.topics.ZeroHeat(ctx, ids); err != nil {
		slog.Error("zero heat for pruned new topics failed", "error", err)
		return 0
	}
	return len(ids)
}

// splitPeriod breaks a "YYYY-MM-DD_LABEL" period key into its date
// and period-label halves.
func splitPeriod(period string) (date, label string) {
	parts := strings.SplitN(period, "_", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}
