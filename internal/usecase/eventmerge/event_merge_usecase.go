// Package eventmerge implements Stage One: clustering one period's
// ingested items into same-event groups, confirming each group with
// the LLM adjudicator, and filtering singleton occurrences out of the
// pipeline.
package eventmerge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"echoman/internal/domain"
	"echoman/internal/domain/eventcluster"
	"echoman/internal/domain/normalizer"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const embedBatchSize = 32

// Config bounds the clustering and confirmation thresholds, sourced
// from HALFDAY_MERGE_* environment variables.
type Config struct {
	SimilarityThreshold float64
	JaccardThreshold    float64
	LLMConfidence       float64
	MinOccurrence       int
}

// RunSummary reports the outcome of one Stage-One invocation.
type RunSummary struct {
	Period       string
	InputItems   int
	KeptItems    int
	DroppedItems int
	Groups       int
}

// EventMergeUsecase is the Stage-One entry point.
type EventMergeUsecase interface {
	Run(ctx context.Context, period string) (*RunSummary, error)
}

type eventMergeUsecase struct {
	items       domain.SourceItemRepository
	vectorIndex domain.VectorIndex
	encoder     domain.VectorEncoder
	adjudicator domain.Adjudicator
	runs        domain.RunRecordRepository
	tx          domain.TransactionManager
	normalizer  normalizer.Normalizer
	cfg         Config
}

func New(
	items domain.SourceItemRepository,
	vectorIndex domain.VectorIndex,
	encoder domain.VectorEncoder,
	adjudicator domain.Adjudicator,
	runs domain.RunRecordRepository,
	tx domain.TransactionManager,
	norm normalizer.Normalizer,
	cfg Config,
) EventMergeUsecase {
	return &eventMergeUsecase{
		items:       items,
		vectorIndex: vectorIndex,
		encoder:     encoder,
		adjudicator: adjudicator,
		runs:        runs,
		tx:          tx,
		normalizer:  norm,
		cfg:         cfg,
	}
}

func (u *eventMergeUsecase) Run(ctx context.Context, period string) (*RunSummary, error) {
	runID := uuid.New().String()
	startedAt := time.Now()
	if _, err := u.runs.Start(ctx, domain.RunRecord{
		ID: runID, Kind: domain.RunEventMerge, Period: period,
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
		InputCount:   summary.InputItems,
		OutputCount:  summary.KeptItems,
		SuccessCount: summary.KeptItems,
		DroppedCount: summary.DroppedItems,
	}, "")
	return summary, nil
}

func (u *eventMergeUsecase) run(ctx context.Context, period string) (*RunSummary, error) {
	items, err := u.items.ListPendingEventMerge(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("list pending event merge items: %w", err)
	}
	if len(items) == 0 {
		return &RunSummary{Period: period}, nil
	}

	if err := u.normalizer.Normalize(items); err != nil && err != normalizer.ErrEmptyPeriod {
		return nil, fmt.Errorf("normalize period heat: %w", err)
	}

	embeddings, err := u.embedAndUpsert(ctx, items)
	if err != nil {
		return nil, err
	}

	clusterItems := make([]eventcluster.Item, len(items))
	for i, it := range items {
		clusterItems[i] = eventcluster.Item{
			ID: it.ID, Title: it.Title, FetchedAt: it.FetchedAt,
			Embedding: embeddings[it.ID],
		}
	}

	groups := eventcluster.Cluster(clusterItems, eventcluster.Thresholds{
		CosineSimilarity: u.cfg.SimilarityThreshold,
		TitleJaccard:     u.cfg.JaccardThreshold,
	})

	byID := make(map[uuid.UUID]domain.SourceItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	var keptCount, droppedCount int
	keep := make(map[uuid.UUID][]uuid.UUID) // groupID -> member ids, size >= 2
	var singletons []uuid.UUID

	for _, g := range groups {
		if len(g.Members) < 2 {
			singletons = append(singletons, g.Representative.ID)
			continue
		}

		briefs := make([]domain.SourceItemBrief, len(g.Members))
		for i, m := range g.Members {
			it := byID[m.ID]
			briefs[i] = domain.SourceItemBrief{ID: it.ID.String(), Title: it.Title, Summary: it.Summary}
		}

		decision, _, err := u.adjudicator.ConfirmEventGroup(ctx, briefs)
		if err != nil || decision == nil || !decision.IsSameEvent || decision.Confidence < u.cfg.LLMConfidence {
			for _, m := range g.Members {
				singletons = append(singletons, m.ID)
			}
			continue
		}

		groupID := uuid.New()
		ids := make([]uuid.UUID, len(g.Members))
		for i, m := range g.Members {
			ids[i] = m.ID
		}
		keep[groupID] = ids
	}

	err = u.tx.RunInTx(ctx, func(ctx context.Context) error {
		for groupID, ids := range keep {
			if err := u.items.SetGroupAssignment(ctx, ids, groupID, len(ids)); err != nil {
				return err
			}
			if err := u.items.BulkUpdateStatus(ctx, ids, domain.PendingEventMerge, domain.PendingGlobalMerge); err != nil {
				return err
			}
			keptCount += len(ids)
		}

		for _, id := range singletons {
			groupID := uuid.New()
			if err := u.items.SetGroupAssignment(ctx, []uuid.UUID{id}, groupID, 1); err != nil {
				return err
			}
			if err := u.items.BulkUpdateStatus(ctx, []uuid.UUID{id}, domain.PendingEventMerge, domain.Discarded); err != nil {
				return err
			}
			droppedCount++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply occurrence filter: %w", err)
	}

	return &RunSummary{
		Period:       period,
		InputItems:   len(items),
		KeptItems:    keptCount,
		DroppedItems: droppedCount,
		Groups:       len(keep),
	}, nil
}

// embedAndUpsert encodes and upserts each item's title+summary in
// bounded-parallelism batches, returning each item's embedding keyed
// by ID so the caller can feed eventcluster without a second pass.
func (u *eventMergeUsecase) embedAndUpsert(ctx context.Context, items []domain.SourceItem) (map[uuid.UUID][]float32, error) {
	result := make(map[uuid.UUID][]float32, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(items); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, it := range batch {
				texts[i] = it.EmbeddingInput()
			}
			vectors, err := u.encoder.Encode(gctx, texts)
			if err != nil {
				return fmt.Errorf("encode batch: %w", err)
			}
			for i, it := range batch {
				if err := u.vectorIndex.Upsert(gctx, domain.VectorRecord{
					ID:         "source_item_" + it.ID.String(),
					Vector:     vectors[i],
					ObjectType: domain.ObjectSourceItem,
					ObjectID:   it.ID.String(),
					Document:   it.EmbeddingInput(),
				}); err != nil {
					return fmt.Errorf("upsert embedding: %w", err)
				}
				mu.Lock()
				result[it.ID] = vectors[i]
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
