// Package reconcile implements the vector-index drift reconciliation
// sweep: a resumable walk over Topics and SourceItems that re-upserts
// any embedding the vector index has lost relative to the relational
// store.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"echoman/internal/domain"
)

// Sweeper is the entry point an operator CLI or scheduled job calls to
// advance one reconciliation pass. Like eventmerge and globalmerge, a
// sweep is scoped to one period batch at a time; period is ignored by
// a Sweeper built over Topics, which are not period-scoped.
type Sweeper interface {
	Sweep(ctx context.Context, period string, batchSize int) (*SweepSummary, error)
}

// SweepSummary reports the outcome of one Sweep call.
type SweepSummary struct {
	Scanned  int
	Repaired int
}

type sourceItemSweeper struct {
	items       domain.SourceItemRepository
	vectorIndex domain.VectorIndex
	encoder     domain.VectorEncoder
	cursors     *CursorManager
}

// NewSourceItemSweeper builds a Sweeper over SourceItems that have
// already reached pending_global_merge (and so were assigned an
// embedding during event merge), persisting its watermark at
// cursorPath. This is the set the domain contract exposes a listing
// query for; Merged items are recalled only through the vector index
// itself and have no separate listing method to scan.
func NewSourceItemSweeper(
	items domain.SourceItemRepository,
	vectorIndex domain.VectorIndex,
	encoder domain.VectorEncoder,
	cursorPath string,
) Sweeper {
	return &sourceItemSweeper{items: items, vectorIndex: vectorIndex, encoder: encoder, cursors: NewCursorManager(cursorPath)}
}

func (s *sourceItemSweeper) Sweep(ctx context.Context, period string, batchSize int) (*SweepSummary, error) {
	if err := s.cursors.Lock(); err != nil {
		return nil, fmt.Errorf("lock reconcile cursor: %w", err)
	}
	defer s.cursors.Unlock()

	cursor, err := s.cursors.Load()
	if err != nil {
		return nil, fmt.Errorf("load reconcile cursor: %w", err)
	}

	items, err := s.items.ListPendingGlobalMerge(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("list source items for reconcile: %w", err)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].FetchedAt.Equal(items[j].FetchedAt) {
			return items[i].ID.String() < items[j].ID.String()
		}
		return items[i].FetchedAt.Before(items[j].FetchedAt)
	})

	summary := &SweepSummary{}
	for _, it := range items {
		if !afterWatermark(it.FetchedAt, it.ID.String(), cursor) {
			continue
		}
		if summary.Scanned >= batchSize {
			break
		}
		summary.Scanned++

		repaired, err := s.repair(ctx, it)
		if err != nil {
			slog.Error("reconcile sweep: repair source item failed", "id", it.ID, "error", err)
		} else if repaired {
			summary.Repaired++
		}

		cursor.LastUpdatedAt = it.FetchedAt
		cursor.LastID = it.ID.String()
		cursor.ProcessedCount++
	}

	cursor.UpdatedAt = time.Now()
	if err := s.cursors.Save(cursor); err != nil {
		return nil, fmt.Errorf("save reconcile cursor: %w", err)
	}
	return summary, nil
}

func (s *sourceItemSweeper) repair(ctx context.Context, it domain.SourceItem) (bool, error) {
	vectors, err := s.encoder.Encode(ctx, []string{it.EmbeddingInput()})
	if err != nil {
		return false, fmt.Errorf("encode source item: %w", err)
	}
	vec := vectors[0]
	wantID := "source_item_" + it.ID.String()

	hits, err := s.vectorIndex.Query(ctx, vec, 1, domain.VectorWhere{ObjectType: domain.ObjectSourceItem})
	if err != nil {
		return false, fmt.Errorf("query vector index: %w", err)
	}
	if len(hits) > 0 && hits[0].ID == wantID {
		return false, nil
	}

	if err := s.vectorIndex.Upsert(ctx, domain.VectorRecord{
		ID: wantID, Vector: vec, ObjectType: domain.ObjectSourceItem,
		ObjectID: it.ID.String(), Document: it.EmbeddingInput(),
	}); err != nil {
		return false, fmt.Errorf("re-upsert source item vector: %w", err)
	}
	return true, nil
}

type topicSweeper struct {
	topics      domain.TopicRepository
	summaries   domain.SummaryRepository
	vectorIndex domain.VectorIndex
	encoder     domain.VectorEncoder
	cursors     *CursorManager
}

// NewTopicSweeper builds a Sweeper over Topic summary vectors,
// persisting its watermark at a separate cursorPath so the two sweeps
// (source items, topic summaries) progress independently.
func NewTopicSweeper(
	topics domain.TopicRepository,
	summaries domain.SummaryRepository,
	vectorIndex domain.VectorIndex,
	encoder domain.VectorEncoder,
	cursorPath string,
) Sweeper {
	return &topicSweeper{topics: topics, summaries: summaries, vectorIndex: vectorIndex, encoder: encoder, cursors: NewCursorManager(cursorPath)}
}

func (s *topicSweeper) Sweep(ctx context.Context, _ string, batchSize int) (*SweepSummary, error) {
	if err := s.cursors.Lock(); err != nil {
		return nil, fmt.Errorf("lock reconcile cursor: %w", err)
	}
	defer s.cursors.Unlock()

	cursor, err := s.cursors.Load()
	if err != nil {
		return nil, fmt.Errorf("load reconcile cursor: %w", err)
	}

	topics, err := s.topics.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics for reconcile: %w", err)
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].CreatedAt.Equal(topics[j].CreatedAt) {
			return topics[i].ID < topics[j].ID
		}
		return topics[i].CreatedAt.Before(topics[j].CreatedAt)
	})

	summary := &SweepSummary{}
	for _, t := range topics {
		idStr := fmt.Sprintf("%d", t.ID)
		if !afterWatermark(t.CreatedAt, idStr, cursor) {
			continue
		}
		if summary.Scanned >= batchSize {
			break
		}
		summary.Scanned++

		repaired, err := s.repair(ctx, t)
		if err != nil {
			slog.Error("reconcile sweep: repair topic failed", "topic_id", t.ID, "error", err)
		} else if repaired {
			summary.Repaired++
		}

		cursor.LastUpdatedAt = t.CreatedAt
		cursor.LastID = idStr
		cursor.ProcessedCount++
	}

	cursor.UpdatedAt = time.Now()
	if err := s.cursors.Save(cursor); err != nil {
		return nil, fmt.Errorf("save reconcile cursor: %w", err)
	}
	return summary, nil
}

func (s *topicSweeper) repair(ctx context.Context, t domain.Topic) (bool, error) {
	if t.SummaryID == nil {
		return false, nil
	}
	sum, err := s.summaries.Get(ctx, *t.SummaryID)
	if err != nil {
		return false, fmt.Errorf("load summary for topic %d: %w", t.ID, err)
	}
	if sum == nil {
		return false, nil
	}

	vectors, err := s.encoder.Encode(ctx, []string{sum.Text})
	if err != nil {
		return false, fmt.Errorf("encode topic summary: %w", err)
	}
	vec := vectors[0]
	wantID := fmt.Sprintf("topic_summary_%d", t.ID)
	topicID := t.ID

	hits, err := s.vectorIndex.Query(ctx, vec, 1, domain.VectorWhere{ObjectType: domain.ObjectTopicSummary, TopicID: &topicID})
	if err != nil {
		return false, fmt.Errorf("query vector index: %w", err)
	}
	if len(hits) > 0 && hits[0].ID == wantID {
		return false, nil
	}

	if err := s.vectorIndex.Upsert(ctx, domain.VectorRecord{
		ID: wantID, Vector: vec, ObjectType: domain.ObjectTopicSummary,
		ObjectID: sum.ID.String(), TopicID: &t.ID, Document: sum.Text,
	}); err != nil {
		return false, fmt.Errorf("re-upsert topic summary vector: %w", err)
	}
	return true, nil
}

func afterWatermark(t time.Time, id string, cursor Cursor) bool {
	if cursor.IsEmpty() {
		return true
	}
	if t.After(cursor.LastUpdatedAt) {
		return true
	}
	return t.Equal(cursor.LastUpdatedAt) && id > cursor.LastID
}
