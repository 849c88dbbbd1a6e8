package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Platform is the closed set of hot-topic sources the ingestion
// contract accepts.
type Platform string

const (
	PlatformWeibo    Platform = "weibo"
	PlatformZhihu    Platform = "zhihu"
	PlatformToutiao  Platform = "toutiao"
	PlatformSina     Platform = "sina"
	PlatformNetease  Platform = "netease"
	PlatformBaidu    Platform = "baidu"
	PlatformHupu     Platform = "hupu"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformWeibo, PlatformZhihu, PlatformToutiao, PlatformSina, PlatformNetease, PlatformBaidu, PlatformHupu:
		return true
	default:
		return false
	}
}

// MergeStatus is the closed set of states a SourceItem moves through.
type MergeStatus string

const (
	PendingEventMerge  MergeStatus = "pending_event_merge"
	PendingGlobalMerge MergeStatus = "pending_global_merge"
	Merged             MergeStatus = "merged"
	Discarded          MergeStatus = "discarded"
)

// Transition reports whether moving a SourceItem from `from` to `to`
// is one of the edges the Mealy machine allows. Every caller that
// writes merge_status must go through this rather than writing the
// column directly.
func Transition(from, to MergeStatus) error {
	allowed := map[MergeStatus][]MergeStatus{
		PendingEventMerge:  {PendingGlobalMerge, Discarded},
		PendingGlobalMerge: {Merged},
	}
	for _, t := range allowed[from] {
		if t == to {
			return nil
		}
	}
	return fmt.Errorf("invalid merge_status transition %s -> %s", from, to)
}

// SourceItem is one hot-topic row as ingested from a platform, carried
// through event merge and global merge.
type SourceItem struct {
	ID                 uuid.UUID
	Platform           Platform
	Title              string
	Summary            string
	URL                string
	PublishedAt        *time.Time
	FetchedAt          time.Time
	Interactions       map[string]int64
	HeatValue          *float64
	Period             string
	MergeStatus        MergeStatus
	PeriodMergeGroupID *uuid.UUID
	OccurrenceCount    int
	HeatNormalized     float64
	EmbeddingID        *uuid.UUID
	RunID              string
}

// EmbeddingInput is the text the vector encoder embeds for this item,
// fixed so every caller (stage one, reconciliation) produces the same
// vector for the same item.
func (s SourceItem) EmbeddingInput() string {
	return s.Title + "\n" + s.Summary
}
