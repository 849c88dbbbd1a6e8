package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is whether a Topic is still being actively updated.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Topic is a long-lived cross-period cluster of SourceItems.
type Topic struct {
	ID                    int64
	Status                Status
	Category              string
	CategoryConfidence    float64
	CategoryMethod        string
	CreatedAt             time.Time
	LastActive            time.Time
	CurrentHeatNormalized float64
	PeakHeatNormalized    float64
	SummaryID             *uuid.UUID
}

// TopicNode is one SourceItem group folded into a Topic by stage two.
type TopicNode struct {
	ID             uuid.UUID
	TopicID        int64
	SourceItemID   uuid.UUID
	PeriodKey      string
	JoinedAt       time.Time
	AdjudicationID *uuid.UUID
}

// TopicPeriodHeat is the per-period heat contribution a Topic
// accumulates, keyed so re-running a period is an upsert, not a
// duplicate insert.
type TopicPeriodHeat struct {
	TopicID        int64
	Date           string // YYYY-MM-DD
	Period         string
	HeatNormalized float64
}

// Summary is one generated narrative for a Topic. Summaries are
// append-only: a newer Summary repoints Topic.SummaryID but never
// deletes an older row.
type Summary struct {
	ID          uuid.UUID
	TopicID     int64
	Method      string // "placeholder" | "full" | "incremental"
	Text        string
	GeneratedAt time.Time
	SourceNodeIDs []uuid.UUID
}
