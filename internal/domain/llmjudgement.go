package domain

import (
	"time"

	"github.com/google/uuid"
)

// JudgementKind distinguishes the two points the pipeline asks the
// adjudicator for a decision.
type JudgementKind string

const (
	EventGroupConfirmation JudgementKind = "event_group_confirmation"
	TopicAssociation       JudgementKind = "topic_association"
)

// LLMJudgement is the append-only audit row written for every
// adjudicator call, regardless of outcome.
type LLMJudgement struct {
	ID               uuid.UUID
	Kind             JudgementKind
	RequestSummary   string
	RawResponse      string
	TokensPrompt     int
	TokensCompletion int
	Provider         string
	Model            string
	Status           string // "ok" | "malformed" | "error"
	CreatedAt        time.Time
}
