package domain

import "context"

// Message is one turn of a chat-style LLM request.
type Message struct {
	Role    string
	Content string
}

// LLMResponse is a single non-streaming completion.
type LLMResponse struct {
	Text             string
	TokensPrompt     int
	TokensCompletion int
}

// LLMClient is the raw chat-completion boundary. The adjudicator and
// summary engine build prompts and parse structured JSON on top of
// this; LLMClient itself knows nothing about Echoman's domain types.
type LLMClient interface {
	Generate(ctx context.Context, messages []Message, maxTokens int) (*LLMResponse, error)
	ChatStream(ctx context.Context, messages []Message, maxTokens int) (<-chan string, <-chan error, error)
	Version() string
}

// SourceItemBrief is the truncated view of a SourceItem sent to the
// adjudicator; it never carries more than the token budget allows.
type SourceItemBrief struct {
	ID      string
	Title   string
	Summary string
}

// TopicBrief is the truncated view of a Topic candidate sent to the
// adjudicator for the topic-association decision.
type TopicBrief struct {
	ID      int64
	Summary string
}

// EventGroupDecision is the adjudicator's answer to "are these the
// same real-world event".
type EventGroupDecision struct {
	IsSameEvent bool
	Confidence  float64
	Reason      string
}

// TopicAssociationDecision is the adjudicator's answer to "does this
// representative item belong to an existing topic, or start a new
// one".
type TopicAssociationDecision struct {
	Decision      string // "merge" | "new"
	TargetTopicID *int64
	Confidence    float64
	Reason        string
}

// LLMCallStats carries the token accounting for one adjudicator call
// so the caller can persist an LLMJudgement row without re-deriving
// it.
type LLMCallStats struct {
	TokensPrompt     int
	TokensCompletion int
	Provider         string
	Model            string
	RawResponse      string
}

// Adjudicator is the external-collaborator contract for the two LLM
// decision points in the merge pipeline.
type Adjudicator interface {
	ConfirmEventGroup(ctx context.Context, items []SourceItemBrief) (*EventGroupDecision, *LLMCallStats, error)
	DecideTopicAssociation(ctx context.Context, rep SourceItemBrief, candidates []TopicBrief) (*TopicAssociationDecision, *LLMCallStats, error)
}

// ErrMalformedLLMResponse wraps a raw LLM body that failed to parse
// into the expected JSON shape, keeping the original text around for
// debugging without the caller needing to unwrap deeply.
type ErrMalformedLLMResponse struct {
	Raw string
	Err error
}

func (e *ErrMalformedLLMResponse) Error() string {
	return "malformed LLM response: " + e.Err.Error()
}

func (e *ErrMalformedLLMResponse) Unwrap() error {
	return e.Err
}
