// Package ragreader answers a free-text question about one Topic
// (topic mode) or the whole active topic set (global mode) by
// recalling context from the vector index and streaming a generated
// answer back token by token.
//
// Grounded on rag-orchestrator's rag_answer_stream.go: the same
// cache-then-generate shape, the same typed StreamEvent sequence, and
// the same cache-on-success-only rule. The teacher's partial-JSON
// parser is dropped rather than adapted: domain.LLMClient.ChatStream
// already yields plain answer-text deltas (the Ollama JSON framing is
// decoded one layer down, in the adapter), so there is no "answer"
// field to scan for — every chunk the channel yields is forwarded as
// one token event.
package ragreader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"echoman/internal/domain"
	"echoman/internal/tokenmanager"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Mode selects which scope Stream recalls context from.
type Mode string

const (
	ModeTopic  Mode = "topic"
	ModeGlobal Mode = "global"
)

// ReadInput is one question to answer.
type ReadInput struct {
	Query   string
	Mode    Mode
	TopicID *int64 // required when Mode == ModeTopic
}

// StreamEventKind is the closed set of events Stream emits. A stream
// is `token*, citations?, then exactly one of done/error`.
type StreamEventKind string

const (
	EventToken     StreamEventKind = "token"
	EventCitations StreamEventKind = "citations"
	EventDone      StreamEventKind = "done"
	EventError     StreamEventKind = "error"
)

// StreamEvent is one event on the channel Stream returns.
type StreamEvent struct {
	Kind    StreamEventKind
	Token   string
	Payload *ReadOutput
	Err     error
}

// ReadOutput is the terminal payload carried by the done event.
type ReadOutput struct {
	Answer      string
	Citations   []string
	Fallback    bool
	Reason      string
	GeneratedAt time.Time
}

// RAGReader is the entry point the HTTP transport streams from.
type RAGReader interface {
	Stream(ctx context.Context, input ReadInput) <-chan StreamEvent
}

const (
	// recallTopKGlobal is top_k for the topic_summary vector search in
	// global mode.
	recallTopKGlobal = 10
	// recallTopKTopic is how many source_item hits are queried before
	// the in-Go membership post-filter narrows them to the topic.
	recallTopKTopic = 20
	// maxTopicHits and maxGlobalRecentNodes are spec.md §4.9's fixed
	// recall sizes.
	maxTopicHits         = 5
	maxGlobalRecentNodes = 2
	// allocateMinTailTokens is the minimum remaining budget a final,
	// truncated context chunk must have to be kept rather than dropped.
	allocateMinTailTokens = 100
)

type cacheKey struct {
	mode    Mode
	topicID int64
	query   string
}

func (k cacheKey) String() string {
	return string(k.mode) + "|" + strconv.FormatInt(k.topicID, 10) + "|" + k.query
}

type ragReaderUsecase struct {
	topics      domain.TopicRepository
	topicNodes  domain.TopicNodeRepository
	summaries   domain.SummaryRepository
	vectorIndex domain.VectorIndex
	encoder     domain.VectorEncoder
	llm         domain.LLMClient
	prompts     PromptBuilder
	budget      tokenmanager.Budget
	cache       *expirable.LRU[string, ReadOutput]
}

// New builds a RAGReader. cacheSize and cacheTTL configure the
// answer cache keyed on (mode, topicID, query); budget is the shared
// token envelope both modes pack context into before generation.
func New(
	topics domain.TopicRepository,
	topicNodes domain.TopicNodeRepository,
	summaries domain.SummaryRepository,
	vectorIndex domain.VectorIndex,
	encoder domain.VectorEncoder,
	llm domain.LLMClient,
	prompts PromptBuilder,
	budget tokenmanager.Budget,
	cacheSize int,
	cacheTTL time.Duration,
) RAGReader {
	return &ragReaderUsecase{
		topics: topics, topicNodes: topicNodes, summaries: summaries,
		vectorIndex: vectorIndex, encoder: encoder, llm: llm, prompts: prompts, budget: budget,
		cache: expirable.NewLRU[string, ReadOutput](cacheSize, nil, cacheTTL),
	}
}

func (u *ragReaderUsecase) Stream(ctx context.Context, input ReadInput) <-chan StreamEvent {
	events := make(chan StreamEvent, 4)
	go func() {
		defer close(events)
		u.run(ctx, input, events)
	}()
	return events
}

func (u *ragReaderUsecase) run(ctx context.Context, input ReadInput, events chan<- StreamEvent) {
	if strings.TrimSpace(input.Query) == "" {
		send(ctx, events, StreamEvent{Kind: EventError, Err: fmt.Errorf("query is required")})
		return
	}
	if input.Mode == ModeTopic && input.TopicID == nil {
		send(ctx, events, StreamEvent{Kind: EventError, Err: fmt.Errorf("topic_id is required for topic mode")})
		return
	}

	var topicID int64
	if input.TopicID != nil {
		topicID = *input.TopicID
	}
	key := cacheKey{mode: input.Mode, topicID: topicID, query: input.Query}

	if cached, ok := u.cache.Get(key.String()); ok {
		send(ctx, events, StreamEvent{Kind: EventToken, Token: cached.Answer})
		if len(cached.Citations) > 0 {
			send(ctx, events, StreamEvent{Kind: EventCitations, Payload: &ReadOutput{Citations: cached.Citations}})
		}
		send(ctx, events, StreamEvent{Kind: EventDone, Payload: &cached})
		return
	}

	chunks, err := u.recall(ctx, input)
	if err != nil {
		send(ctx, events, StreamEvent{Kind: EventError, Err: fmt.Errorf("recall context: %w", err)})
		return
	}
	if len(chunks) == 0 {
		out := ReadOutput{
			Answer:      "抱歉，目前没有足够的相关信息来回答这个问题。",
			Fallback:    true,
			Reason:      "empty retrieval",
			GeneratedAt: time.Now(),
		}
		send(ctx, events, StreamEvent{Kind: EventToken, Token: out.Answer})
		send(ctx, events, StreamEvent{Kind: EventDone, Payload: &out})
		return
	}

	messages := u.prompts.Build(BuildInput{Query: input.Query, Mode: input.Mode, Context: u.packContext(chunks)})
	used := 0
	for _, m := range messages {
		used += tokenmanager.Count(m.Content)
	}
	maxCompletion := u.budget.MaxCompletionTokens
	if maxCompletion <= 0 {
		maxCompletion = 2000
	}
	_ = used // context packing already respected the budget in packContext; used retained for clarity/future logging

	tokenCh, errCh, err := u.llm.ChatStream(ctx, messages, maxCompletion)
	if err != nil {
		send(ctx, events, StreamEvent{Kind: EventError, Err: fmt.Errorf("chat stream setup: %w", err)})
		return
	}

	var builder strings.Builder
	hasData := false
	for tokenCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			send(ctx, events, StreamEvent{Kind: EventError, Err: ctx.Err()})
			return
		case tok, ok := <-tokenCh:
			if !ok {
				tokenCh = nil
				continue
			}
			if tok == "" {
				continue
			}
			hasData = true
			builder.WriteString(tok)
			if !send(ctx, events, StreamEvent{Kind: EventToken, Token: tok}) {
				return
			}
		case streamErr, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			send(ctx, events, StreamEvent{Kind: EventError, Err: fmt.Errorf("llm stream: %w", streamErr)})
			return
		}
	}

	if !hasData {
		send(ctx, events, StreamEvent{Kind: EventError, Err: fmt.Errorf("llm stream produced no data")})
		return
	}

	citations := make([]string, 0, len(chunks))
	for _, c := range chunks {
		citations = append(citations, c.ID)
	}
	if !send(ctx, events, StreamEvent{Kind: EventCitations, Payload: &ReadOutput{Citations: citations}}) {
		return
	}

	out := ReadOutput{
		Answer:      strings.TrimSpace(builder.String()),
		Citations:   citations,
		GeneratedAt: time.Now(),
	}
	u.cache.Add(key.String(), out)
	send(ctx, events, StreamEvent{Kind: EventDone, Payload: &out})
}

func send(ctx context.Context, events chan<- StreamEvent, event StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- event:
		return true
	}
}

func (u *ragReaderUsecase) recall(ctx context.Context, input ReadInput) ([]ContextChunk, error) {
	vectors, err := u.encoder.Encode(ctx, []string{input.Query})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	qVec := vectors[0]

	if input.Mode == ModeTopic {
		return u.recallTopic(ctx, *input.TopicID, qVec)
	}
	return u.recallGlobal(ctx, qVec)
}

func (u *ragReaderUsecase) recallTopic(ctx context.Context, topicID int64, qVec []float32) ([]ContextChunk, error) {
	members, err := u.topicNodes.ListByTopic(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("list topic members: %w", err)
	}
	memberSet := make(map[string]struct{}, len(members))
	for _, m := range members {
		memberSet[m.SourceItemID.String()] = struct{}{}
	}
	if len(memberSet) == 0 {
		return nil, nil
	}

	hits, err := u.vectorIndex.Query(ctx, qVec, recallTopKTopic, domain.VectorWhere{ObjectType: domain.ObjectSourceItem})
	if err != nil {
		return nil, fmt.Errorf("query source item vectors: %w", err)
	}

	var chunks []ContextChunk
	for _, h := range hits {
		if _, ok := memberSet[h.Record.ObjectID]; !ok {
			continue
		}
		if h.Similarity() < 0 {
			continue
		}
		chunks = append(chunks, ContextChunk{ID: h.ID, Label: "source_item", Text: h.Record.Document})
		if len(chunks) >= maxTopicHits {
			break
		}
	}
	return chunks, nil
}

func (u *ragReaderUsecase) recallGlobal(ctx context.Context, qVec []float32) ([]ContextChunk, error) {
	hits, err := u.vectorIndex.Query(ctx, qVec, recallTopKGlobal, domain.VectorWhere{ObjectType: domain.ObjectTopicSummary})
	if err != nil {
		return nil, fmt.Errorf("query topic summary vectors: %w", err)
	}

	var chunks []ContextChunk
	for _, h := range hits {
		chunks = append(chunks, ContextChunk{ID: h.ID, Label: "topic_summary", Text: h.Record.Document})
		if h.Record.TopicID == nil {
			continue
		}
		recent, err := u.topicNodes.ListRecentByTopic(ctx, *h.Record.TopicID, maxGlobalRecentNodes)
		if err != nil {
			return nil, fmt.Errorf("list recent nodes for topic %d: %w", *h.Record.TopicID, err)
		}
		for _, n := range recent {
			chunks = append(chunks, ContextChunk{
				ID:    n.SourceItemID.String(),
				Label: fmt.Sprintf("topic_%d_recent_node", *h.Record.TopicID),
				Text:  n.PeriodKey,
			})
		}
	}
	return chunks, nil
}

// packContext fits the recalled chunks into the shared token budget,
// truncating only the final chunk and only when enough budget remains
// for it to still be useful.
func (u *ragReaderUsecase) packContext(chunks []ContextChunk) []ContextChunk {
	tmChunks := make([]tokenmanager.Chunk, len(chunks))
	byID := make(map[string]ContextChunk, len(chunks))
	for i, c := range chunks {
		tmChunks[i] = tokenmanager.Chunk{ID: c.ID, Text: c.Text}
		byID[c.ID] = c
	}

	maxContext := u.budget.MaxPromptTokens
	if remaining := u.budget.Remaining(0); remaining > 0 && remaining < maxContext {
		maxContext = remaining
	}

	packed := tokenmanager.Allocate(tmChunks, maxContext, allocateMinTailTokens)
	out := make([]ContextChunk, len(packed))
	for i, p := range packed {
		c := byID[p.ID]
		c.Text = p.Text
		out[i] = c
	}
	return out
}
