// Package summaryengine generates the narrative text attached to a
// Topic: an instant rule-generated placeholder when a topic is first
// created, and LLM-written full/incremental narratives once enough
// material exists to synthesize.
package summaryengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"echoman/internal/domain"

	"github.com/google/uuid"
)

type SummaryMethod string

const (
	Placeholder SummaryMethod = "placeholder"
	Full        SummaryMethod = "full"
	Incremental SummaryMethod = "incremental"
)

// SummaryEngine is the entry point stage two calls whenever a Topic
// needs a new narrative written.
type SummaryEngine interface {
	GeneratePlaceholder(ctx context.Context, topic domain.Topic, nodes []domain.TopicNode) (*domain.Summary, error)
	GenerateFull(ctx context.Context, topic domain.Topic) (*domain.Summary, error)
	GenerateIncremental(ctx context.Context, topic domain.Topic, newNodes []domain.TopicNode) (*domain.Summary, error)
}

type summaryEngine struct {
	summaries   domain.SummaryRepository
	topics      domain.TopicRepository
	topicNodes  domain.TopicNodeRepository
	sourceItems domain.SourceItemRepository
	vectorIndex domain.VectorIndex
	encoder     domain.VectorEncoder
	llm         domain.LLMClient
	prompts     PromptBuilder
	tx          domain.TransactionManager

	maxCompletionTokens int
}

func New(
	summaries domain.SummaryRepository,
	topics domain.TopicRepository,
	topicNodes domain.TopicNodeRepository,
	sourceItems domain.SourceItemRepository,
	vectorIndex domain.VectorIndex,
	encoder domain.VectorEncoder,
	llm domain.LLMClient,
	prompts PromptBuilder,
	tx domain.TransactionManager,
	maxCompletionTokens int,
) SummaryEngine {
	return &summaryEngine{
		summaries: summaries, topics: topics, topicNodes: topicNodes, sourceItems: sourceItems,
		vectorIndex: vectorIndex, encoder: encoder, llm: llm, prompts: prompts, tx: tx,
		maxCompletionTokens: maxCompletionTokens,
	}
}

// GeneratePlaceholder writes a template-based sentence synchronously,
// with no LLM call, so a brand new Topic always has something to show
// immediately.
func (e *summaryEngine) GeneratePlaceholder(ctx context.Context, topic domain.Topic, nodes []domain.TopicNode) (*domain.Summary, error) {
	text := placeholderText(len(nodes))
	return e.commit(ctx, topic.ID, Placeholder, text, nodeIDs(nodes))
}

func (e *summaryEngine) GenerateFull(ctx context.Context, topic domain.Topic) (*domain.Summary, error) {
	nodes, briefs, err := e.briefsForTopic(ctx, topic.ID, nil)
	if err != nil {
		return nil, err
	}
	messages := e.prompts.Build(BuildInput{Category: topic.Category, Nodes: briefs})
	text, err := e.generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, topic.ID, Full, text, nodeIDs(nodes))
}

func (e *summaryEngine) GenerateIncremental(ctx context.Context, topic domain.Topic, newNodes []domain.TopicNode) (*domain.Summary, error) {
	priorText := ""
	if topic.SummaryID != nil {
		if prior, err := e.summaries.Get(ctx, *topic.SummaryID); err == nil && prior != nil {
			priorText = prior.Text
		}
	}

	nodes, briefs, err := e.briefsForTopic(ctx, topic.ID, newNodes)
	if err != nil {
		return nil, err
	}
	messages := e.prompts.Build(BuildInput{Category: topic.Category, PriorSummary: priorText, Nodes: briefs})
	text, err := e.generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, topic.ID, Incremental, text, nodeIDs(nodes))
}

// briefsForTopic resolves the source items backing a set of nodes. If
// only is nil (the Full path), every node currently on the topic is
// pulled instead.
func (e *summaryEngine) briefsForTopic(ctx context.Context, topicID int64, only []domain.TopicNode) ([]domain.TopicNode, []NodeBrief, error) {
	nodes := only
	if nodes == nil {
		var err error
		nodes, err = e.topicNodes.ListByTopic(ctx, topicID)
		if err != nil {
			return nil, nil, fmt.Errorf("list topic nodes: %w", err)
		}
	}

	ids := make([]uuid.UUID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.SourceItemID
	}
	items, err := e.sourceItems.ListByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("list source items for summary: %w", err)
	}

	briefs := make([]NodeBrief, 0, len(items))
	for i, it := range items {
		period := ""
		if i < len(nodes) {
			period = nodes[i].PeriodKey
		}
		briefs = append(briefs, NodeBrief{Title: it.Title, Summary: it.Summary, Period: period})
	}
	return nodes, briefs, nil
}

func (e *summaryEngine) generate(ctx context.Context, messages []domain.Message) (string, error) {
	resp, err := e.llm.Generate(ctx, messages, e.maxCompletionTokens)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}
	return extractSummaryField(resp.Text), nil
}

// commit performs the insert-summary / repoint-topic / upsert-vector
// triad inside one transaction: if the vector upsert fails, the whole
// triad rolls back rather than leaving the Topic pointed at a Summary
// the vector index never learned about.
func (e *summaryEngine) commit(ctx context.Context, topicID int64, method SummaryMethod, text string, sourceNodeIDs []uuid.UUID) (*domain.Summary, error) {
	vectors, err := e.encoder.Encode(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("encode summary text: %w", err)
	}

	var created *domain.Summary
	err = e.tx.RunInTx(ctx, func(ctx context.Context) error {
		s := domain.Summary{
			ID: uuid.New(), TopicID: topicID, Method: string(method),
			Text: text, GeneratedAt: time.Now(), SourceNodeIDs: sourceNodeIDs,
		}
		saved, err := e.summaries.Create(ctx, s)
		if err != nil {
			return fmt.Errorf("create summary: %w", err)
		}
		if err := e.topics.UpdateSummaryID(ctx, topicID, saved.ID); err != nil {
			return fmt.Errorf("update topic summary id: %w", err)
		}
		if err := e.vectorIndex.Upsert(ctx, domain.VectorRecord{
			ID:         fmt.Sprintf("topic_summary_%d", topicID),
			Vector:     vectors[0],
			ObjectType: domain.ObjectTopicSummary,
			ObjectID:   saved.ID.String(),
			TopicID:    &topicID,
			Document:   text,
		}); err != nil {
			return fmt.Errorf("upsert topic summary vector: %w", err)
		}
		created = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func nodeIDs(nodes []domain.TopicNode) []uuid.UUID {
	ids := make([]uuid.UUID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func placeholderText(nodeCount int) string {
	return fmt.Sprintf("本话题正在追踪，已汇总 %d 条相关报道，摘要生成中。", nodeCount)
}

// extractSummaryField pulls the "summary" field out of the model's
// JSON response; a model that ignores the format and returns plain
// text is passed through unchanged rather than rejected, since the
// narrative text is still usable.
func extractSummaryField(raw string) string {
	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil && parsed.Summary != "" {
		return parsed.Summary
	}
	return raw
}
