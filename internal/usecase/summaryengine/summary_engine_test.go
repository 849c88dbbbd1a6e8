package summaryengine

import (
	"context"
	"testing"

	"echoman/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeSummaryRepo struct {
	byID map[uuid.UUID]domain.Summary
}

func newFakeSummaryRepo() *fakeSummaryRepo { return &fakeSummaryRepo{byID: map[uuid.UUID]domain.Summary{}} }

func (r *fakeSummaryRepo) Create(ctx context.Context, s domain.Summary) (*domain.Summary, error) {
	r.byID[s.ID] = s
	return &s, nil
}
func (r *fakeSummaryRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Summary, error) {
	s, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
func (r *fakeSummaryRepo) ListByTopic(ctx context.Context, topicID int64) ([]domain.Summary, error) {
	var out []domain.Summary
	for _, s := range r.byID {
		if s.TopicID == topicID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeTopicRepo struct {
	topics map[int64]domain.Topic
}

func (r *fakeTopicRepo) Create(ctx context.Context, t domain.Topic) (*domain.Topic, error) { return &t, nil }
func (r *fakeTopicRepo) Get(ctx context.Context, id int64) (*domain.Topic, error) {
	t, ok := r.topics[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
func (r *fakeTopicRepo) ListRecentlyActive(ctx context.Context, limit int, scope domain.TopicStatusFilter) ([]domain.Topic, error) {
	return nil, nil
}
func (r *fakeTopicRepo) ListAll(ctx context.Context) ([]domain.Topic, error) { return nil, nil }
func (r *fakeTopicRepo) UpdateHeat(ctx context.Context, id int64, current, peak float64, lastActive string) error {
	return nil
}
func (r *fakeTopicRepo) UpdateSummaryID(ctx context.Context, id int64, summaryID uuid.UUID) error {
	t := r.topics[id]
	t.SummaryID = &summaryID
	r.topics[id] = t
	return nil
}
func (r *fakeTopicRepo) ZeroHeat(ctx context.Context, ids []int64) error { return nil }

type fakeTopicNodeRepo struct {
	nodes []domain.TopicNode
}

func (r *fakeTopicNodeRepo) Create(ctx context.Context, n domain.TopicNode) (*domain.TopicNode, error) {
	r.nodes = append(r.nodes, n)
	return &n, nil
}
func (r *fakeTopicNodeRepo) ListByTopic(ctx context.Context, topicID int64) ([]domain.TopicNode, error) {
	var out []domain.TopicNode
	for _, n := range r.nodes {
		if n.TopicID == topicID {
			out = append(out, n)
		}
	}
	return out, nil
}
func (r *fakeTopicNodeRepo) ListRecentByTopic(ctx context.Context, topicID int64, limit int) ([]domain.TopicNode, error) {
	return r.ListByTopic(ctx, topicID)
}

type fakeSourceItemRepoForSummary struct {
	items map[uuid.UUID]domain.SourceItem
}

func (r *fakeSourceItemRepoForSummary) Insert(ctx context.Context, item domain.SourceItem) (*domain.SourceItem, error) {
	return &item, nil
}
func (r *fakeSourceItemRepoForSummary) ListPendingEventMerge(ctx context.Context, period string) ([]domain.SourceItem, error) {
	return nil, nil
}
func (r *fakeSourceItemRepoForSummary) ListPendingGlobalMerge(ctx context.Context, period string) ([]domain.SourceItem, error) {
	return nil, nil
}
func (r *fakeSourceItemRepoForSummary) SetGroupAssignment(ctx context.Context, ids []uuid.UUID, groupID uuid.UUID, occurrenceCount int) error {
	return nil
}
func (r *fakeSourceItemRepoForSummary) BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, from, to domain.MergeStatus) error {
	return nil
}
func (r *fakeSourceItemRepoForSummary) Get(ctx context.Context, id uuid.UUID) (*domain.SourceItem, error) {
	it, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}
func (r *fakeSourceItemRepoForSummary) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.SourceItem, error) {
	var out []domain.SourceItem
	for _, id := range ids {
		out = append(out, r.items[id])
	}
	return out, nil
}
func (r *fakeSourceItemRepoForSummary) CountByStatus(ctx context.Context) (map[domain.MergeStatus]int, error) {
	return nil, nil
}

type fakeVectorIndexForSummary struct {
	upserts []domain.VectorRecord
}

func (f *fakeVectorIndexForSummary) Upsert(ctx context.Context, rec domain.VectorRecord) error {
	f.upserts = append(f.upserts, rec)
	return nil
}
func (f *fakeVectorIndexForSummary) Query(ctx context.Context, vector []float32, topK int, where domain.VectorWhere) ([]domain.VectorHit, error) {
	return nil, nil
}
func (f *fakeVectorIndexForSummary) Delete(ctx context.Context, ids []string) error { return nil }

type fakeEncoderForSummary struct{}

func (f *fakeEncoderForSummary) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}
func (f *fakeEncoderForSummary) Version() string { return "fake-embedder" }

type fakeLLMForSummary struct {
	text string
}

func (f *fakeLLMForSummary) Generate(ctx context.Context, messages []domain.Message, maxTokens int) (*domain.LLMResponse, error) {
	return &domain.LLMResponse{Text: f.text}, nil
}
func (f *fakeLLMForSummary) ChatStream(ctx context.Context, messages []domain.Message, maxTokens int) (<-chan string, <-chan error, error) {
	return nil, nil, nil
}
func (f *fakeLLMForSummary) Version() string { return "fake-model" }

type fakeTxManagerForSummary struct{}

func (f *fakeTxManagerForSummary) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestGeneratePlaceholder_NoLLMCall(t *testing.T) {
	topics := &fakeTopicRepo{topics: map[int64]domain.Topic{1: {ID: 1}}}
	vi := &fakeVectorIndexForSummary{}
	engine := New(newFakeSummaryRepo(), topics, &fakeTopicNodeRepo{}, &fakeSourceItemRepoForSummary{items: map[uuid.UUID]domain.SourceItem{}},
		vi, &fakeEncoderForSummary{}, &fakeLLMForSummary{text: "should not be called"}, NewXMLPromptBuilder(), &fakeTxManagerForSummary{}, 300)

	nodes := []domain.TopicNode{{ID: uuid.New(), TopicID: 1, SourceItemID: uuid.New()}}
	s, err := engine.GeneratePlaceholder(context.Background(), domain.Topic{ID: 1}, nodes)
	require.NoError(t, err)
	require.Equal(t, string(Placeholder), s.Method)
	require.NotNil(t, topics.topics[1].SummaryID)
	require.Len(t, vi.upserts, 1)
}

func TestGenerateFull_BuildsPromptFromAllNodes(t *testing.T) {
	itemID := uuid.New()
	items := map[uuid.UUID]domain.SourceItem{itemID: {ID: itemID, Title: "标题", Summary: "内容"}}
	nodeRepo := &fakeTopicNodeRepo{nodes: []domain.TopicNode{{ID: uuid.New(), TopicID: 1, SourceItemID: itemID, PeriodKey: "2026-08-02_MORN"}}}
	topics := &fakeTopicRepo{topics: map[int64]domain.Topic{1: {ID: 1, Category: "society"}}}

	engine := New(newFakeSummaryRepo(), topics, nodeRepo, &fakeSourceItemRepoForSummary{items: items},
		&fakeVectorIndexForSummary{}, &fakeEncoderForSummary{}, &fakeLLMForSummary{text: `{"summary": "一段摘要"}`},
		NewXMLPromptBuilder(), &fakeTxManagerForSummary{}, 300)

	s, err := engine.GenerateFull(context.Background(), domain.Topic{ID: 1, Category: "society"})
	require.NoError(t, err)
	require.Equal(t, "一段摘要", s.Text)
	require.Equal(t, string(Full), s.Method)
}

func TestGenerateIncremental_RevisesPriorSummary(t *testing.T) {
	summaries := newFakeSummaryRepo()
	priorID := uuid.New()
	summaries.byID[priorID] = domain.Summary{ID: priorID, TopicID: 1, Text: "旧摘要"}
	topics := &fakeTopicRepo{topics: map[int64]domain.Topic{1: {ID: 1, SummaryID: &priorID}}}
	itemID := uuid.New()
	items := map[uuid.UUID]domain.SourceItem{itemID: {ID: itemID, Title: "新标题", Summary: "新内容"}}
	newNodes := []domain.TopicNode{{ID: uuid.New(), TopicID: 1, SourceItemID: itemID}}

	engine := New(summaries, topics, &fakeTopicNodeRepo{}, &fakeSourceItemRepoForSummary{items: items},
		&fakeVectorIndexForSummary{}, &fakeEncoderForSummary{}, &fakeLLMForSummary{text: `{"summary": "修订后的摘要"}`},
		NewXMLPromptBuilder(), &fakeTxManagerForSummary{}, 300)

	s, err := engine.GenerateIncremental(context.Background(), domain.Topic{ID: 1, SummaryID: &priorID}, newNodes)
	require.NoError(t, err)
	require.Equal(t, "修订后的摘要", s.Text)
	require.Equal(t, string(Incremental), s.Method)
}
