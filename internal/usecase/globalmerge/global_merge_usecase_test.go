package globalmerge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"echoman/internal/domain"
	"echoman/internal/domain/normalizer"
	"echoman/internal/usecase/categorymetrics"
	"echoman/internal/usecase/summaryengine"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeItemRepo struct {
	mu       sync.Mutex
	items    map[uuid.UUID]domain.SourceItem
	statuses map[uuid.UUID]domain.MergeStatus
}

func newFakeItemRepo(items []domain.SourceItem) *fakeItemRepo {
	r := &fakeItemRepo{items: map[uuid.UUID]domain.SourceItem{}, statuses: map[uuid.UUID]domain.MergeStatus{}}
	for _, it := range items {
		r.items[it.ID] = it
		r.statuses[it.ID] = it.MergeStatus
	}
	return r
}

func (r *fakeItemRepo) Insert(ctx context.Context, item domain.SourceItem) (*domain.SourceItem, error) {
	return &item, nil
}
func (r *fakeItemRepo) ListPendingEventMerge(ctx context.Context, period string) ([]domain.SourceItem, error) {
	return nil, nil
}
func (r *fakeItemRepo) ListPendingGlobalMerge(ctx context.Context, period string) ([]domain.SourceItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SourceItem
	for id, it := range r.items {
		if r.statuses[id] == domain.PendingGlobalMerge {
			out = append(out, it)
		}
	}
	return out, nil
}
func (r *fakeItemRepo) SetGroupAssignment(ctx context.Context, ids []uuid.UUID, groupID uuid.UUID, occurrenceCount int) error {
	return nil
}
func (r *fakeItemRepo) BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, from, to domain.MergeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.statuses[id] = to
	}
	return nil
}
func (r *fakeItemRepo) Get(ctx context.Context, id uuid.UUID) (*domain.SourceItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}
func (r *fakeItemRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.SourceItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SourceItem
	for _, id := range ids {
		out = append(out, r.items[id])
	}
	return out, nil
}
func (r *fakeItemRepo) CountByStatus(ctx context.Context) (map[domain.MergeStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.MergeStatus]int)
	for _, status := range r.statuses {
		out[status]++
	}
	return out, nil
}

type fakeTopicRepo struct {
	mu     sync.Mutex
	nextID int64
	topics map[int64]domain.Topic
}

func newFakeTopicRepo() *fakeTopicRepo { return &fakeTopicRepo{topics: map[int64]domain.Topic{}} }

func (r *fakeTopicRepo) Create(ctx context.Context, t domain.Topic) (*domain.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t.ID = r.nextID
	r.topics[t.ID] = t
	return &t, nil
}
func (r *fakeTopicRepo) Get(ctx context.Context, id int64) (*domain.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
func (r *fakeTopicRepo) ListRecentlyActive(ctx context.Context, limit int, scope domain.TopicStatusFilter) ([]domain.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Topic
	for _, t := range r.topics {
		out = append(out, t)
	}
	return out, nil
}
func (r *fakeTopicRepo) ListAll(ctx context.Context) ([]domain.Topic, error) { return nil, nil }
func (r *fakeTopicRepo) UpdateHeat(ctx context.Context, id int64, current, peak float64, lastActive string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.topics[id]
	t.CurrentHeatNormalized = current
	t.PeakHeatNormalized = peak
	r.topics[id] = t
	return nil
}
func (r *fakeTopicRepo) UpdateSummaryID(ctx context.Context, id int64, summaryID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.topics[id]
	t.SummaryID = &summaryID
	r.topics[id] = t
	return nil
}
func (r *fakeTopicRepo) ZeroHeat(ctx context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		t := r.topics[id]
		t.CurrentHeatNormalized = 0
		r.topics[id] = t
	}
	return nil
}

type fakeTopicNodeRepo struct {
	mu    sync.Mutex
	nodes []domain.TopicNode
}

func (r *fakeTopicNodeRepo) Create(ctx context.Context, n domain.TopicNode) (*domain.TopicNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, n)
	return &n, nil
}
func (r *fakeTopicNodeRepo) ListByTopic(ctx context.Context, topicID int64) ([]domain.TopicNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

type fakePeriodHeatRepo struct {
	mu   sync.Mutex
	rows []domain.TopicPeriodHeat
}

func (r *fakePeriodHeatRepo) Upsert(ctx context.Context, h domain.TopicPeriodHeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, h)
	return nil
}
func (r *fakePeriodHeatRepo) ZeroForBatch(ctx context.Context, topicIDs []int64, date, period string) error {
	return nil
}

type fakeSummaryRepoGM struct {
	mu   sync.Mutex
	byID map[uuid.UUID]domain.Summary
}

func newFakeSummaryRepoGM() *fakeSummaryRepoGM { return &fakeSummaryRepoGM{byID: map[uuid.UUID]domain.Summary{}} }
func (r *fakeSummaryRepoGM) Create(ctx context.Context, s domain.Summary) (*domain.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = s
	return &s, nil
}
func (r *fakeSummaryRepoGM) Get(ctx context.Context, id uuid.UUID) (*domain.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
func (r *fakeSummaryRepoGM) ListByTopic(ctx context.Context, topicID int64) ([]domain.Summary, error) {
	return nil, nil
}

type fakeVectorIndexGM struct {
	mu   sync.Mutex
	hits []domain.VectorHit
}

func (f *fakeVectorIndexGM) Upsert(ctx context.Context, rec domain.VectorRecord) error { return nil }
func (f *fakeVectorIndexGM) Query(ctx context.Context, vector []float32, topK int, where domain.VectorWhere) ([]domain.VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits, nil
}
func (f *fakeVectorIndexGM) Delete(ctx context.Context, ids []string) error { return nil }

type fakeEncoderGM struct{}

func (f *fakeEncoderGM) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}
func (f *fakeEncoderGM) Version() string { return "fake-embedder" }

type fakeAdjudicatorGM struct {
	decision *domain.TopicAssociationDecision
}

func (f *fakeAdjudicatorGM) ConfirmEventGroup(ctx context.Context, items []domain.SourceItemBrief) (*domain.EventGroupDecision, *domain.LLMCallStats, error) {
	return nil, nil, nil
}
func (f *fakeAdjudicatorGM) DecideTopicAssociation(ctx context.Context, rep domain.SourceItemBrief, candidates []domain.TopicBrief) (*domain.TopicAssociationDecision, *domain.LLMCallStats, error) {
	return f.decision, &domain.LLMCallStats{}, nil
}

type fakeCategoryMetricsRepo struct{ calls int32 }

func (f *fakeCategoryMetricsRepo) Refresh(ctx context.Context, date string) ([]domain.CategoryMetric, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, nil
}

type fakeRunRecordRepoGM struct{}

func (f *fakeRunRecordRepoGM) Start(ctx context.Context, r domain.RunRecord) (*domain.RunRecord, error) {
	return &r, nil
}
func (f *fakeRunRecordRepoGM) Finish(ctx context.Context, id string, status domain.RunStatus, counts domain.RunCounts, errSummary string) error {
	return nil
}
func (f *fakeRunRecordRepoGM) LastByKind(ctx context.Context) (map[domain.RunKind]domain.RunRecord, error) {
	return nil, nil
}

type fakeTxManagerGM struct{}

func (f *fakeTxManagerGM) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeLLMForGM struct{}

func (f *fakeLLMForGM) Generate(ctx context.Context, messages []domain.Message, maxTokens int) (*domain.LLMResponse, error) {
	return &domain.LLMResponse{Text: `{"summary": "汇总"}`}, nil
}
func (f *fakeLLMForGM) ChatStream(ctx context.Context, messages []domain.Message, maxTokens int) (<-chan string, <-chan error, error) {
	return nil, nil, nil
}
func (f *fakeLLMForGM) Version() string { return "fake-model" }

func groupedItem(groupID uuid.UUID, heat float64) domain.SourceItem {
	h := heat
	return domain.SourceItem{
		ID: uuid.New(), Title: "标题", Summary: "内容", FetchedAt: time.Now(),
		Period: "MORN", MergeStatus: domain.PendingGlobalMerge,
		PeriodMergeGroupID: &groupID, OccurrenceCount: 1, HeatValue: &h,
	}
}

func newHarness(decision *domain.TopicAssociationDecision, hits []domain.VectorHit, items []domain.SourceItem, cfg Config) (*globalMergeUsecase, *fakeItemRepo, *fakeTopicRepo) {
	itemRepo := newFakeItemRepo(items)
	topicRepo := newFakeTopicRepo()
	nodeRepo := &fakeTopicNodeRepo{}
	heatRepo := &fakePeriodHeatRepo{}
	summaryRepo := newFakeSummaryRepoGM()
	vi := &fakeVectorIndexGM{hits: hits}
	encoder := &fakeEncoderGM{}
	adj := &fakeAdjudicatorGM{decision: decision}
	engine := summaryengine.New(summaryRepo, topicRepo, nodeRepo, itemRepo, vi, encoder, &fakeLLMForGM{}, summaryengine.NewXMLPromptBuilder(), &fakeTxManagerGM{}, 300)

	u := New(itemRepo, topicRepo, nodeRepo, heatRepo, summaryRepo, vi, encoder, adj, engine,
		categorymetrics.New(&fakeCategoryMetricsRepo{}), &fakeRunRecordRepoGM{}, &fakeTxManagerGM{}, normalizer.Normalizer{}, domain.StubClassifier{}, cfg)
	return u.(*globalMergeUsecase), itemRepo, topicRepo
}

func baseConfig() Config {
	return Config{MinSimilarity: 0.5, ConfidenceThreshold: 0.75, Concurrent: 2, MaxBatchSize: 200, SummaryConcurrent: 2, NewTopicKeepRatio: 1.0}
}

// Scenario: no recall hits and no recently active topics -> new topic created.
func TestRun_NewTopicWhenNoCandidates(t *testing.T) {
	gid := uuid.New()
	items := []domain.SourceItem{groupedItem(gid, 0.6)}
	u, itemRepo, topicRepo := newHarness(nil, nil, items, baseConfig())

	summary, err := u.Run(context.Background(), "2026-08-02_MORN")
	require.NoError(t, err)
	require.Equal(t, 1, summary.GroupsNew)
	require.Equal(t, 0, summary.GroupsMerged)
	require.Len(t, topicRepo.topics, 1)
	for _, status := range itemRepo.statuses {
		require.Equal(t, domain.Merged, status)
	}
}

// Scenario: recall finds a similar topic and the adjudicator confirms merge.
func TestRun_MergesIntoExistingTopicViaRecall(t *testing.T) {
	topicRepo := newFakeTopicRepo()
	existing, _ := topicRepo.Create(context.Background(), domain.Topic{Status: domain.StatusActive, Category: "society"})

	gid := uuid.New()
	items := []domain.SourceItem{groupedItem(gid, 0.4)}
	itemRepo := newFakeItemRepo(items)
	nodeRepo := &fakeTopicNodeRepo{}
	heatRepo := &fakePeriodHeatRepo{}
	summaryRepo := newFakeSummaryRepoGM()
	vi := &fakeVectorIndexGM{hits: []domain.VectorHit{
		{ID: "topic_summary_1", Distance: 0.1, Record: domain.VectorRecord{TopicID: &existing.ID, Document: "existing topic summary"}},
	}}
	encoder := &fakeEncoderGM{}
	decision := &domain.TopicAssociationDecision{Decision: "merge", TargetTopicID: &existing.ID, Confidence: 0.9}
	adj := &fakeAdjudicatorGM{decision: decision}
	engine := summaryengine.New(summaryRepo, topicRepo, nodeRepo, itemRepo, vi, encoder, &fakeLLMForGM{}, summaryengine.NewXMLPromptBuilder(), &fakeTxManagerGM{}, 300)
	u := New(itemRepo, topicRepo, nodeRepo, heatRepo, summaryRepo, vi, encoder, adj, engine,
		categorymetrics.New(&fakeCategoryMetricsRepo{}), &fakeRunRecordRepoGM{}, &fakeTxManagerGM{}, normalizer.Normalizer{}, domain.StubClassifier{}, baseConfig())

	summary, err := u.Run(context.Background(), "2026-08-02_MORN")
	require.NoError(t, err)
	require.Equal(t, 1, summary.GroupsMerged)
	require.Equal(t, 0, summary.GroupsNew)
	require.Len(t, topicRepo.topics, 1)
}

// Scenario: recall finds a candidate but the adjudicator rejects it as
// below the confidence threshold -> falls back to a new topic.
func TestRun_LowConfidenceRecallCreatesNewTopic(t *testing.T) {
	topicID := int64(7)
	gid := uuid.New()
	items := []domain.SourceItem{groupedItem(gid, 0.3)}
	decision := &domain.TopicAssociationDecision{Decision: "merge", TargetTopicID: &topicID, Confidence: 0.5}
	hits := []domain.VectorHit{{ID: "topic_summary_7", Distance: 0.2, Record: domain.VectorRecord{TopicID: &topicID, Document: "borderline"}}}
	u, itemRepo, topicRepo := newHarness(decision, hits, items, baseConfig())

	summary, err := u.Run(context.Background(), "2026-08-02_MORN")
	require.NoError(t, err)
	require.Equal(t, 1, summary.GroupsNew)
	require.Len(t, topicRepo.topics, 1)
	for _, status := range itemRepo.statuses {
		require.Equal(t, domain.Merged, status)
	}
}

func TestRun_EmptyPeriodIsIdempotent(t *testing.T) {
	u, _, _ := newHarness(nil, nil, nil, baseConfig())
	summary, err := u.Run(context.Background(), "2026-08-02_MORN")
	require.NoError(t, err)
	require.Equal(t, 0, summary.GroupsTotal)
}

func TestRun_DifferentGroupsRunConcurrently(t *testing.T) {
	items := []domain.SourceItem{groupedItem(uuid.New(), 0.2), groupedItem(uuid.New(), 0.3), groupedItem(uuid.New(), 0.1)}
	cfg := baseConfig()
	cfg.Concurrent = 3
	u, _, topicRepo := newHarness(nil, nil, items, cfg)

	summary, err := u.Run(context.Background(), "2026-08-02_MORN")
	require.NoError(t, err)
	require.Equal(t, 3, summary.GroupsNew)
	require.Len(t, topicRepo.topics, 3)
}

func TestRun_NewTopicKeepRatioZeroesLowestHeat(t *testing.T) {
	items := []domain.SourceItem{groupedItem(uuid.New(), 0.9), groupedItem(uuid.New(), 0.1)}
	cfg := baseConfig()
	cfg.NewTopicKeepRatio = 0.5
	u, _, topicRepo := newHarness(nil, nil, items, cfg)

	summary, err := u.Run(context.Background(), "2026-08-02_MORN")
	require.NoError(t, err)
	require.Equal(t, 1, summary.TopicsZeroed)

	var zeroed, nonZero int
	for _, t := range topicRepo.topics {
		if t.CurrentHeatNormalized == 0 {
			zeroed++
		} else {
			nonZero++
		}
	}
	require.Equal(t, 1, zeroed)
	require.Equal(t, 1, nonZero)
}
