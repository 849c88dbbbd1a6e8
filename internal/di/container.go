// Package di wires every adapter, repository, and usecase into one
// ApplicationComponents struct, the way rag-orchestrator's own
// internal/di/container.go builds its ApplicationComponents from
// cfg/pool/log: one NewApplicationComponents call, no framework, no
// reflection.
package di

import (
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"echoman/internal/adapter/llmadjudicator"
	"echoman/internal/adapter/rag_augur"
	"echoman/internal/adapter/repository"
	"echoman/internal/adapter/vectorindex"
	"echoman/internal/domain"
	"echoman/internal/domain/noisefilter"
	"echoman/internal/domain/normalizer"
	"echoman/internal/infra/config"
	"echoman/internal/scheduler"
	"echoman/internal/tokenmanager"
	"echoman/internal/usecase/categorymetrics"
	"echoman/internal/usecase/eventmerge"
	"echoman/internal/usecase/globalmerge"
	"echoman/internal/usecase/ingest"
	"echoman/internal/usecase/monitoring"
	"echoman/internal/usecase/ragreader"
	"echoman/internal/usecase/reconcile"
	"echoman/internal/usecase/summaryengine"
)

// ApplicationComponents holds every wired dependency cmd/server and
// cmd/echomanctl need, grouped the way the teacher's own
// ApplicationComponents groups repositories / usecases / worker.
type ApplicationComponents struct {
	// Repositories
	SourceItems     domain.SourceItemRepository
	Topics          domain.TopicRepository
	TopicNodes      domain.TopicNodeRepository
	PeriodHeat      domain.TopicPeriodHeatRepository
	Summaries       domain.SummaryRepository
	Runs            domain.RunRecordRepository
	Judgements      domain.LLMJudgementRepository
	CategoryMetrics domain.CategoryMetricsRepository
	Tx              domain.TransactionManager

	// External collaborators
	VectorIndex domain.VectorIndex
	Encoder     domain.VectorEncoder
	LLM         domain.LLMClient
	Adjudicator domain.Adjudicator
	Classifier  domain.Classifier

	// Usecases
	Ingest             ingest.IngestUsecase
	EventMerge         eventmerge.EventMergeUsecase
	GlobalMerge        globalmerge.GlobalMergeUsecase
	SummaryEngine      summaryengine.SummaryEngine
	CategoryMetricsUC  categorymetrics.CategoryMetricsUsecase
	Monitoring         monitoring.MonitoringUsecase
	RAGReader          ragreader.RAGReader
	SourceItemSweeper  reconcile.Sweeper
	TopicSweeper       reconcile.Sweeper

	// Scheduler
	Scheduler *scheduler.Scheduler

	Logger *slog.Logger
}

// NewApplicationComponents wires every dependency from cfg and an
// already-connected pool, mirroring the teacher's own
// NewApplicationComponents(cfg, pool, log) shape.
func NewApplicationComponents(cfg *config.Config, pool *pgxpool.Pool, log *slog.Logger) (*ApplicationComponents, error) {
	// Repositories
	sourceItems := repository.NewSourceItemRepository(pool)
	topics := repository.NewTopicRepository(pool)
	topicNodes := repository.NewTopicNodeRepository(pool)
	periodHeat := repository.NewTopicPeriodHeatRepository(pool)
	summaries := repository.NewSummaryRepository(pool)
	runs := repository.NewRunRecordRepository(pool)
	judgements := repository.NewLLMJudgementRepository(pool)
	categoryMetricsRepo := repository.NewCategoryMetricsRepository(pool)
	tx := repository.NewPostgresTransactionManager(pool)

	// Vector index + model clients
	vecIndex := vectorindex.NewPgvectorIndex(pool)
	encoder := rag_augur.NewOllamaEmbedder(cfg.Augur.BaseURL, cfg.Augur.EmbeddingModel, cfg.Augur.TimeoutSeconds)
	llm := rag_augur.NewOllamaGenerator(cfg.Augur.BaseURL, cfg.Augur.ChatModel)

	// Adjudicator: a single rate limiter shared across every call so
	// event-merge and global-merge confirmations never exceed the
	// configured LLM throughput together.
	limiter := rate.NewLimiter(rate.Limit(cfg.Augur.RateLimitRPS), cfg.Augur.RateLimitBurst)
	adjudicator := llmadjudicator.New(llm, judgements, limiter, cfg.Merge.HalfdayMaxPromptTokens, cfg.Merge.HalfdayMaxCompletionTokens)

	norm := normalizer.Normalizer{Weights: platformWeights(cfg.PlatformWeights)}
	classifier := domain.StubClassifier{}
	noise := noisefilter.New(strings.Join(cfg.Noise.TitlePatterns, ","), strings.Join(cfg.Noise.URLPatterns, ","))

	// Usecases
	ingestUC := ingest.New(sourceItems, noise)

	categoryMetricsUC := categorymetrics.New(categoryMetricsRepo)

	promptBuilder := summaryengine.NewXMLPromptBuilder()
	summaryEngine := summaryengine.New(
		summaries, topics, topicNodes, sourceItems, vecIndex, encoder, llm, promptBuilder,
		tx, cfg.RAG.MaxCompletionTokens,
	)

	eventMerge := eventmerge.New(
		sourceItems, vecIndex, encoder, adjudicator, runs, tx, norm,
		eventmerge.Config{
			SimilarityThreshold: cfg.Merge.HalfdaySimilarityThreshold,
			JaccardThreshold:    cfg.Merge.HalfdayJaccardThreshold,
			LLMConfidence:       cfg.Merge.HalfdayLLMConfidence,
			MinOccurrence:       cfg.Merge.HalfdayMinOccurrence,
		},
	)

	globalMerge := globalmerge.New(
		sourceItems, topics, topicNodes, periodHeat, summaries, vecIndex, encoder, adjudicator,
		summaryEngine, categoryMetricsUC, runs, tx, norm, classifier,
		globalmerge.Config{
			TopKCandidates:      cfg.Merge.GlobalTopKCandidates,
			RecallScope:         domain.TopicStatusAny, // recall from every topic regardless of status
			MinSimilarity:       cfg.Merge.GlobalMinSimilarity,
			ConfidenceThreshold: cfg.Merge.GlobalConfidenceThreshold,
			Concurrent:          cfg.Merge.GlobalConcurrent,
			MaxBatchSize:        cfg.Merge.GlobalMaxBatchSize,
			SummaryConcurrent:   cfg.Merge.SummaryConcurrentSize,
			NewTopicKeepRatio:   cfg.Merge.GlobalNewTopicKeepRatio,
		},
	)

	monitoringUC := monitoring.New(sourceItems, runs, judgements)

	ragBudget := tokenmanager.Budget{
		MaxPromptTokens:     cfg.RAG.MaxContextTokens,
		MaxCompletionTokens: cfg.RAG.MaxCompletionTokens,
		ModelContextLimit:   cfg.RAG.ModelContextLimit,
		SafetyMarginTokens:  cfg.RAG.SafetyMarginTokens,
	}
	ragPrompts := ragreader.NewXMLPromptBuilder()
	ragReader := ragreader.New(
		topics, topicNodes, summaries, vecIndex, encoder, llm, ragPrompts,
		ragBudget, cfg.RAG.CacheSize, time.Duration(cfg.RAG.CacheTTLSeconds)*time.Second,
	)

	// The two reconciliation sweeps persist independent cursors so one
	// object kind's progress never blocks the other's.
	sourceItemSweeper := reconcile.NewSourceItemSweeper(sourceItems, vecIndex, encoder, cfg.Reconcile.CursorFilePath+".source_item")
	topicSweeper := reconcile.NewTopicSweeper(topics, summaries, vecIndex, encoder, cfg.Reconcile.CursorFilePath+".topic")

	sched, err := scheduler.New(scheduler.NoopIngestTrigger{}, eventMerge, globalMerge, runs, log, cfg.Schedule.RunSoftTimeoutSeconds)
	if err != nil {
		return nil, err
	}

	return &ApplicationComponents{
		SourceItems:     sourceItems,
		Topics:          topics,
		TopicNodes:      topicNodes,
		PeriodHeat:      periodHeat,
		Summaries:       summaries,
		Runs:            runs,
		Judgements:      judgements,
		CategoryMetrics: categoryMetricsRepo,
		Tx:              tx,

		VectorIndex: vecIndex,
		Encoder:     encoder,
		LLM:         llm,
		Adjudicator: adjudicator,
		Classifier:  classifier,

		Ingest:            ingestUC,
		EventMerge:        eventMerge,
		GlobalMerge:       globalMerge,
		SummaryEngine:     summaryEngine,
		CategoryMetricsUC: categoryMetricsUC,
		Monitoring:        monitoringUC,
		RAGReader:         ragReader,
		SourceItemSweeper: sourceItemSweeper,
		TopicSweeper:      topicSweeper,

		Scheduler: sched,
		Logger:    log,
	}, nil
}

// platformWeights converts config's string-keyed PLATFORM_WEIGHTS
// table into the domain.Platform-keyed table normalizer.Normalizer
// expects; an unrecognized platform string is dropped rather than
// carried as an invalid domain.Platform key.
func platformWeights(raw map[string]float64) map[domain.Platform]float64 {
	out := make(map[domain.Platform]float64, len(raw))
	for k, v := range raw {
		p := domain.Platform(k)
		if p.Valid() {
			out[p] = v
		}
	}
	return out
}
