// Package config loads Echoman's process configuration from the
// environment, grouped into one nested sub-struct per concern.
package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Env  string
	Port string

	DB        DBConfig
	Augur     AugurConfig
	Merge     MergeConfig
	RAG       RAGConfig
	Schedule  ScheduleConfig
	Noise     NoiseConfig
	Reconcile ReconcileConfig

	// PlatformWeights is PLATFORM_WEIGHTS, keyed by the raw platform
	// string (e.g. "weibo") rather than domain.Platform so this package
	// carries no dependency on internal/domain; the DI container
	// converts it into a normalizer.Normalizer{Weights: ...} table.
	PlatformWeights map[string]float64
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type AugurConfig struct {
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	TimeoutSeconds int
	RateLimitRPS   float64
	RateLimitBurst int
}

type MergeConfig struct {
	HalfdayMinOccurrence         int
	HalfdaySimilarityThreshold   float64
	HalfdayJaccardThreshold      float64
	HalfdayLLMConfidence         float64
	HalfdayMaxPromptTokens       int
	HalfdayMaxCompletionTokens   int
	HalfdayMaxItemSummaryTokens  int
	GlobalTopKCandidates         int
	GlobalMinSimilarity          float64
	GlobalConfidenceThreshold    float64
	GlobalMaxBatchSize           int
	GlobalConcurrent             int
	GlobalNewTopicKeepRatio      float64
	SummaryConcurrentSize        int
}

type RAGConfig struct {
	MaxContextTokens    int
	MaxCompletionTokens int
	SafetyMarginTokens  int
	ModelContextLimit   int
	CacheSize           int
	CacheTTLSeconds      int
}

type ScheduleConfig struct {
	RunSoftTimeoutSeconds int
}

// NoiseConfig bounds the ingest-time title/URL rejection patterns the
// noise filter is seeded with.
type NoiseConfig struct {
	TitlePatterns []string
	URLPatterns   []string
}

// ReconcileConfig bounds the reconciliation sweep's resumable cursor
// file and per-run walk size.
type ReconcileConfig struct {
	CursorFilePath string
	BatchSize      int
}

func Load() *Config {
	return &Config{
		Env:  getEnv("ENV", "development"),
		Port: getEnv("PORT", "9010"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "echoman-db"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "echoman"),
			Password: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "echoman"),
			Name:     getEnv("DB_NAME", "echoman"),
		},
		Augur: AugurConfig{
			BaseURL:        getEnvWithAlt("AUGUR_EXTERNAL", "AUGUR_EXTERNAL_URL", "http://augur-external:11434"),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "embeddinggemma"),
			ChatModel:      getEnv("QWEN_MODEL", "qwen3-32b"),
			TimeoutSeconds: getEnvInt("AUGUR_TIMEOUT_SECONDS", 30),
			RateLimitRPS:   getEnvFloat("LLM_RATE_LIMIT_RPS", 2.0),
			RateLimitBurst: getEnvInt("LLM_RATE_LIMIT_BURST", 4),
		},
		Merge: MergeConfig{
			HalfdayMinOccurrence:        getEnvInt("HALFDAY_MERGE_MIN_OCCURRENCE", 2),
			HalfdaySimilarityThreshold:  getEnvFloat("HALFDAY_MERGE_SIMILARITY_THRESHOLD", 0.80),
			HalfdayJaccardThreshold:     getEnvFloat("HALFDAY_MERGE_JACCARD_THRESHOLD", 0.40),
			HalfdayLLMConfidence:        getEnvFloat("HALFDAY_MERGE_LLM_CONFIDENCE", 0.80),
			HalfdayMaxPromptTokens:      getEnvInt("HALFDAY_MERGE_MAX_PROMPT_TOKENS", 2500),
			HalfdayMaxCompletionTokens:  getEnvInt("HALFDAY_MERGE_MAX_COMPLETION_TOKENS", 300),
			HalfdayMaxItemSummaryTokens: getEnvInt("HALFDAY_MERGE_MAX_ITEM_SUMMARY_TOKENS", 150),
			GlobalTopKCandidates:        getEnvInt("GLOBAL_MERGE_TOPK_CANDIDATES", 3),
			GlobalMinSimilarity:         getEnvFloat("GLOBAL_MERGE_MIN_SIMILARITY", 0.50),
			GlobalConfidenceThreshold:   getEnvFloat("GLOBAL_MERGE_CONFIDENCE_THRESHOLD", 0.75),
			GlobalMaxBatchSize:          getEnvInt("GLOBAL_MERGE_MAX_BATCH_SIZE", 200),
			GlobalConcurrent:            getEnvInt("GLOBAL_MERGE_CONCURRENT", 1),
			GlobalNewTopicKeepRatio:     getEnvFloat("GLOBAL_MERGE_NEW_TOPIC_KEEP_RATIO", 1.0),
			SummaryConcurrentSize:       getEnvInt("SUMMARY_CONCURRENT_SIZE", 5),
		},
		RAG: RAGConfig{
			MaxContextTokens:    getEnvInt("RAG_MAX_CONTEXT_TOKENS", 20000),
			MaxCompletionTokens: getEnvInt("RAG_MAX_COMPLETION_TOKENS", 2000),
			SafetyMarginTokens:  getEnvInt("RAG_SAFETY_MARGIN_TOKENS", 2000),
			ModelContextLimit:   getEnvInt("RAG_MODEL_CONTEXT_LIMIT", 32000),
			CacheSize:           getEnvInt("RAG_CACHE_SIZE", 256),
			CacheTTLSeconds:     getEnvInt("RAG_CACHE_TTL_SECONDS", 3600),
		},
		Schedule: ScheduleConfig{
			RunSoftTimeoutSeconds: getEnvInt("PIPELINE_RUN_SOFT_TIMEOUT_SECONDS", 900),
		},
		Noise: NoiseConfig{
			TitlePatterns: getEnvList("NOISE_TITLE_PATTERNS", nil),
			URLPatterns:   getEnvList("NOISE_URL_PATTERNS", []string{"/list/", "/channel/"}),
		},
		Reconcile: ReconcileConfig{
			CursorFilePath: getEnv("RECONCILE_CURSOR_FILE", "/var/lib/echoman/reconcile_cursor.json"),
			BatchSize:      getEnvInt("RECONCILE_BATCH_SIZE", 500),
		},
		PlatformWeights: getEnvFloatMap("PLATFORM_WEIGHTS", map[string]float64{
			"weibo":   1.2,
			"zhihu":   1.1,
			"baidu":   1.1,
			"toutiao": 1.0,
			"netease": 0.9,
			"sina":    0.8,
			"hupu":    0.8,
		}),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return fallback
}

func getEnvWithAlt(key, altKey, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	if value, ok := os.LookupEnv(altKey); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvList splits a comma-separated env var into a trimmed,
// non-empty slice of strings, or returns fallback if unset.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if out == nil {
		return fallback
	}
	return out
}

// getEnvFloatMap parses a "key:value,key:value" env var into a map,
// starting from fallback and overriding only the keys present so a
// partial override (e.g. PLATFORM_WEIGHTS=weibo:1.5) doesn't drop the
// other platforms' defaults.
func getEnvFloatMap(key string, fallback map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(fallback))
	for k, v := range fallback {
		out[k] = v
	}
	value, ok := os.LookupEnv(key)
	if !ok {
		return out
	}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(kv[0])
		weight, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			continue
		}
		out[name] = weight
	}
	return out
}
