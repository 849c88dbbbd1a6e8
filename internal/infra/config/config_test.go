package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MergeParameters_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 2, cfg.Merge.HalfdayMinOccurrence)
	assert.Equal(t, 0.80, cfg.Merge.HalfdaySimilarityThreshold)
	assert.Equal(t, 0.40, cfg.Merge.HalfdayJaccardThreshold)
	assert.Equal(t, 0.80, cfg.Merge.HalfdayLLMConfidence)
	assert.Equal(t, 2500, cfg.Merge.HalfdayMaxPromptTokens)
	assert.Equal(t, 300, cfg.Merge.HalfdayMaxCompletionTokens)
	assert.Equal(t, 150, cfg.Merge.HalfdayMaxItemSummaryTokens)
	assert.Equal(t, 3, cfg.Merge.GlobalTopKCandidates)
	assert.Equal(t, 0.50, cfg.Merge.GlobalMinSimilarity)
	assert.Equal(t, 0.75, cfg.Merge.GlobalConfidenceThreshold)
	assert.Equal(t, 200, cfg.Merge.GlobalMaxBatchSize)
	assert.Equal(t, 1, cfg.Merge.GlobalConcurrent)
	assert.Equal(t, 1.0, cfg.Merge.GlobalNewTopicKeepRatio)
	assert.Equal(t, 5, cfg.Merge.SummaryConcurrentSize)
}

func TestLoad_MergeParameters_FromEnv(t *testing.T) {
	t.Setenv("HALFDAY_MERGE_SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("GLOBAL_MERGE_CONCURRENT", "4")
	t.Setenv("GLOBAL_MERGE_NEW_TOPIC_KEEP_RATIO", "0.5")

	cfg := Load()

	assert.Equal(t, 0.9, cfg.Merge.HalfdaySimilarityThreshold)
	assert.Equal(t, 4, cfg.Merge.GlobalConcurrent)
	assert.Equal(t, 0.5, cfg.Merge.GlobalNewTopicKeepRatio)
}

func TestLoad_RAGParameters_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 20000, cfg.RAG.MaxContextTokens)
	assert.Equal(t, 2000, cfg.RAG.MaxCompletionTokens)
	assert.Equal(t, 2000, cfg.RAG.SafetyMarginTokens)
	assert.Equal(t, 32000, cfg.RAG.ModelContextLimit)
}

func TestLoad_DBPassword_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/db_password"
	require.NoError(t, os.WriteFile(path, []byte("super-secret\n"), 0o600))
	t.Setenv("DB_PASSWORD_FILE", path)
	os.Unsetenv("DB_PASSWORD")

	cfg := Load()
	assert.Equal(t, "super-secret", cfg.DB.Password)
}
