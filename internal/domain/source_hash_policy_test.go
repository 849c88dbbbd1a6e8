package domain_test

import (
	"testing"

	"echoman/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestDedupKeyPolicy_Compute(t *testing.T) {
	policy := domain.NewDedupKeyPolicy()

	t.Run("Same input produces same key", func(t *testing.T) {
		k1 := policy.Compute(domain.PlatformWeibo, "https://weibo.com/a?x=1", "run-1")
		k2 := policy.Compute(domain.PlatformWeibo, "https://weibo.com/a?x=1", "run-1")
		assert.Equal(t, k1, k2)
	})

	t.Run("Query string differences are canonicalized away", func(t *testing.T) {
		k1 := policy.Compute(domain.PlatformWeibo, "https://weibo.com/a?x=1", "run-1")
		k2 := policy.Compute(domain.PlatformWeibo, "https://weibo.com/a?x=2#frag", "run-1")
		assert.Equal(t, k1, k2)
	})

	t.Run("Different run_id produces different key", func(t *testing.T) {
		k1 := policy.Compute(domain.PlatformWeibo, "https://weibo.com/a", "run-1")
		k2 := policy.Compute(domain.PlatformWeibo, "https://weibo.com/a", "run-2")
		assert.NotEqual(t, k1, k2)
	})

	t.Run("Different platform produces different key", func(t *testing.T) {
		k1 := policy.Compute(domain.PlatformWeibo, "https://x.com/a", "run-1")
		k2 := policy.Compute(domain.PlatformZhihu, "https://x.com/a", "run-1")
		assert.NotEqual(t, k1, k2)
	})
}
