// Package tokenmanager counts and truncates text against the token
// budgets each LLM call must respect. There is no tokenizer library in
// the retrieved pack (no tiktoken-equivalent), so counting is a
// byte/rune heuristic rather than a model-exact BPE count — see
// DESIGN.md for why this is the one deliberately-stdlib piece of the
// adjudication/generation path.
package tokenmanager

import "unicode/utf8"

// bytesPerToken approximates the blend of CJK text (roughly one token
// per character) and Latin text/punctuation (roughly four bytes per
// token) this pipeline actually sees.
const bytesPerToken = 2.0

// Count estimates the token count of s.
func Count(s string) int {
	if s == "" {
		return 0
	}
	runes := utf8.RuneCountInString(s)
	estimate := float64(len(s)) / bytesPerToken
	// Never estimate below rune count / 2. Every rune is at least one
	// byte, so for valid UTF-8 this floor never exceeds bytes/2; an
	// all-CJK string (3 bytes/rune) estimates at about 1.5 tokens/rune.
	if min := float64(runes) / 2; estimate < min {
		estimate = min
	}
	return int(estimate + 0.5)
}

// Truncate trims s to at most maxTokens tokens, cutting on a rune
// boundary. It never panics on invalid UTF-8 or empty input.
func Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if Count(s) <= maxTokens {
		return s
	}
	runes := []rune(s)
	// Binary search the longest rune-prefix whose estimated token
	// count fits within maxTokens.
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if Count(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

// Budget is a fixed token envelope an LLM call must stay within,
// mirroring the per-stage prompt/completion/context ceilings the
// pipeline configures (stage-one 2500/300, stage-two 2500/300, RAG
// 20000-context/2000-completion/2000-safety-margin over a 32000-token
// model).
type Budget struct {
	MaxPromptTokens     int
	MaxCompletionTokens int
	ModelContextLimit   int
	SafetyMarginTokens  int
}

// Remaining returns how many tokens are left for context once the
// completion reservation and safety margin are subtracted from the
// model's context window. Returns 0, never negative, if the budget is
// already exhausted.
func (b Budget) Remaining(usedPromptTokens int) int {
	limit := b.ModelContextLimit
	if limit <= 0 {
		limit = b.MaxPromptTokens + b.MaxCompletionTokens
	}
	remaining := limit - b.SafetyMarginTokens - b.MaxCompletionTokens - usedPromptTokens
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Chunk is one candidate piece of context competing for the budget's
// remaining token allowance.
type Chunk struct {
	ID   string
	Text string
}

// Allocate packs whole chunks into the budget in order until the next
// chunk would overflow it; that first chunk that does not fit is
// truncated to the remaining budget rather than dropped if at least
// minTailTokens of budget remain, and packing stops there. The RAG
// reader uses it for retrieval context packing.
func Allocate(chunks []Chunk, maxTokens, minTailTokens int) []Chunk {
	if maxTokens <= 0 {
		return nil
	}
	out := make([]Chunk, 0, len(chunks))
	used := 0
	for _, c := range chunks {
		n := Count(c.Text)
		if used+n <= maxTokens {
			out = append(out, c)
			used += n
			continue
		}
		remaining := maxTokens - used
		if remaining >= minTailTokens {
			out = append(out, Chunk{ID: c.ID, Text: Truncate(c.Text, remaining)})
			used = maxTokens
		}
		break
	}
	return out
}
