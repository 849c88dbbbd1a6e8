package tokenmanager

import "testing"

func TestCount_Empty(t *testing.T) {
	if got := Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
}

func TestCount_MonotonicWithLength(t *testing.T) {
	short := Count("hello")
	long := Count("hello world, this is a much longer sentence than the first one")
	if long <= short {
		t.Errorf("expected longer text to count more tokens: short=%d long=%d", short, long)
	}
}

func TestTruncate_NoopWhenUnderBudget(t *testing.T) {
	s := "short text"
	if got := Truncate(s, 1000); got != s {
		t.Errorf("Truncate should be a no-op under budget, got %q", got)
	}
}

func TestTruncate_CutsToBudget(t *testing.T) {
	s := "this is a fairly long piece of text that should get truncated down to a small token budget"
	truncated := Truncate(s, 5)
	if Count(truncated) > 5 {
		t.Errorf("truncated text still exceeds budget: %q (%d tokens)", truncated, Count(truncated))
	}
	if len(truncated) >= len(s) {
		t.Errorf("expected truncation to shorten the string")
	}
}

func TestTruncate_ZeroBudget(t *testing.T) {
	if got := Truncate("anything", 0); got != "" {
		t.Errorf("Truncate with zero budget should return empty string, got %q", got)
	}
}

func TestBudget_Remaining(t *testing.T) {
	b := Budget{MaxCompletionTokens: 2000, ModelContextLimit: 32000, SafetyMarginTokens: 2000}
	got := b.Remaining(1000)
	want := 32000 - 2000 - 2000 - 1000
	if got != want {
		t.Errorf("Remaining = %d, want %d", got, want)
	}
}

func TestBudget_Remaining_NeverNegative(t *testing.T) {
	b := Budget{MaxCompletionTokens: 2000, ModelContextLimit: 32000, SafetyMarginTokens: 2000}
	got := b.Remaining(100000)
	if got != 0 {
		t.Errorf("Remaining should clamp to 0, got %d", got)
	}
}

func TestAllocate_PacksWholeChunksThenTruncatesTail(t *testing.T) {
	chunks := []Chunk{
		{ID: "a", Text: "short chunk one"},
		{ID: "b", Text: "short chunk two"},
		{ID: "c", Text: "this is a much longer chunk of text that will not fit in the remaining budget at all, it just keeps going on and on"},
	}
	out := Allocate(chunks, 20, 3)
	if len(out) == 0 {
		t.Fatal("expected at least one chunk allocated")
	}
	total := 0
	for _, c := range out {
		total += Count(c.Text)
	}
	if total > 20 {
		t.Errorf("allocated chunks exceed budget: %d tokens", total)
	}
}

func TestAllocate_ZeroBudget(t *testing.T) {
	out := Allocate([]Chunk{{ID: "a", Text: "anything"}}, 0, 1)
	if out != nil {
		t.Errorf("expected nil allocation for zero budget, got %v", out)
	}
}
