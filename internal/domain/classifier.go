package domain

import "context"

// Classifier assigns a category label to a newly created Topic. This
// is deliberately only a hook: category label assignment logic itself
// is out of scope, so the one implementation this repository ships is
// a stub that always returns "uncategorized".
type Classifier interface {
	Classify(ctx context.Context, items []SourceItemBrief) (category string, confidence float64, method string, err error)
}

// StubClassifier is the Classifier used until a real implementation
// is wired in.
type StubClassifier struct{}

func (StubClassifier) Classify(ctx context.Context, items []SourceItemBrief) (string, float64, string, error) {
	return "uncategorized", 0, "stub", nil
}
