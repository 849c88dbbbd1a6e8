package domain

import "context"

// ObjectKind is the closed set of things the vector index stores
// embeddings for.
type ObjectKind string

const (
	ObjectSourceItem   ObjectKind = "source_item"
	ObjectTopicSummary ObjectKind = "topic_summary"
)

// VectorRecord is one embedding plus the metadata needed to recall
// and filter it.
type VectorRecord struct {
	ID          string
	Vector      []float32
	ObjectType  ObjectKind
	ObjectID    string
	TopicID     *int64
	GeneratedAt *string
	Document    string
}

// VectorWhere narrows a Query to a subset of stored records.
type VectorWhere struct {
	ObjectType ObjectKind
	TopicID    *int64
}

// VectorHit is one recalled record with its similarity to the query.
type VectorHit struct {
	ID       string
	Distance float32
	Record   VectorRecord
}

// Similarity converts cosine distance back to cosine similarity.
func (h VectorHit) Similarity() float32 {
	return 1 - h.Distance
}

// VectorEncoder turns text into an embedding vector.
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Version() string
}

// VectorIndex is the external-collaborator contract every stage of
// the pipeline recalls prior items/summaries through. Implementations
// must be crash-consistent at record granularity: a partially applied
// Upsert must never be visible to a subsequent Query.
type VectorIndex interface {
	Upsert(ctx context.Context, rec VectorRecord) error
	Query(ctx context.Context, vector []float32, topK int, where VectorWhere) ([]VectorHit, error)
	Delete(ctx context.Context, ids []string) error
}
