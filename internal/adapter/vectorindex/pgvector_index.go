// Package vectorindex adapts Postgres+pgvector to the domain.VectorIndex
// contract. Embeddings live in the same database as the relational
// rows they describe, so at record granularity durability is
// inherited from Postgres WAL rather than a separate mechanism.
package vectorindex

import (
	"context"
	"fmt"

	"echoman/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgvectorIndex stores source_item and topic_summary embeddings in
// two parallel tables, one per ObjectKind, each with a cosine-distance
// index on its `embedding` column.
type PgvectorIndex struct {
	pool *pgxpool.Pool
}

func NewPgvectorIndex(pool *pgxpool.Pool) domain.VectorIndex {
	return &PgvectorIndex{pool: pool}
}

func tableFor(kind domain.ObjectKind) (string, error) {
	switch kind {
	case domain.ObjectSourceItem:
		return "vector_source_items", nil
	case domain.ObjectTopicSummary:
		return "vector_topic_summaries", nil
	default:
		return "", fmt.Errorf("unknown object kind %q", kind)
	}
}

func (idx *PgvectorIndex) Upsert(ctx context.Context, rec domain.VectorRecord) error {
	table, err := tableFor(rec.ObjectType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, object_id, topic_id, document, embedding, generated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			object_id = EXCLUDED.object_id,
			topic_id = EXCLUDED.topic_id,
			document = EXCLUDED.document,
			embedding = EXCLUDED.embedding,
			generated_at = EXCLUDED.generated_at
	`, table)
	_, err = idx.pool.Exec(ctx, query, rec.ID, rec.ObjectID, rec.TopicID, rec.Document, pgvector.NewVector(rec.Vector))
	if err != nil {
		return fmt.Errorf("upsert vector record into %s: %w", table, err)
	}
	return nil
}

func (idx *PgvectorIndex) Query(ctx context.Context, vector []float32, topK int, where domain.VectorWhere) ([]domain.VectorHit, error) {
	table, err := tableFor(where.ObjectType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, object_id, topic_id, document, embedding <=> $1 AS distance
		FROM %s
		WHERE ($2::bigint IS NULL OR topic_id = $2)
		ORDER BY embedding <=> $1
		LIMIT $3
	`, table)

	rows, err := idx.pool.Query(ctx, query, pgvector.NewVector(vector), where.TopicID, topK)
	if err != nil {
		return nil, fmt.Errorf("query vector index %s: %w", table, err)
	}
	defer rows.Close()

	var hits []domain.VectorHit
	for rows.Next() {
		var id, objectID, document string
		var topicID *int64
		var distance float32
		if err := rows.Scan(&id, &objectID, &topicID, &document, &distance); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		hits = append(hits, domain.VectorHit{
			ID:       id,
			Distance: distance,
			Record: domain.VectorRecord{
				ID:         id,
				ObjectType: where.ObjectType,
				ObjectID:   objectID,
				TopicID:    topicID,
				Document:   document,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector hits: %w", err)
	}
	return hits, nil
}

// Delete removes ids from both object-kind tables, since the caller
// may not know which kind an id belongs to at deletion time.
func (idx *PgvectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, table := range []string{"vector_source_items", "vector_topic_summaries"} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, table)
		if _, err := idx.pool.Exec(ctx, query, ids); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return nil
}
