package repository

import (
	"context"
	"fmt"
	"time"

	"echoman/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LLMJudgementRepository is the pgx-backed, append-only implementation
// of domain.LLMJudgementRepository.
type LLMJudgementRepository struct {
	pool *pgxpool.Pool
}

func NewLLMJudgementRepository(pool *pgxpool.Pool) domain.LLMJudgementRepository {
	return &LLMJudgementRepository{pool: pool}
}

func (r *LLMJudgementRepository) Create(ctx context.Context, j domain.LLMJudgement) (*domain.LLMJudgement, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	query := `
		INSERT INTO llm_judgements (
			id, kind, request_summary, raw_response, tokens_prompt,
			tokens_completion, provider, model, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`
	_, err := executor(ctx, r.pool).Exec(ctx, query,
		j.ID, j.Kind, j.RequestSummary, j.RawResponse, j.TokensPrompt,
		j.TokensCompletion, j.Provider, j.Model, j.Status, j.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create llm judgement: %w", err)
	}
	return &j, nil
}

func (r *LLMJudgementRepository) ErrorRateSince(ctx context.Context, since time.Time) (int, int, error) {
	query := `
		SELECT count(*), count(*) FILTER (WHERE status <> 'ok')
		FROM llm_judgements
		WHERE created_at >= $1
	`
	var total, errored int
	err := executor(ctx, r.pool).QueryRow(ctx, query, since).Scan(&total, &errored)
	if err != nil {
		return 0, 0, fmt.Errorf("query llm judgement error rate: %w", err)
	}
	return total, errored, nil
}
