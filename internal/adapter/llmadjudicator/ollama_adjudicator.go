// Package llmadjudicator turns the raw domain.LLMClient chat boundary
// into the two structured merge-pipeline decisions and persists an
// audit row for every call regardless of outcome. Item titles, item
// summaries and candidate summaries are truncated to 80, 150 and 200
// tokens, and the completion cap is passed as the call's max tokens;
// the assembled prompt is not measured against the prompt cap.
package llmadjudicator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"echoman/internal/domain"
	"echoman/internal/tokenmanager"

	"golang.org/x/time/rate"
)

const (
	maxCandidateSummaryTokens = 200
	maxItemTitleTokens        = 80
	maxItemSummaryTokens      = 150
)

// OllamaAdjudicator implements domain.Adjudicator on top of any
// domain.LLMClient (in practice rag_augur.OllamaGenerator), pacing
// calls through a shared rate limiter and auditing every call.
type OllamaAdjudicator struct {
	client      domain.LLMClient
	judgements  domain.LLMJudgementRepository
	limiter     *rate.Limiter
	promptCap   int
	completionCap int
}

// New constructs an adjudicator. limiter paces this adjudicator's LLM
// calls only; the embedding client is not paced by it.
func New(client domain.LLMClient, judgements domain.LLMJudgementRepository, limiter *rate.Limiter, promptCap, completionCap int) *OllamaAdjudicator {
	return &OllamaAdjudicator{
		client:        client,
		judgements:    judgements,
		limiter:       limiter,
		promptCap:     promptCap,
		completionCap: completionCap,
	}
}

type eventGroupResponse struct {
	IsSameEvent bool    `json:"is_same_event"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

func (a *OllamaAdjudicator) ConfirmEventGroup(ctx context.Context, items []domain.SourceItemBrief) (*domain.EventGroupDecision, *domain.LLMCallStats, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}

	messages := buildEventGroupPrompt(items)
	resp, err := a.client.Generate(ctx, messages, a.completionCap)
	stats := &domain.LLMCallStats{Provider: "ollama", Model: a.client.Version()}
	if err != nil {
		a.audit(ctx, domain.EventGroupConfirmation, summarizeItems(items), "", 0, 0, "error")
		return nil, nil, fmt.Errorf("generate event group decision: %w", err)
	}
	stats.TokensPrompt = resp.TokensPrompt
	stats.TokensCompletion = resp.TokensCompletion
	stats.RawResponse = resp.Text

	var parsed eventGroupResponse
	if err := parseJSONResponse(resp.Text, &parsed); err != nil {
		a.audit(ctx, domain.EventGroupConfirmation, summarizeItems(items), resp.Text, resp.TokensPrompt, resp.TokensCompletion, "malformed")
		return nil, stats, &domain.ErrMalformedLLMResponse{Raw: resp.Text, Err: err}
	}

	a.audit(ctx, domain.EventGroupConfirmation, summarizeItems(items), resp.Text, resp.TokensPrompt, resp.TokensCompletion, "ok")
	return &domain.EventGroupDecision{
		IsSameEvent: parsed.IsSameEvent,
		Confidence:  parsed.Confidence,
		Reason:      parsed.Reason,
	}, stats, nil
}

type topicAssociationResponse struct {
	Decision      string  `json:"decision"`
	TargetTopicID *int64  `json:"target_topic_id"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
}

func (a *OllamaAdjudicator) DecideTopicAssociation(ctx context.Context, rep domain.SourceItemBrief, candidates []domain.TopicBrief) (*domain.TopicAssociationDecision, *domain.LLMCallStats, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}

	messages := buildTopicAssociationPrompt(rep, candidates)
	resp, err := a.client.Generate(ctx, messages, a.completionCap)
	stats := &domain.LLMCallStats{Provider: "ollama", Model: a.client.Version()}
	requestSummary := fmt.Sprintf("rep=%s candidates=%d", rep.ID, len(candidates))
	if err != nil {
		a.audit(ctx, domain.TopicAssociation, requestSummary, "", 0, 0, "error")
		return nil, nil, fmt.Errorf("generate topic association decision: %w", err)
	}
	stats.TokensPrompt = resp.TokensPrompt
	stats.TokensCompletion = resp.TokensCompletion
	stats.RawResponse = resp.Text

	var parsed topicAssociationResponse
	if err := parseJSONResponse(resp.Text, &parsed); err != nil {
		a.audit(ctx, domain.TopicAssociation, requestSummary, resp.Text, resp.TokensPrompt, resp.TokensCompletion, "malformed")
		return nil, stats, &domain.ErrMalformedLLMResponse{Raw: resp.Text, Err: err}
	}

	a.audit(ctx, domain.TopicAssociation, requestSummary, resp.Text, resp.TokensPrompt, resp.TokensCompletion, "ok")
	return &domain.TopicAssociationDecision{
		Decision:      parsed.Decision,
		TargetTopicID: parsed.TargetTopicID,
		Confidence:    parsed.Confidence,
		Reason:        parsed.Reason,
	}, stats, nil
}

func (a *OllamaAdjudicator) audit(ctx context.Context, kind domain.JudgementKind, requestSummary, rawResponse string, tokensPrompt, tokensCompletion int, status string) {
	if a.judgements == nil {
		return
	}
	_, _ = a.judgements.Create(ctx, domain.LLMJudgement{
		Kind:             kind,
		RequestSummary:   requestSummary,
		RawResponse:      rawResponse,
		TokensPrompt:     tokensPrompt,
		TokensCompletion: tokensCompletion,
		Provider:         "ollama",
		Model:            a.client.Version(),
		Status:           status,
		CreatedAt:        time.Now(),
	})
}

func parseJSONResponse(text string, out any) error {
	text = strings.TrimSpace(text)
	// Tolerate a model that wraps its JSON in a fenced code block.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	return json.Unmarshal([]byte(text), out)
}

func summarizeItems(items []domain.SourceItemBrief) string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return strings.Join(ids, ",")
}

func buildEventGroupPrompt(items []domain.SourceItemBrief) []domain.Message {
	var sys strings.Builder
	sys.WriteString("You decide whether several headlines describe the same real-world news event.\n")
	sys.WriteString("Respond with JSON only: {\"is_same_event\": bool, \"confidence\": 0.0-1.0, \"reason\": \"...\"}\n")

	var user strings.Builder
	user.WriteString("<items>\n")
	for _, it := range items {
		user.WriteString(fmt.Sprintf("  <item id=%q>\n", it.ID))
		user.WriteString(fmt.Sprintf("    <title>%s</title>\n", tokenmanager.Truncate(it.Title, maxItemTitleTokens)))
		user.WriteString(fmt.Sprintf("    <summary>%s</summary>\n", tokenmanager.Truncate(it.Summary, maxItemSummaryTokens)))
		user.WriteString("  </item>\n")
	}
	user.WriteString("</items>\n")

	return []domain.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}
}

func buildTopicAssociationPrompt(rep domain.SourceItemBrief, candidates []domain.TopicBrief) []domain.Message {
	var sys strings.Builder
	sys.WriteString("You decide whether a news item continues an existing ongoing topic or starts a new one.\n")
	sys.WriteString("Respond with JSON only: {\"decision\": \"merge\"|\"new\", \"target_topic_id\": number|null, \"confidence\": 0.0-1.0, \"reason\": \"...\"}\n")

	var user strings.Builder
	user.WriteString("<representative>\n")
	user.WriteString(fmt.Sprintf("  <title>%s</title>\n", tokenmanager.Truncate(rep.Title, maxItemTitleTokens)))
	user.WriteString(fmt.Sprintf("  <summary>%s</summary>\n", tokenmanager.Truncate(rep.Summary, maxItemSummaryTokens)))
	user.WriteString("</representative>\n")
	user.WriteString("<candidates>\n")
	for _, c := range candidates {
		user.WriteString(fmt.Sprintf("  <candidate topic_id=%d>\n", c.ID))
		user.WriteString(fmt.Sprintf("    <summary>%s</summary>\n", tokenmanager.Truncate(c.Summary, maxCandidateSummaryTokens)))
		user.WriteString("  </candidate>\n")
	}
	user.WriteString("</candidates>\n")

	return []domain.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}
}

var _ domain.Adjudicator = (*OllamaAdjudicator)(nil)
