// Package rag_augur adapts the Ollama-compatible chat/embedding HTTP
// API to the domain's LLMClient and VectorEncoder contracts.
package rag_augur

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"echoman/internal/domain"
	"echoman/internal/infra/httpclient"
)

const keepAliveSeconds = 600

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string                 `json:"model"`
	Messages  []chatMessage          `json:"messages"`
	KeepAlive int                    `json:"keep_alive"`
	Stream    bool                   `json:"stream"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done             bool `json:"done"`
	PromptEvalCount  int  `json:"prompt_eval_count"`
	EvalCount        int  `json:"eval_count"`
}

// OllamaGenerator sends chat completions to an Ollama-compatible
// endpoint, used for both the LLM Adjudicator's structured decisions
// and the Summary Engine's/RAG Reader's free-text generations.
type OllamaGenerator struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

// NewOllamaGenerator constructs a generator using the provided
// endpoint and model name.
func NewOllamaGenerator(baseURL, model string) *OllamaGenerator {
	return &OllamaGenerator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  httpclient.NewPooledClient(120 * time.Second),
	}
}

func toChatMessages(messages []domain.Message) []chatMessage {
	out := make([]chatMessage, len(messages))
	for i, m := range messages {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// Generate sends a non-streaming chat completion request.
func (g *OllamaGenerator) Generate(ctx context.Context, messages []domain.Message, maxTokens int) (*domain.LLMResponse, error) {
	reqBody := chatRequest{
		Model:     g.Model,
		Messages:  toChatMessages(messages),
		KeepAlive: keepAliveSeconds,
		Stream:    false,
		Options: map[string]interface{}{
			"temperature": 0.2,
		},
	}
	if maxTokens > 0 {
		reqBody.Options["num_predict"] = maxTokens
	}

	jsonPayload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", g.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call generation endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("generation endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}

	return &domain.LLMResponse{
		Text:             strings.TrimSpace(chatResp.Message.Content),
		TokensPrompt:     chatResp.PromptEvalCount,
		TokensCompletion: chatResp.EvalCount,
	}, nil
}

// ChatStream sends a streaming chat completion request and forwards
// each chunk's content delta on the returned channel. Both channels
// close when the stream ends; at most one value is ever sent on the
// error channel.
func (g *OllamaGenerator) ChatStream(ctx context.Context, messages []domain.Message, maxTokens int) (<-chan string, <-chan error, error) {
	reqBody := chatRequest{
		Model:     g.Model,
		Messages:  toChatMessages(messages),
		KeepAlive: keepAliveSeconds,
		Stream:    true,
		Options: map[string]interface{}{
			"temperature": 0.2,
		},
	}
	if maxTokens > 0 {
		reqBody.Options["num_predict"] = maxTokens
	}

	jsonPayload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", g.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("call generation endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, fmt.Errorf("generation endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	chunkCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer resp.Body.Close()
		defer close(chunkCh)
		defer close(errCh)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var chunk chatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				errCh <- fmt.Errorf("decode stream chunk: %w", err)
				return
			}
			if chunk.Message.Content != "" {
				select {
				case chunkCh <- chunk.Message.Content:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("read stream: %w", err)
		}
	}()

	return chunkCh, errCh, nil
}

// Version returns the wrapped model name.
func (g *OllamaGenerator) Version() string {
	return g.Model
}

var _ domain.LLMClient = (*OllamaGenerator)(nil)
