// Package rerank scores retrieved passages against the user query.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/resilience"
)

const serviceName = "reranker"

// HTTPClient talks to a text-embeddings-inference compatible /rerank
// endpoint.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func NewHTTPClient(baseURL string, timeout time.Duration, executor *resilience.Executor) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type rankedText struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (c *HTTPClient) Rerank(ctx context.Context, query string, passages []domain.Passage) ([]domain.Passage, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	req := rerankRequest{Query: query, Texts: make([]string, 0, len(passages))}
	for _, p := range passages {
		req.Texts = append(req.Texts, p.Text)
	}

	var ranked []rankedText
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, req, &ranked)
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "reranker.rerank", call, resilience.ClassifyHTTP)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, resilience.WrapTemporary("reranker rerank", err, resilience.ClassifyHTTP)
	}

	if len(ranked) != len(passages) {
		return nil, fmt.Errorf("reranker returned %d scores for %d passages", len(ranked), len(passages))
	}
	out := make([]domain.Passage, len(passages))
	copy(out, passages)
	seen := make([]bool, len(passages))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(out) || seen[r.Index] {
			return nil, fmt.Errorf("reranker returned invalid index %d", r.Index)
		}
		seen[r.Index] = true
		out[r.Index].Score = r.Score
	}
	return out, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reranker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError(serviceName, "rerank", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode rerank response: %w", err)
	}
	return nil
}
