package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/ports"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/resilience"
)

const (
	serviceName       = "qdrant"
	defaultScrollPage = 256
)

type Options struct {
	Timeout    time.Duration
	ScrollPage int
	Executor   *resilience.Executor
}

// Client searches a collection of book passages. It implements
// ports.SimilaritySearcher and ports.CorpusSource.
type Client struct {
	baseURL    string
	collection string
	embedder   ports.Embedder
	httpClient *http.Client
	executor   *resilience.Executor
	scrollPage int
}

func New(baseURL, collection string, embedder ports.Embedder, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.ScrollPage <= 0 {
		opts.ScrollPage = defaultScrollPage
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: opts.Timeout},
		executor:   opts.Executor,
		scrollPage: opts.ScrollPage,
	}
}

type scoredPoint struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) Search(ctx context.Context, query string, k int, filter domain.PassageFilter) ([]domain.Passage, error) {
	if k <= 0 {
		return nil, nil
	}
	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	reqBody := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if must := mustConditions(filter); len(must) > 0 {
		reqBody["filter"] = map[string]any{"must": must}
	}

	var searchResp struct {
		Result []scoredPoint `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.execute(ctx, "search", func(ctx context.Context) error {
		return c.postJSON(ctx, url, reqBody, &searchResp, "search")
	}); err != nil {
		return nil, err
	}

	out := make([]domain.Passage, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		p, ok := passageFromPayload(r.Payload)
		if !ok {
			continue
		}
		p.Score = r.Score
		out = append(out, p)
	}
	return out, nil
}

// Snapshot scrolls through the whole collection. The lexical index is built
// from it once.
func (c *Client) Snapshot(ctx context.Context) ([]domain.Passage, error) {
	url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, c.collection)
	out := make([]domain.Passage, 0, c.scrollPage)
	var offset any
	for {
		reqBody := map[string]any{
			"limit":        c.scrollPage,
			"with_payload": true,
			"with_vector":  false,
		}
		if offset != nil {
			reqBody["offset"] = offset
		}

		var scrollResp struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := c.execute(ctx, "scroll", func(ctx context.Context) error {
			return c.postJSON(ctx, url, reqBody, &scrollResp, "scroll")
		}); err != nil {
			return nil, err
		}

		for _, point := range scrollResp.Result.Points {
			if p, ok := passageFromPayload(point.Payload); ok {
				out = append(out, p)
			}
		}
		offset = scrollResp.Result.NextPageOffset
		if offset == nil || len(scrollResp.Result.Points) == 0 {
			return out, nil
		}
	}
}

func mustConditions(filter domain.PassageFilter) []map[string]any {
	must := make([]map[string]any, 0, 2)
	if filter.BookTitle != "" {
		must = append(must, matchCondition("book_title", filter.BookTitle))
	}
	if filter.ContentType != "" {
		must = append(must, matchCondition("content_type", string(filter.ContentType)))
	}
	return must
}

func matchCondition(key, value string) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func passageFromPayload(payload map[string]any) (domain.Passage, bool) {
	text := getStringPayload(payload, "text")
	title := getStringPayload(payload, "book_title")
	if strings.TrimSpace(text) == "" || title == "" {
		return domain.Passage{}, false
	}
	contentType := domain.ContentType(getStringPayload(payload, "content_type"))
	if contentType == "" {
		contentType = domain.ContentTypeContent
	}
	return domain.Passage{
		Text: text,
		Meta: domain.SourceMeta{
			BookTitle:    title,
			Author:       getStringPayload(payload, "author"),
			Page:         getIntPayload(payload, "page"),
			Chapter:      getStringPayload(payload, "chapter"),
			ChapterTitle: getStringPayload(payload, "chapter_title"),
			SectionTitle: getStringPayload(payload, "section_title"),
			ContentType:  contentType,
		},
	}, true
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "qdrant."+operation, call, resilience.ClassifyHTTP)
	} else {
		err = call(ctx)
	}
	return resilience.WrapTemporary("qdrant "+operation, err, resilience.ClassifyHTTP)
}

func (c *Client) postJSON(ctx context.Context, url string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError(serviceName, operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	default:
		return 0
	}
}
