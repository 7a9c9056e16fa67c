package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/resilience"
)

const serviceName = "ollama"

type Options struct {
	Temperature float64
	TopP        float64
	NumPredict  int
	Timeout     time.Duration
	Executor    *resilience.Executor
}

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
	options    Options
}

func New(baseURL, genModel, embedModel string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.2
	}
	if opts.TopP <= 0 {
		opts.TopP = 0.9
	}
	if opts.NumPredict <= 0 {
		opts.NumPredict = 800
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: opts.Timeout},
		executor:   opts.Executor,
		options:    opts,
	}
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama."+operation, call, resilience.ClassifyHTTP)
	} else {
		err = call(ctx)
	}
	return resilience.WrapTemporary("ollama "+operation, err, resilience.ClassifyHTTP)
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.execute(ctx, "embed", func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d vectors, got %d", len(texts), len(response.Embeddings))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Generator implements ports.ChatGenerator over /api/chat.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatChunk struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

func (g *Generator) request(messages []domain.ChatMessage, stream bool) chatRequest {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return chatRequest{
		Model:    g.client.genModel,
		Messages: out,
		Stream:   stream,
		Options: map[string]any{
			"temperature": g.client.options.Temperature,
			"top_p":       g.client.options.TopP,
			"num_predict": g.client.options.NumPredict,
		},
	}
}

func (g *Generator) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	req := g.request(messages, false)
	var response chatChunk
	err := g.client.execute(ctx, "chat", func(ctx context.Context) error {
		return g.client.postJSON(ctx, "/api/chat", req, &response, "chat")
	})
	if err != nil {
		return "", err
	}
	if response.Error != "" {
		return "", fmt.Errorf("ollama chat: %s", response.Error)
	}
	return strings.TrimSpace(response.Message.Content), nil
}

// Stream is not retried: deltas already handed to onDelta cannot be taken
// back.
func (g *Generator) Stream(ctx context.Context, messages []domain.ChatMessage, onDelta func(string) error) (string, error) {
	req := g.request(messages, true)
	var full strings.Builder
	call := func(ctx context.Context) error {
		return g.client.streamJSON(ctx, "/api/chat", req, "chat_stream", func(chunk chatChunk) error {
			if chunk.Error != "" {
				return fmt.Errorf("ollama chat stream: %s", chunk.Error)
			}
			if chunk.Message.Content == "" {
				return nil
			}
			full.WriteString(chunk.Message.Content)
			return onDelta(chunk.Message.Content)
		})
	}

	var err error
	if g.client.executor != nil {
		err = g.client.executor.ExecuteOnce(ctx, "ollama.chat_stream", call, resilience.ClassifyHTTP)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", resilience.WrapTemporary("ollama chat_stream", err, resilience.ClassifyHTTP)
	}
	return strings.TrimSpace(full.String()), nil
}
