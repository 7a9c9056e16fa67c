// Package gemini implements ports.ChatGenerator on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/resilience"
)

const defaultModel = "gemini-1.5-flash"

type Options struct {
	Temperature     float32
	TopP            float32
	MaxOutputTokens int32
	Executor        *resilience.Executor
}

func (o Options) withDefaults() Options {
	if o.Temperature <= 0 {
		o.Temperature = 0.2
	}
	if o.TopP <= 0 {
		o.TopP = 0.9
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 800
	}
	return o
}

type Generator struct {
	client    *genai.Client
	modelName string
	opts      Options
}

func New(ctx context.Context, apiKey, modelName string, opts Options) (*Generator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if modelName == "" {
		modelName = defaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Generator{client: client, modelName: modelName, opts: opts.withDefaults()}, nil
}

func (g *Generator) Close() error {
	return g.client.Close()
}

// session builds a fresh model per call; GenerativeModel fields are not safe
// to share between concurrent requests.
func (g *Generator) session(messages []domain.ChatMessage) (*genai.ChatSession, genai.Text, error) {
	t, err := splitTranscript(messages)
	if err != nil {
		return nil, "", err
	}
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(g.opts.Temperature)
	model.SetTopP(g.opts.TopP)
	model.SetMaxOutputTokens(g.opts.MaxOutputTokens)
	if t.system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(t.system)}}
	}
	cs := model.StartChat()
	cs.History = t.history
	return cs, t.prompt, nil
}

func (g *Generator) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	cs, prompt, err := g.session(messages)
	if err != nil {
		return "", err
	}

	var text string
	call := func(ctx context.Context) error {
		resp, err := cs.SendMessage(ctx, prompt)
		if err != nil {
			return err
		}
		text = responseText(resp)
		return nil
	}
	if g.opts.Executor != nil {
		err = g.opts.Executor.Execute(ctx, "gemini.generate", call, Classify)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", resilience.WrapTemporary("gemini generate", err, Classify)
	}
	return strings.TrimSpace(text), nil
}

func (g *Generator) Stream(ctx context.Context, messages []domain.ChatMessage, onDelta func(string) error) (string, error) {
	cs, prompt, err := g.session(messages)
	if err != nil {
		return "", err
	}

	var full strings.Builder
	call := func(ctx context.Context) error {
		iter := cs.SendMessageStream(ctx, prompt)
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return err
			}
			delta := responseText(resp)
			if delta == "" {
				continue
			}
			full.WriteString(delta)
			if err := onDelta(delta); err != nil {
				return err
			}
		}
	}
	if g.opts.Executor != nil {
		err = g.opts.Executor.ExecuteOnce(ctx, "gemini.generate_stream", call, Classify)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", resilience.WrapTemporary("gemini generate_stream", err, Classify)
	}
	return strings.TrimSpace(full.String()), nil
}

type transcript struct {
	system  string
	history []*genai.Content
	prompt  genai.Text
}

// splitTranscript moves system messages into the system instruction and
// sends the final user message as the prompt. Gemini names the assistant
// role "model".
func splitTranscript(messages []domain.ChatMessage) (transcript, error) {
	var t transcript
	var system []string
	turns := make([]domain.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != domain.RoleUser {
		return t, domain.WrapError(domain.ErrInvalidInput, "gemini transcript", errors.New("last message must come from the user"))
	}

	t.system = strings.Join(system, "\n\n")
	t.prompt = genai.Text(turns[len(turns)-1].Content)
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		t.history = append(t.history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return t, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		// only the first candidate is used
		break
	}
	return b.String()
}

// Classify retries rate limits and server errors reported by the API and
// falls back to the HTTP classifier for transport failures.
func Classify(err error) resilience.ErrorClassification {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if resilience.IsRetryableHTTPStatus(apiErr.Code) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyHTTP(err)
}
