package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/ports"
	"github.com/kirillkom/book-qa-assistant/internal/core/retrieval"
	"github.com/kirillkom/book-qa-assistant/internal/core/validation"
)

const (
	refusalEmptyContext  = "empty_context"
	refusalLowRelevance  = "low_relevance"
	refusalLowConfidence = "low_confidence"
	refusalGenerator     = "generator_error"
)

type QueryClassifier interface {
	Classify(query string, history domain.History) domain.Classification
}

type PassageRetriever interface {
	Retrieve(ctx context.Context, query string, cls domain.Classification, history domain.History) (domain.RetrievalResult, error)
}

type AnswerValidator interface {
	Validate(answer, context, query string, history domain.History) domain.ValidationResult
}

type AnswerCache interface {
	Get(ctx context.Context, query, bookFilter string) (domain.CacheEntry, bool)
	Set(ctx context.Context, query, bookFilter, response string, sources []domain.Source)
	Clear(ctx context.Context) error
}

type BookCatalog interface {
	Books() []domain.Book
	Lookup(title string) (domain.Book, bool)
}

type AnswerConfig struct {
	MaxQueryChars         int
	MaxRetries            int
	LowConfidenceFloor    float64
	RelevanceThreshold    float64
	HistoryTurns          int
	HistoryAssistantChars int
}

func (c AnswerConfig) withDefaults() AnswerConfig {
	if c.MaxQueryChars <= 0 {
		c.MaxQueryChars = 1000
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.LowConfidenceFloor <= 0 {
		c.LowConfidenceFloor = 0.35
	}
	if c.RelevanceThreshold < 0 {
		c.RelevanceThreshold = 0
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 2
	}
	if c.HistoryAssistantChars <= 0 {
		c.HistoryAssistantChars = 800
	}
	return c
}

type AnswerDeps struct {
	Classifier QueryClassifier
	Retriever  PassageRetriever
	Validator  AnswerValidator
	Generator  ports.ChatGenerator
	Cache      AnswerCache
	Catalog    BookCatalog
	Events     ports.CacheEvents
	Observer   ports.PipelineObserver
	Logger     *slog.Logger
}

// AnswerUseCase runs one question through classification, cache, retrieval,
// generation and validation with a bounded correction loop.
type AnswerUseCase struct {
	classifier QueryClassifier
	retriever  PassageRetriever
	validator  AnswerValidator
	generator  ports.ChatGenerator
	cache      AnswerCache
	catalog    BookCatalog
	events     ports.CacheEvents
	observer   ports.PipelineObserver
	logger     *slog.Logger
	cfg        AnswerConfig
}

func NewAnswerUseCase(deps AnswerDeps, cfg AnswerConfig) *AnswerUseCase {
	observer := deps.Observer
	if observer == nil {
		observer = ports.NopObserver{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		classifier: deps.Classifier,
		retriever:  deps.Retriever,
		validator:  deps.Validator,
		generator:  deps.Generator,
		cache:      deps.Cache,
		catalog:    deps.Catalog,
		events:     deps.Events,
		observer:   observer,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
}

func (uc *AnswerUseCase) Books() []domain.Book {
	return uc.catalog.Books()
}

func (uc *AnswerUseCase) Classify(query string, history domain.History) domain.Classification {
	return uc.classifier.Classify(query, history)
}

// ClearCache empties the local cache and tells other replicas to do the same.
func (uc *AnswerUseCase) ClearCache(ctx context.Context) error {
	if uc.cache == nil {
		return nil
	}
	if err := uc.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	if uc.events != nil {
		if err := uc.events.PublishCacheCleared(ctx); err != nil {
			uc.logger.Warn("cache_clear_publish_failed", "error", err)
		}
	}
	return nil
}

// turnState carries what both the blocking and the streaming paths resolve
// before generation.
type turnState struct {
	query   domain.Query
	cls     domain.Classification
	history domain.History
	result  domain.RetrievalResult
	start   time.Time
}

// begin resolves a request up to the point where generation would start. A
// non-nil answer means the turn is already decided; state is non-nil
// whenever err is nil.
func (uc *AnswerUseCase) begin(ctx context.Context, req domain.AskRequest) (*turnState, *domain.Answer, error) {
	start := time.Now()
	q, err := prepareQuery(req.Query, uc.cfg.MaxQueryChars)
	if err != nil {
		return nil, nil, err
	}

	cls := uc.classifier.Classify(q.Raw, req.History)
	uc.observer.IntentClassified(cls.Intent)
	state := &turnState{query: q, cls: cls, history: req.History, start: start}

	if uc.cache != nil {
		entry, hit := uc.cache.Get(ctx, q.Raw, cls.BookScope)
		uc.observer.CacheLookup(hit)
		if hit {
			uc.logger.Info("cache_hit", "intent", cls.Intent, "book_scope", cls.BookScope)
			answer := uc.newAnswer(state, entry.Response)
			answer.Sources = entry.Sources
			answer.Stats = retrieval.StatsFor(entry.Sources)
			answer.ActiveBook = activeBookFor(cls, domain.RetrievalResult{Sources: entry.Sources, Stats: answer.Stats})
			answer.Cached = true
			return state, answer, nil
		}
	}

	if cls.Intent.Static() {
		return state, uc.newAnswer(state, staticReply(cls.Intent, uc.catalog.Books())), nil
	}

	result, err := uc.retriever.Retrieve(ctx, q.Raw, cls, req.History)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve passages: %w", err)
	}
	state.result = result

	if result.Empty() || strings.TrimSpace(result.Context) == "" {
		return state, uc.refuse(state, noInformationReply, refusalEmptyContext), nil
	}
	followup := cls.Intent == domain.IntentFollowup
	if relevance := validation.ContextRelevance(q.Raw, result.Context, followup); relevance < uc.cfg.RelevanceThreshold {
		uc.logger.Info("context_relevance_low", "relevance", relevance, "threshold", uc.cfg.RelevanceThreshold)
		return state, uc.refuse(state, noInformationReply, refusalLowRelevance), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, domain.WrapError(domain.ErrTemporary, "answer", err)
	}
	return state, nil, nil
}

func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.AskRequest) (*domain.Answer, error) {
	state, decided, err := uc.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if decided != nil {
		uc.logCompleted(state, decided)
		return decided, nil
	}

	in := promptInput{query: state.query.Raw, cls: state.cls, result: state.result, history: state.history}
	messages := uc.buildMessages(in)
	text, err := uc.generator.Complete(ctx, messages)
	if err != nil {
		uc.logger.Error("generation_failed", "attempt", 1, "error", err)
		answer := uc.refuse(state, errorReply, refusalGenerator)
		uc.logCompleted(state, answer)
		return answer, nil
	}

	verdict := uc.validator.Validate(text, state.result.Context, state.query.Raw, state.history)
	attempts := 1
	for retry := 1; retry <= uc.cfg.MaxRetries && !verdict.Valid; retry++ {
		uc.logger.Warn("validation_retry",
			"retry", retry,
			"max_retries", uc.cfg.MaxRetries,
			"confidence", verdict.Confidence,
			"issues", verdict.Issues,
		)
		messages = append(messages,
			domain.ChatMessage{Role: domain.RoleAssistant, Content: text},
			domain.ChatMessage{Role: domain.RoleUser, Content: validation.CorrectionPrompt(verdict.Issues, state.result.Context)},
		)
		next, genErr := uc.generator.Complete(ctx, messages)
		if genErr != nil {
			uc.logger.Warn("generation_failed", "attempt", attempts+1, "error", genErr)
			break
		}
		text = next
		attempts++
		verdict = uc.validator.Validate(text, state.result.Context, state.query.Raw, state.history)
	}

	return uc.finish(ctx, state, text, verdict, attempts), nil
}

// AnswerStream streams the first generation attempt through onDelta and
// validates the complete text afterwards. There is no regeneration; a
// verdict below the confidence floor replaces Answer.Text with the refusal.
func (uc *AnswerUseCase) AnswerStream(ctx context.Context, req domain.AskRequest, onDelta func(string) error) (*domain.Answer, error) {
	state, decided, err := uc.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if decided != nil {
		if err := onDelta(decided.Text); err != nil {
			return nil, fmt.Errorf("stream reply: %w", err)
		}
		uc.logCompleted(state, decided)
		return decided, nil
	}

	in := promptInput{query: state.query.Raw, cls: state.cls, result: state.result, history: state.history}
	streamed := false
	text, err := uc.generator.Stream(ctx, uc.buildMessages(in), func(delta string) error {
		streamed = true
		return onDelta(delta)
	})
	if err != nil {
		uc.logger.Error("generation_stream_failed", "streamed", streamed, "error", err)
		answer := uc.refuse(state, errorReply, refusalGenerator)
		if !streamed {
			if sendErr := onDelta(answer.Text); sendErr != nil {
				return nil, errors.Join(err, sendErr)
			}
		}
		uc.logCompleted(state, answer)
		return answer, nil
	}

	verdict := uc.validator.Validate(text, state.result.Context, state.query.Raw, state.history)
	return uc.finish(ctx, state, text, verdict, 1), nil
}

func (uc *AnswerUseCase) finish(ctx context.Context, state *turnState, text string, verdict domain.ValidationResult, attempts int) *domain.Answer {
	uc.observer.Validation(verdict.Valid, attempts)
	if !verdict.Valid && verdict.Confidence < uc.cfg.LowConfidenceFloor {
		uc.logger.Warn("validation_failed",
			"confidence", verdict.Confidence,
			"issues", verdict.Issues,
			"attempts", attempts,
		)
		answer := uc.refuse(state, unreliableReply, refusalLowConfidence)
		answer.Validation = &verdict
		answer.Attempts = attempts
		uc.logCompleted(state, answer)
		return answer
	}

	answer := uc.newAnswer(state, strings.TrimSpace(text))
	answer.Sources = state.result.Sources
	answer.Stats = state.result.Stats
	answer.Validation = &verdict
	answer.Attempts = attempts
	answer.ActiveBook = activeBookFor(state.cls, state.result)

	// Answers that only passed with a warning are not reused.
	if uc.cache != nil && verdict.Valid && !validation.IsAdmission(answer.Text) {
		uc.cache.Set(ctx, state.query.Raw, state.cls.BookScope, answer.Text, answer.Sources)
	}
	uc.logCompleted(state, answer)
	return answer
}

func (uc *AnswerUseCase) newAnswer(state *turnState, text string) *domain.Answer {
	return &domain.Answer{
		Text:       text,
		Intent:     state.cls.Intent,
		BookScope:  state.cls.BookScope,
		ActiveBook: state.cls.BookScope,
		Sources:    []domain.Source{},
		Stats:      domain.RetrievalStats{Books: []string{}},
	}
}

// refuse builds a refusal answer. Refusals never reach the cache.
func (uc *AnswerUseCase) refuse(state *turnState, text, reason string) *domain.Answer {
	uc.observer.Refusal(reason)
	answer := uc.newAnswer(state, text)
	answer.Refused = true
	return answer
}

// activeBookFor picks the book the next turn should continue with: the
// explicit scope, or the only book the sources came from for questions
// that were not about several books.
func activeBookFor(cls domain.Classification, result domain.RetrievalResult) string {
	if cls.BookScope != "" {
		return cls.BookScope
	}
	if cls.Intent.SpansBooks() || cls.Intent.Static() {
		return ""
	}
	book, _ := result.SingleBook()
	return book
}

func (uc *AnswerUseCase) logCompleted(state *turnState, answer *domain.Answer) {
	attrs := []any{
		"intent", answer.Intent,
		"book_scope", answer.BookScope,
		"active_book", answer.ActiveBook,
		"sources", len(answer.Sources),
		"attempts", answer.Attempts,
		"cached", answer.Cached,
		"refused", answer.Refused,
		"duration_ms", time.Since(state.start).Milliseconds(),
	}
	if answer.Validation != nil {
		attrs = append(attrs, "confidence", answer.Validation.Confidence, "valid", answer.Validation.Valid)
	}
	uc.logger.Info("answer_completed", attrs...)
}
