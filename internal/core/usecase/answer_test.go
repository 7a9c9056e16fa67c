package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

type classifierFake struct {
	cls domain.Classification
}

func (f *classifierFake) Classify(string, domain.History) domain.Classification {
	return f.cls
}

type retrieverFake struct {
	result domain.RetrievalResult
	err    error
	calls  int
}

func (f *retrieverFake) Retrieve(context.Context, string, domain.Classification, domain.History) (domain.RetrievalResult, error) {
	f.calls++
	return f.result, f.err
}

type validatorFake struct {
	verdicts []domain.ValidationResult
	answers  []string
}

func (f *validatorFake) Validate(answer, _, _ string, _ domain.History) domain.ValidationResult {
	f.answers = append(f.answers, answer)
	if len(f.verdicts) == 0 {
		return domain.ValidationResult{Valid: true, Confidence: 1, Issues: []string{}}
	}
	v := f.verdicts[0]
	if len(f.verdicts) > 1 {
		f.verdicts = f.verdicts[1:]
	}
	return v
}

type generatorFake struct {
	replies  []string
	err      error
	deltas   []string
	requests [][]domain.ChatMessage
}

func (f *generatorFake) Complete(_ context.Context, messages []domain.ChatMessage) (string, error) {
	f.requests = append(f.requests, append([]domain.ChatMessage(nil), messages...))
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "generated", nil
	}
	out := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return out, nil
}

func (f *generatorFake) Stream(_ context.Context, messages []domain.ChatMessage, onDelta func(string) error) (string, error) {
	f.requests = append(f.requests, messages)
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return "", err
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return strings.Join(f.deltas, ""), nil
}

type cacheFake struct {
	entries map[string]domain.CacheEntry
	sets    int
	cleared bool
}

func newCacheFake() *cacheFake {
	return &cacheFake{entries: make(map[string]domain.CacheEntry)}
}

func (f *cacheFake) Get(_ context.Context, query, book string) (domain.CacheEntry, bool) {
	e, ok := f.entries[query+"|"+book]
	return e, ok
}

func (f *cacheFake) Set(_ context.Context, query, book, response string, sources []domain.Source) {
	f.sets++
	f.entries[query+"|"+book] = domain.CacheEntry{Query: query, BookFilter: book, Response: response, Sources: sources}
}

func (f *cacheFake) Clear(context.Context) error {
	f.cleared = true
	f.entries = make(map[string]domain.CacheEntry)
	return nil
}

type catalogFake struct {
	books []domain.Book
}

func (f *catalogFake) Books() []domain.Book { return f.books }

func (f *catalogFake) Lookup(title string) (domain.Book, bool) {
	for _, b := range f.books {
		if b.Title == title {
			return b, true
		}
	}
	return domain.Book{}, false
}

type eventsFake struct {
	published int
}

func (f *eventsFake) PublishCacheCleared(context.Context) error {
	f.published++
	return nil
}

func (f *eventsFake) SubscribeCacheCleared(context.Context, func(context.Context) error) error {
	return nil
}

type observerFake struct {
	refusals    []string
	cacheHits   int
	cacheMisses int
	attempts    []int
}

func (f *observerFake) IntentClassified(domain.Intent) {}
func (f *observerFake) CacheLookup(hit bool) {
	if hit {
		f.cacheHits++
		return
	}
	f.cacheMisses++
}
func (f *observerFake) FanoutTask(string)               {}
func (f *observerFake) RerankFallback()                 {}
func (f *observerFake) Validation(_ bool, attempts int) { f.attempts = append(f.attempts, attempts) }
func (f *observerFake) Refusal(reason string)           { f.refusals = append(f.refusals, reason) }

var testBooks = []domain.Book{
	{Title: "AI Engineering", Author: "Chip Huyen", Publisher: "O'Reilly"},
	{Title: "LLM Engineers Handbook", Author: "Paul Iusztin, Maxime Labonne", Publisher: "Packt"},
}

type harness struct {
	classifier *classifierFake
	retriever  *retrieverFake
	validator  *validatorFake
	generator  *generatorFake
	cache      *cacheFake
	events     *eventsFake
	observer   *observerFake
	uc         *AnswerUseCase
}

func attentionResult(books ...string) domain.RetrievalResult {
	if len(books) == 0 {
		books = []string{"AI Engineering"}
	}
	sources := make([]domain.Source, 0, len(books))
	passages := make([]domain.Passage, 0, len(books))
	for _, b := range books {
		meta := domain.SourceMeta{BookTitle: b, Page: 12}
		sources = append(sources, domain.Source{Citation: b + " | p.12", Score: 0.8, Meta: meta})
		passages = append(passages, domain.Passage{Text: "attention weights tokens", Meta: meta, Score: 0.8})
	}
	return domain.RetrievalResult{
		Context:  "[Source 1 - AI Engineering]\nAttention weights let tokens attend to one another.",
		Passages: passages,
		Sources:  sources,
		Stats:    domain.RetrievalStats{BooksSearched: len(books), Books: books},
	}
}

func newHarness(cfg AnswerConfig) *harness {
	h := &harness{
		classifier: &classifierFake{cls: domain.Classification{Intent: domain.IntentGeneral}},
		retriever:  &retrieverFake{result: attentionResult()},
		validator:  &validatorFake{},
		generator:  &generatorFake{},
		cache:      newCacheFake(),
		events:     &eventsFake{},
		observer:   &observerFake{},
	}
	h.uc = NewAnswerUseCase(AnswerDeps{
		Classifier: h.classifier,
		Retriever:  h.retriever,
		Validator:  h.validator,
		Generator:  h.generator,
		Cache:      h.cache,
		Catalog:    &catalogFake{books: testBooks},
		Events:     h.events,
		Observer:   h.observer,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, cfg)
	return h
}

func ask(q string) domain.AskRequest {
	return domain.AskRequest{Query: q}
}

func TestAnswerRejectsInvalidInput(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 2})
	for _, q := range []string{"", "   ", "<script>alert(1)</script>", "what does {{ config }} hold"} {
		_, err := h.uc.Answer(context.Background(), ask(q))
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("Answer(%q) error = %v, want ErrInvalidInput", q, err)
		}
	}
	if h.retriever.calls != 0 {
		t.Fatalf("invalid input must not reach retrieval")
	}
}

func TestAnswerCacheHitShortCircuits(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 2})
	h.cache.entries["what is attention?|"] = domain.CacheEntry{
		Response: "cached answer",
		Sources:  []domain.Source{{Meta: domain.SourceMeta{BookTitle: "AI Engineering"}}},
	}

	answer, err := h.uc.Answer(context.Background(), ask("what is attention?"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !answer.Cached || answer.Text != "cached answer" {
		t.Fatalf("expected cached answer, got %+v", answer)
	}
	if answer.ActiveBook != "AI Engineering" {
		t.Fatalf("expected active book from cached sources, got %q", answer.ActiveBook)
	}
	if answer.Stats.BooksSearched != 1 || len(answer.Stats.Books) != 1 || answer.Stats.Books[0] != "AI Engineering" {
		t.Fatalf("expected stats derived from cached sources, got %+v", answer.Stats)
	}
	if h.retriever.calls != 0 || len(h.generator.requests) != 0 {
		t.Fatalf("cache hit must not call retriever or generator")
	}
	if h.observer.cacheHits != 1 {
		t.Fatalf("expected one cache hit, got %d", h.observer.cacheHits)
	}
}

func TestAnswerStaticIntents(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 2})
	h.classifier.cls = domain.Classification{Intent: domain.IntentListBooks}

	answer, err := h.uc.Answer(context.Background(), ask("list your books"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(answer.Text, "1. **AI Engineering** by Chip Huyen (O'Reilly)") ||
		!strings.Contains(answer.Text, "2. **LLM Engineers Handbook** by Paul Iusztin, Maxime Labonne (Packt)") {
		t.Fatalf("unexpected book list %q", answer.Text)
	}

	h.classifier.cls = domain.Classification{Intent: domain.IntentMeta}
	answer, err = h.uc.Answer(context.Background(), ask("what can you do"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(answer.Text, "- LLM Engineers Handbook") {
		t.Fatalf("unexpected meta reply %q", answer.Text)
	}
	if h.retriever.calls != 0 || len(h.generator.requests) != 0 || h.cache.sets != 0 {
		t.Fatalf("static intents must not retrieve, generate or cache")
	}
}

func TestAnswerRefusesWithoutEvidence(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 2})
	h.retriever.result = domain.RetrievalResult{Sources: []domain.Source{}, Passages: []domain.Passage{}}

	answer, err := h.uc.Answer(context.Background(), ask("what is attention?"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != noInformationReply || !answer.Refused {
		t.Fatalf("expected refusal, got %+v", answer)
	}
	if len(h.generator.requests) != 0 || h.cache.sets != 0 {
		t.Fatalf("refusal must not generate or cache")
	}
	if len(h.observer.refusals) != 1 || h.observer.refusals[0] != refusalEmptyContext {
		t.Fatalf("unexpected refusals %v", h.observer.refusals)
	}
}

func TestAnswerRefusesOnLowContextRelevance(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 2, RelevanceThreshold: 0.3})

	answer, err := h.uc.Answer(context.Background(), ask("explain quantum chromodynamics"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != noInformationReply {
		t.Fatalf("expected low-relevance refusal, got %q", answer.Text)
	}
	if len(h.generator.requests) != 0 {
		t.Fatalf("low relevance must not reach the generator")
	}

	h.classifier.cls = domain.Classification{Intent: domain.IntentFollowup}
	answer, _ = h.uc.Answer(context.Background(), ask("explain quantum chromodynamics"))
	if answer.Refused {
		t.Fatalf("follow-ups get the relevance floor and must pass a 0.3 threshold")
	}
}

func TestAnswerCorrectionLoop(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 2})
	h.generator.replies = []string{"first draft", "second draft", "final answer"}
	h.validator.verdicts = []domain.ValidationResult{
		{Valid: false, Confidence: 0.2, Issues: []string{"Name 'Alan Turing' not found in context"}},
		{Valid: false, Confidence: 0.3, Issues: []string{"Speculative language: 'probably'"}},
		{Valid: true, Confidence: 0.9, Issues: []string{}},
	}

	answer, err := h.uc.Answer(context.Background(), ask("what is attention?"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != "final answer" || answer.Attempts != 3 {
		t.Fatalf("expected third attempt to win, got %q after %d", answer.Text, answer.Attempts)
	}
	if len(h.generator.requests) != 3 {
		t.Fatalf("expected 3 generations, got %d", len(h.generator.requests))
	}

	last := h.generator.requests[2]
	if n := len(last); n < 5 {
		t.Fatalf("expected correction turns appended, got %d messages", n)
	}
	rejected := last[len(last)-2]
	correction := last[len(last)-1]
	if rejected.Role != domain.RoleAssistant || rejected.Content != "second draft" {
		t.Fatalf("rejected answer must be replayed, got %+v", rejected)
	}
	if !strings.HasPrefix(correction.Content, "Previous answer had issues:\n- Speculative language: 'probably'") {
		t.Fatalf("unexpected correction prompt %q", correction.Content)
	}
	if h.cache.sets != 1 {
		t.Fatalf("valid answer must be cached")
	}
}

func TestAnswerRefusesBelowConfidenceFloor(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 2})
	h.validator.verdicts = []domain.ValidationResult{{Valid: false, Confidence: 0.1, Issues: []string{"Unsupported claim: x"}}}

	answer, err := h.uc.Answer(context.Background(), ask("what is attention?"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != unreliableReply || !answer.Refused {
		t.Fatalf("expected unreliable refusal, got %+v", answer)
	}
	if answer.Attempts != 3 || len(h.generator.requests) != 3 {
		t.Fatalf("expected 1 + 2 retries, got %d", answer.Attempts)
	}
	if h.cache.sets != 0 {
		t.Fatalf("refusal must not be cached")
	}
	if got := h.observer.attempts; len(got) != 1 || got[0] != 3 {
		t.Fatalf("unexpected validation observations %v", got)
	}
}

func TestAnswerKeepsWarnedAnswerWithoutCaching(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 0})
	h.generator.replies = []string{"a borderline answer"}
	h.validator.verdicts = []domain.ValidationResult{{Valid: false, Confidence: 0.38, Issues: []string{"a", "b", "c"}}}

	answer, err := h.uc.Answer(context.Background(), ask("what is attention?"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Refused || answer.Text != "a borderline answer" {
		t.Fatalf("expected the answer with a warning, got %+v", answer)
	}
	if answer.Validation == nil || answer.Validation.Valid {
		t.Fatalf("verdict must be reported, got %+v", answer.Validation)
	}
	if h.cache.sets != 0 {
		t.Fatalf("warned answers must not be cached")
	}
}

func TestAnswerGeneratorFailureBecomesApology(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 2})
	h.generator.err = errors.New("connection refused")

	answer, err := h.uc.Answer(context.Background(), ask("what is attention?"))
	if err != nil {
		t.Fatalf("generator failure must not surface as error, got %v", err)
	}
	if answer.Text != errorReply || strings.Contains(answer.Text, "connection refused") {
		t.Fatalf("unexpected reply %q", answer.Text)
	}
	if h.cache.sets != 0 {
		t.Fatalf("apology must not be cached")
	}
}

func TestAnswerCanceledBeforeGenerationIsTemporary(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.uc.Answer(ctx, ask("what is attention?"))
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestAnswerActiveBookInference(t *testing.T) {
	tests := []struct {
		name string
		cls  domain.Classification
		res  domain.RetrievalResult
		want string
	}{
		{"scope wins", domain.Classification{Intent: domain.IntentSpecificBook, BookScope: "LLM Engineers Handbook"}, attentionResult("AI Engineering"), "LLM Engineers Handbook"},
		{"single source book", domain.Classification{Intent: domain.IntentGeneral}, attentionResult("AI Engineering", "AI Engineering"), "AI Engineering"},
		{"mixed books", domain.Classification{Intent: domain.IntentGeneral}, attentionResult("AI Engineering", "LLM Engineers Handbook"), ""},
		{"cross book never pins", domain.Classification{Intent: domain.IntentCrossBook}, attentionResult("AI Engineering"), ""},
	}
	for _, tt := range tests {
		h := newHarness(AnswerConfig{MaxRetries: 2})
		h.classifier.cls = tt.cls
		h.retriever.result = tt.res
		answer, err := h.uc.Answer(context.Background(), ask("what is attention?"))
		if err != nil {
			t.Fatalf("%s: Answer() error = %v", tt.name, err)
		}
		if answer.ActiveBook != tt.want {
			t.Fatalf("%s: ActiveBook = %q, want %q", tt.name, answer.ActiveBook, tt.want)
		}
	}
}

func TestAnswerStreamForwardsDeltasAndValidatesOnce(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 2})
	h.generator.deltas = []string{"Attention ", "weights ", "matter."}
	h.validator.verdicts = []domain.ValidationResult{{Valid: false, Confidence: 0.1, Issues: []string{"x"}}}

	var got []string
	answer, err := h.uc.AnswerStream(context.Background(), ask("what is attention?"), func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("AnswerStream() error = %v", err)
	}
	if strings.Join(got, "") != "Attention weights matter." {
		t.Fatalf("unexpected deltas %q", got)
	}
	if len(h.generator.requests) != 1 || len(h.validator.answers) != 1 {
		t.Fatalf("stream must generate and validate exactly once")
	}
	if h.validator.answers[0] != "Attention weights matter." {
		t.Fatalf("validator must see the full streamed text, got %q", h.validator.answers[0])
	}
	if answer.Text != unreliableReply || !answer.Refused {
		t.Fatalf("low-confidence stream must report the refusal, got %+v", answer)
	}
}

func TestAnswerStreamSendsDecidedReplyOnce(t *testing.T) {
	h := newHarness(AnswerConfig{MaxRetries: 2})
	h.classifier.cls = domain.Classification{Intent: domain.IntentMeta}

	var got []string
	if _, err := h.uc.AnswerStream(context.Background(), ask("who are you"), func(d string) error {
		got = append(got, d)
		return nil
	}); err != nil {
		t.Fatalf("AnswerStream() error = %v", err)
	}
	if len(got) != 1 || !strings.HasPrefix(got[0], "I'm a document Q&A assistant") {
		t.Fatalf("unexpected deltas %q", got)
	}
}

func TestClearCachePublishes(t *testing.T) {
	h := newHarness(AnswerConfig{})
	if err := h.uc.ClearCache(context.Background()); err != nil {
		t.Fatalf("ClearCache() error = %v", err)
	}
	if !h.cache.cleared || h.events.published != 1 {
		t.Fatalf("expected local clear and one event, got %v/%d", h.cache.cleared, h.events.published)
	}
}
