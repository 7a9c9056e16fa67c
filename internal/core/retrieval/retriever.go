// Package retrieval finds the passages a question should be answered from:
// it plans similarity searches by intent, merges lexical hits, removes
// duplicates, reranks and selects the final context.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/ports"
	"github.com/kirillkom/book-qa-assistant/internal/core/textproc"
)

const (
	tocScopedSuffix   = " table of contents chapters sections"
	tocUnscopedSuffix = " table of contents"
)

// BookLister supplies the titles searched when a question spans every book.
type BookLister interface {
	Titles() []string
}

// QueryExpander rewrites vague follow-ups into a richer search string.
type QueryExpander interface {
	ExpandQuery(query string, history domain.History) string
}

type Config struct {
	TopK                int
	KPerBook            int
	LexicalK            int
	RelevanceFloor      float64
	LexicalDefaultScore float64
	TaskTimeout         time.Duration
	WaitTimeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.KPerBook <= 0 {
		c.KPerBook = 3
	}
	if c.LexicalK <= 0 {
		c.LexicalK = 2 * c.TopK
	}
	if c.LexicalDefaultScore <= 0 {
		c.LexicalDefaultScore = 0.5
	}
	return c
}

// Deps are the collaborators of a Retriever. Similarity and Books are
// required; the rest are optional.
type Deps struct {
	Similarity ports.SimilaritySearcher
	Lexical    ports.LexicalSearcher
	Reranker   ports.Reranker
	Books      BookLister
	Expander   QueryExpander
	Observer   ports.PipelineObserver
	Logger     *slog.Logger
}

type Retriever struct {
	similarity ports.SimilaritySearcher
	lexical    ports.LexicalSearcher
	reranker   ports.Reranker
	books      BookLister
	expander   QueryExpander
	observer   ports.PipelineObserver
	logger     *slog.Logger
	cfg        Config
}

func New(deps Deps, cfg Config) *Retriever {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := deps.Observer
	if observer == nil {
		observer = ports.NopObserver{}
	}
	return &Retriever{
		similarity: deps.Similarity,
		lexical:    deps.Lexical,
		reranker:   deps.Reranker,
		books:      deps.Books,
		expander:   deps.Expander,
		observer:   observer,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
}

type searchSpec struct {
	name   string
	query  string
	k      int
	filter domain.PassageFilter
}

type searchPlan struct {
	fanout bool
	specs  []searchSpec
}

// Retrieve never fails because an upstream search failed; such failures
// shrink the candidate set instead. An error means the Retriever itself is
// misconfigured.
func (r *Retriever) Retrieve(
	ctx context.Context,
	query string,
	cls domain.Classification,
	history domain.History,
) (domain.RetrievalResult, error) {
	if r.similarity == nil || r.books == nil {
		return domain.RetrievalResult{}, errors.New("retriever: similarity searcher and book list are required")
	}

	start := time.Now()
	searchQuery := query
	if r.expander != nil {
		searchQuery = r.expander.ExpandQuery(query, history)
	}
	plan := r.plan(searchQuery, cls)

	lexicalCh := make(chan []domain.Passage, 1)
	go func() {
		lexicalCh <- r.searchLexical(ctx, searchQuery)
	}()
	similar := r.searchSimilar(ctx, plan)
	lexical := <-lexicalCh

	candidates := mergeLexical(Dedup(similar), lexical, r.cfg.LexicalDefaultScore)
	if len(candidates) == 0 {
		r.logRetrieval(cls, searchQuery, 0, len(lexical), 0, start)
		return emptyResult(), nil
	}

	reranked := r.rerank(ctx, query, candidates)
	selected := Select(reranked, cls.Intent, SelectOptions{
		TopK:           r.cfg.TopK,
		RelevanceFloor: r.cfg.RelevanceFloor,
	})
	r.logRetrieval(cls, searchQuery, len(candidates), len(lexical), len(selected), start)
	return BuildResult(selected), nil
}

func (r *Retriever) plan(searchQuery string, cls domain.Classification) searchPlan {
	k := r.cfg.TopK

	if cls.Intent.SpansBooks() {
		titles := r.books.Titles()
		specs := make([]searchSpec, 0, len(titles))
		for _, title := range titles {
			specs = append(specs, searchSpec{
				name:   title,
				query:  searchQuery,
				k:      r.cfg.KPerBook,
				filter: domain.PassageFilter{BookTitle: title},
			})
		}
		return searchPlan{fanout: true, specs: specs}
	}

	scoped := cls.BookScope != "" && cls.Intent.AllowsScope()
	switch {
	case scoped && cls.Intent == domain.IntentStructure:
		return searchPlan{specs: []searchSpec{
			{
				name:  "toc",
				query: searchQuery + tocScopedSuffix,
				k:     3 * k,
				filter: domain.PassageFilter{
					BookTitle:   cls.BookScope,
					ContentType: domain.ContentTypeTableOfContents,
				},
			},
			{name: "scoped", query: searchQuery, k: 3 * k, filter: domain.PassageFilter{BookTitle: cls.BookScope}},
		}}
	case scoped:
		return searchPlan{specs: []searchSpec{
			{name: "scoped", query: searchQuery, k: 3 * k, filter: domain.PassageFilter{BookTitle: cls.BookScope}},
		}}
	case cls.Intent == domain.IntentStructure:
		return searchPlan{specs: []searchSpec{
			{
				name:   "toc",
				query:  searchQuery + tocUnscopedSuffix,
				k:      2 * k,
				filter: domain.PassageFilter{ContentType: domain.ContentTypeTableOfContents},
			},
			{name: "unscoped", query: searchQuery, k: 2 * k},
		}}
	default:
		return searchPlan{specs: []searchSpec{{name: "unscoped", query: searchQuery, k: 4 * k}}}
	}
}

func (r *Retriever) searchSimilar(ctx context.Context, plan searchPlan) []domain.Passage {
	if plan.fanout {
		return r.fanout(ctx, plan.specs)
	}

	out := make([]domain.Passage, 0, 4*r.cfg.TopK)
	for _, spec := range plan.specs {
		passages, err := r.similarity.Search(ctx, spec.query, spec.k, spec.filter)
		if err != nil {
			r.logger.Warn("similarity_search_failed", "search", spec.name, "error", err)
			continue
		}
		out = append(out, passages...)
	}
	return out
}

func (r *Retriever) fanout(ctx context.Context, specs []searchSpec) []domain.Passage {
	tasks := make([]Task[[]domain.Passage], 0, len(specs))
	for _, spec := range specs {
		tasks = append(tasks, Task[[]domain.Passage]{
			Name: spec.name,
			Run: func(taskCtx context.Context) ([]domain.Passage, error) {
				return r.similarity.Search(taskCtx, spec.query, spec.k, spec.filter)
			},
		})
	}

	results := RunAll(ctx, tasks, FanoutOptions{
		Limit:       len(tasks),
		TaskTimeout: r.cfg.TaskTimeout,
		WaitTimeout: r.cfg.WaitTimeout,
	})

	out := make([]domain.Passage, 0, len(specs)*r.cfg.KPerBook)
	for _, res := range results {
		r.observer.FanoutTask(string(res.Status))
		if res.Status != TaskOK {
			r.logger.Warn("fanout_task_dropped", "book", res.Name, "status", res.Status, "error", res.Err)
			continue
		}
		out = append(out, res.Value...)
	}
	return out
}

func (r *Retriever) searchLexical(ctx context.Context, searchQuery string) []domain.Passage {
	if r.lexical == nil {
		return nil
	}
	tokens := textproc.Tokens(searchQuery)
	if len(tokens) == 0 {
		return nil
	}
	passages, err := r.lexical.Search(ctx, tokens, r.cfg.LexicalK)
	if err != nil {
		r.logger.Warn("lexical_search_failed", "error", err)
		return nil
	}
	return passages
}

// mergeLexical appends lexical hits not already present, giving each the
// neutral default score.
func mergeLexical(similar, lexical []domain.Passage, defaultScore float64) []domain.Passage {
	seen := newSeenSet(len(similar) + len(lexical))
	for _, p := range similar {
		seen.add(p)
	}
	out := similar
	for _, p := range lexical {
		if !seen.add(p) {
			continue
		}
		p.Score = defaultScore
		out = append(out, p)
	}
	return out
}

func (r *Retriever) rerank(ctx context.Context, query string, candidates []domain.Passage) []domain.Passage {
	if r.reranker == nil {
		return candidates
	}
	reranked, err := r.reranker.Rerank(ctx, query, candidates)
	if err != nil || len(reranked) != len(candidates) {
		r.observer.RerankFallback()
		r.logger.Warn("rerank_fallback", "candidates", len(candidates), "returned", len(reranked), "error", err)
		return candidates
	}
	return reranked
}

func (r *Retriever) logRetrieval(cls domain.Classification, searchQuery string, candidates, lexical, selected int, start time.Time) {
	r.logger.Info(
		"rag_retrieval",
		"intent", cls.Intent,
		"book_scope", cls.BookScope,
		"search_query", searchQuery,
		"candidates", candidates,
		"lexical_hits", lexical,
		"selected", selected,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
