package ports

import (
	"context"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

// Embedder builds vectors for query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SimilaritySearcher runs semantic search over indexed passages. An empty
// result is a valid outcome.
type SimilaritySearcher interface {
	Search(ctx context.Context, query string, k int, filter domain.PassageFilter) ([]domain.Passage, error)
}

// LexicalSearcher runs term-frequency search over a snapshot of the corpus.
type LexicalSearcher interface {
	Search(ctx context.Context, tokens []string, k int) ([]domain.Passage, error)
}

// CorpusSource returns every indexed passage. It feeds the lexical index.
type CorpusSource interface {
	Snapshot(ctx context.Context) ([]domain.Passage, error)
}

// Reranker scores passages against the query. Returned passages keep the
// input order and carry the reranker's relevance in Score.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []domain.Passage) ([]domain.Passage, error)
}

// ChatGenerator produces assistant text from a chat transcript.
type ChatGenerator interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (string, error)
	// Stream calls onDelta for every incremental piece of text and returns
	// the full response.
	Stream(ctx context.Context, messages []domain.ChatMessage, onDelta func(string) error) (string, error)
}

// CacheStore persists query cache records, one per key.
type CacheStore interface {
	LoadAll(ctx context.Context) (map[string]domain.CacheEntry, error)
	Put(ctx context.Context, key string, entry domain.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// CacheEvents broadcasts cache invalidations between replicas.
type CacheEvents interface {
	PublishCacheCleared(ctx context.Context) error
	SubscribeCacheCleared(ctx context.Context, handler func(context.Context) error) error
}

// PipelineObserver receives counters from the Q&A pipeline. Implementations
// must be safe for concurrent use.
type PipelineObserver interface {
	IntentClassified(intent domain.Intent)
	CacheLookup(hit bool)
	FanoutTask(status string)
	RerankFallback()
	Validation(valid bool, attempts int)
	Refusal(reason string)
}

// NopObserver discards every observation.
type NopObserver struct{}

func (NopObserver) IntentClassified(domain.Intent) {}
func (NopObserver) CacheLookup(bool)               {}
func (NopObserver) FanoutTask(string)              {}
func (NopObserver) RerankFallback()                {}
func (NopObserver) Validation(bool, int)           {}
func (NopObserver) Refusal(string)                 {}
