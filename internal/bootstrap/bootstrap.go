package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/book-qa-assistant/internal/catalog"
	"github.com/kirillkom/book-qa-assistant/internal/config"
	"github.com/kirillkom/book-qa-assistant/internal/core/intent"
	"github.com/kirillkom/book-qa-assistant/internal/core/ports"
	"github.com/kirillkom/book-qa-assistant/internal/core/retrieval"
	"github.com/kirillkom/book-qa-assistant/internal/core/usecase"
	"github.com/kirillkom/book-qa-assistant/internal/core/validation"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/cache"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/lexical"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/llm/ollama"
	natsqueue "github.com/kirillkom/book-qa-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/rerank"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/book-qa-assistant/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/book-qa-assistant/internal/observability/metrics"
)

const rerankTimeout = 30 * time.Second

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.HTTPServerMetrics

	Catalog  *catalog.Catalog
	Cache    *cache.QueryCache
	Answerer *usecase.AnswerUseCase

	events  *natsqueue.CacheEvents
	closeFn func()
	wg      sync.WaitGroup
}

func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	books, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	httpMetrics := metrics.NewHTTPServerMetrics(service)
	pipelineMetrics := metrics.NewPipelineMetrics(service, httpMetrics.Registry())
	cacheSyncMetrics := metrics.NewCacheSyncMetrics(service, httpMetrics.Registry())

	executor := resilience.NewExecutor(
		cfg.Resilience,
		resilience.WithLogger(logger),
		resilience.WithStateObserver(pipelineMetrics.StateChanged),
	)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:  cfg.OllamaTimeout,
		Executor: executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient)

	generator, closeGenerator, err := newGenerator(ctx, cfg, ollamaClient, executor)
	if err != nil {
		return nil, err
	}
	if closeGenerator != nil {
		closers = append(closers, closeGenerator)
	}

	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, embedder, qdrant.Options{Executor: executor})

	var lexicalSearcher ports.LexicalSearcher
	if cfg.RAGLexicalEnabled {
		lexicalSearcher = lexical.New(vectorDB, logger, lexical.Options{})
	}

	var reranker ports.Reranker = rerank.NewHeuristic()
	if cfg.RerankerURL != "" {
		reranker = rerank.NewHTTPClient(cfg.RerankerURL, rerankTimeout, executor)
	}

	classifier := intent.NewClassifier(books, intent.Options{})
	retriever := retrieval.New(retrieval.Deps{
		Similarity: vectorDB,
		Lexical:    lexicalSearcher,
		Reranker:   reranker,
		Books:      books,
		Expander:   classifier,
		Observer:   pipelineMetrics,
		Logger:     logger,
	}, retrieval.Config{
		TopK:                cfg.RAGTopK,
		KPerBook:            cfg.RAGKPerBook,
		RelevanceFloor:      cfg.RAGRelevanceFloor,
		LexicalDefaultScore: cfg.RAGLexicalDefaultScore,
		TaskTimeout:         cfg.RAGFanoutTaskTimeout,
		WaitTimeout:         cfg.RAGFanoutWaitTimeout,
	})
	validator := validation.New(books, validation.Options{
		EvidenceThreshold: cfg.ValidationEvidenceThreshold,
		ValidityThreshold: cfg.ValidationValidityThreshold,
		MaxIssues:         cfg.ValidationMaxIssues,
	})

	store, closeStore, err := newCacheStore(ctx, cfg, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}
	queryCache := cache.New(ctx, store, logger, cache.Options{
		MaxEntries: cfg.CacheMaxEntries,
		TTL:        cfg.CacheTTL,
	})

	var events ports.CacheEvents
	var natsEvents *natsqueue.CacheEvents
	if cfg.NATSURL != "" {
		natsEvents, err = natsqueue.New(cfg.NATSURL, cfg.NATSCacheSubject, natsqueue.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
			OnEvent:            cacheSyncMetrics.ObserveEvent,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init cache events: %w", err)
		}
		events = natsEvents
		closers = append(closers, natsEvents.Close)
	}

	answerer := usecase.NewAnswerUseCase(usecase.AnswerDeps{
		Classifier: classifier,
		Retriever:  retriever,
		Validator:  validator,
		Generator:  generator,
		Cache:      queryCache,
		Catalog:    books,
		Events:     events,
		Observer:   pipelineMetrics,
		Logger:     logger,
	}, usecase.AnswerConfig{
		MaxQueryChars:      cfg.MaxQueryChars,
		MaxRetries:         cfg.ValidationMaxRetries,
		LowConfidenceFloor: cfg.ValidationLowConfidenceFloor,
		RelevanceThreshold: cfg.ContextRelevanceThreshold,
	})

	logger.Info("app_initialized",
		"generator", cfg.GeneratorProvider,
		"cache_backend", cfg.CacheBackend,
		"cache_entries", queryCache.Len(),
		"lexical", cfg.RAGLexicalEnabled,
		"reranker", rerankerKind(cfg),
		"cache_sync", natsEvents != nil,
		"books", len(books.Titles()),
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  httpMetrics,
		Catalog:  books,
		Cache:    queryCache,
		Answerer: answerer,
		events:   natsEvents,
		closeFn:  closeAll,
	}, nil
}

// StartBackground runs the catalog watcher and the cache clear subscriber
// until ctx is done. Close waits for both to stop.
func (a *App) StartBackground(ctx context.Context) {
	if a.Config.CatalogWatch && a.Config.CatalogPath != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.Catalog.Watch(ctx, a.Config.CatalogPath, a.Logger); err != nil {
				a.Logger.Error("catalog_watch_stopped", "error", err)
			}
		}()
	}

	if a.events != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Logger.Info("cache_sync_subscribed", "subject", a.Config.NATSCacheSubject)
			// Peer clears only touch the local cache; publishing again would loop.
			err := a.events.SubscribeCacheCleared(ctx, a.Cache.Clear)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("cache_sync_stopped", "error", err)
			}
		}()
	}
}

func (a *App) Close() {
	a.wg.Wait()
	if a.closeFn != nil {
		a.closeFn()
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	books, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return books, nil
}

func newGenerator(ctx context.Context, cfg config.Config, client *ollama.Client, executor *resilience.Executor) (ports.ChatGenerator, func(), error) {
	switch cfg.GeneratorProvider {
	case "", "ollama":
		return ollama.NewGenerator(client), nil, nil
	case "gemini":
		generator, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, gemini.Options{Executor: executor})
		if err != nil {
			return nil, nil, fmt.Errorf("init gemini generator: %w", err)
		}
		return generator, func() { _ = generator.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown generator provider %q", cfg.GeneratorProvider)
	}
}

func newCacheStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.CacheStore, func(), error) {
	switch cfg.CacheBackend {
	case "memory":
		return nil, nil, nil
	case "", "sqlite":
		store, err := sqlite.Open(cfg.CacheSQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := postgres.NewCacheRepository(db, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure cache schema: %w", err)
		}
		return repo, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func rerankerKind(cfg config.Config) string {
	if cfg.RerankerURL != "" {
		return "http"
	}
	return "heuristic"
}
