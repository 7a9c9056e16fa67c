package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/book-qa-assistant/internal/config"
	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/observability/logging"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		OllamaURL:         "http://127.0.0.1:1",
		QdrantURL:         "http://127.0.0.1:1",
		QdrantCollection:  "books",
		GeneratorProvider: "ollama",
		CacheBackend:      "memory",
		RAGTopK:           5,
		RAGKPerBook:       3,
		CacheMaxEntries:   10,
	}
}

func TestNewAnswersStaticIntentsWithoutBackends(t *testing.T) {
	app, err := New(context.Background(), testConfig(t), "test", logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	answer, err := app.Answerer.Answer(context.Background(), domain.AskRequest{Query: "What books do you have?"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Intent != domain.IntentListBooks {
		t.Fatalf("expected list_books intent, got %q", answer.Intent)
	}
	for _, book := range app.Catalog.Books() {
		if !strings.Contains(answer.Text, book.Title) {
			t.Fatalf("book list is missing %q: %q", book.Title, answer.Text)
		}
	}
}

func TestNewRejectsUnknownProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.GeneratorProvider = "openai"
	if _, err := New(context.Background(), cfg, "test", logging.Discard()); err == nil {
		t.Fatalf("expected unknown generator provider error")
	}

	cfg = testConfig(t)
	cfg.CacheBackend = "redis"
	if _, err := New(context.Background(), cfg, "test", logging.Discard()); err == nil {
		t.Fatalf("expected unknown cache backend error")
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.GeneratorProvider = "gemini"
	if _, err := New(context.Background(), cfg, "test", logging.Discard()); err == nil {
		t.Fatalf("expected missing gemini key error")
	}
}

func TestNewOpensSQLiteCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheBackend = "sqlite"
	cfg.CacheSQLitePath = filepath.Join(t.TempDir(), "cache", "query_cache.db")

	app, err := New(context.Background(), cfg, "test", logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	app.Close()

	if _, err := os.Stat(cfg.CacheSQLitePath); err != nil {
		t.Fatalf("expected sqlite file: %v", err)
	}
}

func TestNewLoadsCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.yaml")
	data := "books:\n  - title: Designing Data-Intensive Applications\n    author: Martin Kleppmann\n    patterns: [\"ddia\", \"kleppmann\"]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cfg := testConfig(t)
	cfg.CatalogPath = path

	app, err := New(context.Background(), cfg, "test", logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	titles := app.Catalog.Titles()
	if len(titles) != 1 || titles[0] != "Designing Data-Intensive Applications" {
		t.Fatalf("unexpected titles %v", titles)
	}
}

func TestStartBackgroundStopsWithContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.yaml")
	if err := os.WriteFile(path, []byte("books:\n  - title: Clean Code\n    author: Robert C. Martin\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cfg := testConfig(t)
	cfg.CatalogPath = path
	cfg.CatalogWatch = true

	app, err := New(context.Background(), cfg, "test", logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	app.StartBackground(ctx)
	cancel()
	app.Close()
}
