package lexical

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

type corpusFake struct {
	mu       sync.Mutex
	passages []domain.Passage
	errs     []error
	calls    int
}

func (f *corpusFake) Snapshot(context.Context) ([]domain.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.passages, nil
}

func passage(book, text string) domain.Passage {
	return domain.Passage{Text: text, Meta: domain.SourceMeta{BookTitle: book}}
}

func newTestIndex(source *corpusFake) *Index {
	return New(source, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{})
}

func TestSearchRanksByTermRarity(t *testing.T) {
	source := &corpusFake{passages: []domain.Passage{
		passage("A", "the model uses attention and the model learns"),
		passage("B", "dropout regularizes the model"),
		passage("C", "multi head attention attention everywhere"),
		passage("D", ""),
	}}
	idx := newTestIndex(source)

	got, err := idx.Search(context.Background(), []string{"attention"}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected two hits, got %d", len(got))
	}
	if got[0].Meta.BookTitle != "C" || got[1].Meta.BookTitle != "A" {
		t.Fatalf("unexpected order %s, %s", got[0].Meta.BookTitle, got[1].Meta.BookTitle)
	}
	if got[0].Score <= got[1].Score || got[1].Score <= 0 {
		t.Fatalf("scores must be positive and descending: %v %v", got[0].Score, got[1].Score)
	}
}

func TestSearchCapsResultsAndIgnoresUnknownTerms(t *testing.T) {
	source := &corpusFake{passages: []domain.Passage{
		passage("A", "model one"),
		passage("B", "model two"),
		passage("C", "model three"),
	}}
	idx := newTestIndex(source)

	got, err := idx.Search(context.Background(), []string{"model"}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected k results, got %d", len(got))
	}
	if got[0].Meta.BookTitle != "A" {
		t.Fatalf("ties must keep corpus order, got %s", got[0].Meta.BookTitle)
	}

	none, err := idx.Search(context.Background(), []string{"quasar"}, 2)
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown terms must yield nothing, got %d, %v", len(none), err)
	}
}

func TestSearchBuildsOnceAndRetriesFailedBuild(t *testing.T) {
	source := &corpusFake{
		passages: []domain.Passage{passage("A", "retrieval augmented generation")},
		errs:     []error{errors.New("qdrant down")},
	}
	idx := newTestIndex(source)

	if _, err := idx.Search(context.Background(), []string{"retrieval"}, 3); err == nil {
		t.Fatalf("expected build error")
	}
	for i := 0; i < 3; i++ {
		got, err := idx.Search(context.Background(), []string{"retrieval"}, 3)
		if err != nil || len(got) != 1 {
			t.Fatalf("search %d: got %d results, err %v", i, len(got), err)
		}
	}
	if source.calls != 2 {
		t.Fatalf("expected one failed and one successful snapshot, got %d calls", source.calls)
	}
}

func TestSearchConcurrentCallersShareOneBuild(t *testing.T) {
	source := &corpusFake{passages: []domain.Passage{passage("A", "tokenizer vocabulary")}}
	idx := newTestIndex(source)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := idx.Search(context.Background(), []string{"tokenizer"}, 1); err != nil {
				t.Errorf("Search() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if source.calls != 1 {
		t.Fatalf("expected a single snapshot, got %d", source.calls)
	}
}

func TestSearchSkipsWorkForEmptyInput(t *testing.T) {
	source := &corpusFake{}
	idx := newTestIndex(source)
	if got, err := idx.Search(context.Background(), nil, 3); err != nil || got != nil {
		t.Fatalf("expected nil result, got %v, %v", got, err)
	}
	if source.calls != 0 {
		t.Fatalf("empty input must not build the index")
	}
}

func TestRankIsIndependentOfQueryTermOrder(t *testing.T) {
	idx := build([]domain.Passage{
		passage("A", "attention dropout attention residual"),
		passage("B", "dropout residual layer norm"),
		passage("C", "residual attention norm"),
	})

	terms := idx.queryTerms([]string{"residual", "unknown", "attention", "dropout", "attention"})
	want := []string{"attention", "dropout", "residual"}
	if len(terms) != len(want) {
		t.Fatalf("queryTerms() = %v, want %v", terms, want)
	}
	for i := range want {
		if terms[i] != want[i] {
			t.Fatalf("queryTerms() = %v, want %v", terms, want)
		}
	}

	forward := idx.rank([]string{"attention", "dropout", "residual"}, 3, Options{}.withDefaults())
	backward := idx.rank([]string{"residual", "dropout", "attention"}, 3, Options{}.withDefaults())
	if len(forward) != len(backward) {
		t.Fatalf("hit counts differ: %d vs %d", len(forward), len(backward))
	}
	for i := range forward {
		if forward[i].Meta.BookTitle != backward[i].Meta.BookTitle || forward[i].Score != backward[i].Score {
			t.Fatalf("rank %d differs: %s/%v vs %s/%v", i,
				forward[i].Meta.BookTitle, forward[i].Score, backward[i].Meta.BookTitle, backward[i].Score)
		}
	}
}
