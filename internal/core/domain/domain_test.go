package domain

import "testing"

func TestNewQueryRejectsBlank(t *testing.T) {
	_, err := NewQuery("   \n\t", 100)
	if err == nil {
		t.Fatalf("expected error for blank query")
	}
	if !IsKind(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNewQueryNormalizesAndTruncates(t *testing.T) {
	q, err := NewQuery("  What   IS  Attention?  ", 0)
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}
	if q.Normalized != "what is attention?" {
		t.Fatalf("unexpected normalized form %q", q.Normalized)
	}
	if q.WordCount != 3 {
		t.Fatalf("expected 3 words, got %d", q.WordCount)
	}

	q, err = NewQuery("abcdefghij", 4)
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}
	if q.Raw != "abcd" {
		t.Fatalf("expected truncated query, got %q", q.Raw)
	}
}

func TestHistoryAppendDoesNotMutateReceiver(t *testing.T) {
	base := History{{UserText: "a"}}
	next := base.Append(Turn{UserText: "b"})
	if base.Len() != 1 {
		t.Fatalf("receiver mutated: %d turns", base.Len())
	}
	last, ok := next.Last()
	if !ok || last.UserText != "b" {
		t.Fatalf("unexpected last turn %+v", last)
	}
	if got := next.Recent(1); len(got) != 1 || got[0].UserText != "b" {
		t.Fatalf("unexpected recent window %+v", got)
	}
}

func TestNewClassificationDropsScopeForUnscopedIntents(t *testing.T) {
	if c := NewClassification(IntentCrossBook, "Book"); c.BookScope != "" {
		t.Fatalf("cross_book must not carry scope, got %q", c.BookScope)
	}
	if c := NewClassification(IntentStructure, "Book"); c.BookScope != "Book" {
		t.Fatalf("structure keeps scope, got %q", c.BookScope)
	}
}

func TestRetrievalResultSingleBook(t *testing.T) {
	r := RetrievalResult{Sources: []Source{
		{Meta: SourceMeta{BookTitle: "A"}},
		{Meta: SourceMeta{BookTitle: "A"}},
	}}
	if title, ok := r.SingleBook(); !ok || title != "A" {
		t.Fatalf("expected single book A, got %q %v", title, ok)
	}
	r.Sources = append(r.Sources, Source{Meta: SourceMeta{BookTitle: "B"}})
	if _, ok := r.SingleBook(); ok {
		t.Fatalf("expected mixed books to report false")
	}
}
