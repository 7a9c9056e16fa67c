package retrieval

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

func TestDedupIsIdempotent(t *testing.T) {
	in := []domain.Passage{
		passage("A", "Attention is all you need.", 0.9),
		passage("A", "  attention IS all   you need. ", 0.8),
		passage("B", "Attention is all you need.", 0.7),
		passage("A", "Something else entirely.", 0.6),
	}
	once := Dedup(in)
	twice := Dedup(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("Dedup not idempotent:\nonce=%+v\ntwice=%+v", once, twice)
	}
	// Same normalized leading text counts as a duplicate even across books.
	if len(once) != 2 {
		t.Fatalf("expected 2 unique passages, got %d: %+v", len(once), once)
	}
	if once[0].Score != 0.9 {
		t.Fatalf("first occurrence must be kept")
	}
}

func TestFingerprintIncludesLocation(t *testing.T) {
	a := passage("A", "same text", 0)
	b := a
	b.Meta.Page = 12
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("page must change the fingerprint")
	}
	c := a
	c.Text = "SAME   text"
	if Fingerprint(a) != Fingerprint(c) {
		t.Fatalf("fingerprint must ignore case and whitespace")
	}
}

func TestSelectStructureBoostsTableOfContents(t *testing.T) {
	toc := passage("A", "contents", 0.3)
	toc.Meta.ContentType = domain.ContentTypeTableOfContents
	in := []domain.Passage{passage("A", "body", 0.5), toc}

	got := Select(in, domain.IntentStructure, SelectOptions{TopK: 2})
	if got[0].Text != "contents" || got[0].Score != 0.6 {
		t.Fatalf("expected boosted TOC first, got %+v", got)
	}
	if in[1].Score != 0.3 {
		t.Fatalf("input passages must not be modified")
	}

	got = Select(in, domain.IntentGeneral, SelectOptions{TopK: 2})
	if got[0].Text != "body" {
		t.Fatalf("TOC boost applies to structure questions only")
	}
}

func TestSelectKeepsDiscoveryOrderForTies(t *testing.T) {
	in := []domain.Passage{
		passage("A", "first", 0.5),
		passage("B", "second", 0.5),
		passage("C", "third", 0.5),
	}
	got := Select(in, domain.IntentGeneral, SelectOptions{TopK: 3})
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Text != want {
			t.Fatalf("position %d = %s, want %s", i, got[i].Text, want)
		}
	}
}

func TestSelectPerBookCapFillsFromOtherBooks(t *testing.T) {
	in := []domain.Passage{
		passage("A", "a1", 0.99), passage("A", "a2", 0.98), passage("A", "a3", 0.97),
		passage("B", "b1", 0.5),
	}
	got := Select(in, domain.IntentComparison, SelectOptions{TopK: 3})
	texts := make([]string, 0, len(got))
	for _, p := range got {
		texts = append(texts, p.Text)
	}
	if !reflect.DeepEqual(texts, []string{"a1", "a2", "b1"}) {
		t.Fatalf("unexpected selection %v", texts)
	}
}

func TestSelectDropsBelowFloor(t *testing.T) {
	got := Select([]domain.Passage{passage("A", "x", 0.05)}, domain.IntentGeneral, SelectOptions{RelevanceFloor: 0.1})
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestCitation(t *testing.T) {
	tests := []struct {
		meta domain.SourceMeta
		want string
	}{
		{
			domain.SourceMeta{BookTitle: "LLM Engineers Handbook", Page: 42, SectionTitle: "Feature pipelines", Author: "Paul Iusztin"},
			"LLM Engineers Handbook | p.42 | § Feature pipelines | by Paul Iusztin",
		},
		{
			domain.SourceMeta{BookTitle: "Machine Learning Basics", Page: 3, ChapterTitle: "Intro", Author: "Unknown", ContentType: domain.ContentTypeTableOfContents},
			"Machine Learning Basics | TOC | Ch: Intro",
		},
		{domain.SourceMeta{}, "Unknown"},
	}
	for _, tt := range tests {
		if got := Citation(tt.meta); got != tt.want {
			t.Fatalf("Citation() = %q, want %q", got, tt.want)
		}
	}
}

func TestBuildResultContextAndStats(t *testing.T) {
	res := BuildResult([]domain.Passage{passage("B", "beta", 0.9), passage("A", "alpha", 0.8), passage("B", "gamma", 0.7)})
	want := "[Source 1 - B]\nbeta\n\n---\n\n[Source 2 - A]\nalpha\n\n---\n\n[Source 3 - B]\ngamma"
	if res.Context != want {
		t.Fatalf("Context = %q", res.Context)
	}
	if res.Stats.BooksSearched != 2 || !reflect.DeepEqual(res.Stats.Books, []string{"A", "B"}) {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
	if len(res.Sources) != 3 || res.Sources[0].Citation != "B" {
		t.Fatalf("unexpected sources %+v", res.Sources)
	}
}

func TestRunAllReportsStatusesInTaskOrder(t *testing.T) {
	tasks := []Task[int]{
		{Name: "ok", Run: func(context.Context) (int, error) { return 1, nil }},
		{Name: "failed", Run: func(context.Context) (int, error) { return 0, errors.New("boom") }},
		{Name: "slow", Run: func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}},
	}
	results := RunAll(context.Background(), tasks, FanoutOptions{TaskTimeout: 20 * time.Millisecond})

	want := []TaskStatus{TaskOK, TaskFailed, TaskTimedOut}
	for i, res := range results {
		if res.Name != tasks[i].Name || res.Status != want[i] {
			t.Fatalf("result %d = %s/%s, want %s/%s", i, res.Name, res.Status, tasks[i].Name, want[i])
		}
	}
	if results[0].Value != 1 {
		t.Fatalf("expected value 1, got %d", results[0].Value)
	}
}

func TestRunAllWaitTimeoutAbandonsStragglers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	tasks := []Task[int]{
		{Name: "stuck", Run: func(context.Context) (int, error) {
			<-release
			return 1, nil
		}},
	}

	start := time.Now()
	results := RunAll(context.Background(), tasks, FanoutOptions{WaitTimeout: 30 * time.Millisecond})
	if time.Since(start) > time.Second {
		t.Fatalf("RunAll did not honour the wait timeout")
	}
	if results[0].Status != TaskAbandoned {
		t.Fatalf("status = %s, want abandoned", results[0].Status)
	}
}

func TestRunAllWaitTimeoutKeepsFinishedTasks(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	tasks := []Task[int]{
		{Name: "book-a", Run: func(context.Context) (int, error) { return 1, nil }},
		{Name: "book-b", Run: func(context.Context) (int, error) { return 2, nil }},
		{Name: "stuck", Run: func(context.Context) (int, error) {
			<-release
			return 3, nil
		}},
	}

	results := RunAll(context.Background(), tasks, FanoutOptions{WaitTimeout: 50 * time.Millisecond})

	for i, want := range []int{1, 2} {
		if results[i].Status != TaskOK || results[i].Value != want {
			t.Fatalf("%s = %s value=%d, want ok value=%d", results[i].Name, results[i].Status, results[i].Value, want)
		}
	}
	if results[2].Status != TaskAbandoned {
		t.Fatalf("stuck = %s, want abandoned", results[2].Status)
	}
}

func TestRunAllRespectsLimit(t *testing.T) {
	running := make(chan struct{}, 10)
	tasks := make([]Task[int], 6)
	for i := range tasks {
		tasks[i] = Task[int]{Name: "t", Run: func(context.Context) (int, error) {
			running <- struct{}{}
			defer func() { <-running }()
			if n := len(running); n > 2 {
				return 0, errors.New("limit exceeded")
			}
			time.Sleep(5 * time.Millisecond)
			return 1, nil
		}}
	}

	for _, res := range RunAll(context.Background(), tasks, FanoutOptions{Limit: 2}) {
		if res.Status != TaskOK {
			t.Fatalf("task ran beyond the concurrency limit: %v", res.Err)
		}
	}
}
