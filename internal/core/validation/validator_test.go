package validation

import (
	"strings"
	"testing"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

type titlesFake []string

func (t titlesFake) Titles() []string { return t }

var catalogTitles = titlesFake{
	"AI Engineering: Building Applications with Foundation Models",
	"Build a Large Language Model From Scratch",
	"LLM Engineers Handbook",
	"LL Books Collection",
	"Machine Learning Basics",
}

const attentionContext = `[Source 1 - Build a Large Language Model From Scratch]
Self-attention lets every token in the input sequence attend to every other token.
The attention weights are computed from queries, keys and values using scaled dot products.

---

[Source 2 - Build a Large Language Model From Scratch]
Multi-head attention runs several attention mechanisms in parallel and concatenates their outputs.`

func newTestValidator() *Validator {
	return New(catalogTitles, Options{})
}

func countIssues(issues []string, prefix string) int {
	n := 0
	for _, issue := range issues {
		if strings.HasPrefix(issue, prefix) {
			n++
		}
	}
	return n
}

func TestValidateRefusalIsAlwaysValid(t *testing.T) {
	v := newTestValidator()
	refusal := "I don't have information about that in these books."
	for _, ctx := range []string{"", attentionContext, "unrelated text about cooking"} {
		got := v.Validate(refusal, ctx, "what is attention?", nil)
		if !got.Valid || got.Confidence != 1.0 || len(got.Issues) != 0 {
			t.Fatalf("Validate(refusal, %q) = %+v", ctx, got)
		}
	}
}

func TestValidateShortCircuits(t *testing.T) {
	v := newTestValidator()
	tests := []struct {
		name, answer, context, query string
	}{
		{"empty answer", "", attentionContext, "q"},
		{"empty context", "Transformers were invented by aliens on a distant planet long ago.", "", "q"},
		{"recommendation", "You should definitely read all of them because they are wonderful books.", attentionContext, "Which book should I read first?"},
		{"no claims", "Yes. Indeed.", attentionContext, "q"},
	}
	for _, tt := range tests {
		got := v.Validate(tt.answer, tt.context, tt.query, nil)
		if !got.Valid || got.Confidence != 1.0 {
			t.Fatalf("%s: got %+v", tt.name, got)
		}
	}
}

func TestValidateExpectContextFailsHard(t *testing.T) {
	v := New(catalogTitles, Options{ExpectContext: true})
	got := v.Validate("Attention weights are computed from queries and keys.", "", "q", nil)
	if got.Valid || got.Confidence != 0 || len(got.Issues) != 1 {
		t.Fatalf("expected hard failure, got %+v", got)
	}
}

func TestValidateSupportedAnswer(t *testing.T) {
	v := newTestValidator()
	answer := "Self-attention lets every token in the input sequence attend to every other token. " +
		"Multi-head attention runs several attention mechanisms in parallel and concatenates their outputs."
	got := v.Validate(answer, attentionContext, "What is self-attention?", nil)
	if !got.Valid {
		t.Fatalf("expected valid, got %+v", got)
	}
	if got.Confidence < 0.9 {
		t.Fatalf("expected high confidence, got %v", got.Confidence)
	}
}

func TestValidateUnsupportedAnswerIsInvalid(t *testing.T) {
	v := newTestValidator()
	answer := "Gradient boosting machines combine shallow decision trees sequentially. " +
		"Random forests average predictions from bootstrapped ensembles of estimators. " +
		"Support vector machines maximise margins between separating hyperplanes."
	got := v.Validate(answer, attentionContext, "How do ensembles work?", nil)
	if got.Valid {
		t.Fatalf("expected invalid, got %+v", got)
	}
	if got.Confidence >= 0.4 {
		t.Fatalf("expected low confidence, got %v", got.Confidence)
	}
	if len(got.Issues) > 3 {
		t.Fatalf("issues must be capped at 3, got %d", len(got.Issues))
	}
}

func TestValidateUnknownNameRaisesExactlyOneIssue(t *testing.T) {
	v := newTestValidator()
	answer := "Geoffrey Hinton explained that self-attention lets every token attend to every other token in the sequence."
	got := v.Validate(answer, attentionContext, "what is self-attention", nil)
	if n := countIssues(got.Issues, "Name '"); n != 1 {
		t.Fatalf("expected exactly one name issue, got %d: %v", n, got.Issues)
	}
	if !containsIssue(got.Issues, "Name 'Geoffrey Hinton' not found in context") {
		t.Fatalf("unexpected issues %v", got.Issues)
	}
}

func TestCheckNamesHonoursQueryAndStoplist(t *testing.T) {
	if issues := checkNames("Geoffrey Hinton said so. The Book agrees.", "context", "what did geoffrey hinton say"); len(issues) != 0 {
		t.Fatalf("names from the query are allowed, got %v", issues)
	}
	if issues := checkNames("For Example this works. In This case too.", "context", "q"); len(issues) != 0 {
		t.Fatalf("stoplisted pairs must be ignored, got %v", issues)
	}
	issues := checkNames("Alan Turing, Ada Lovelace and Grace Hopper met.", "context", "q")
	if len(issues) != 2 {
		t.Fatalf("name issues must be capped at 2, got %v", issues)
	}
}

func TestCheckNumbers(t *testing.T) {
	toc := "Chapter 1 Understanding LLMs\nChapter 2 Working with text\nChapter 7 Fine-tuning"
	if issues := checkNumbers("The book has seven chapters.", toc); len(issues) != 0 {
		t.Fatalf("spelled-out count matching the TOC should pass, got %v", issues)
	}
	if issues := checkNumbers("The book has 9 chapters.", toc); len(issues) != 1 || !strings.Contains(issues[0], "context shows 7") {
		t.Fatalf("expected mismatch issue, got %v", issues)
	}
	if issues := checkNumbers("It is split into 3 parts.", "no numbers here"); len(issues) != 1 || issues[0] != "Mentioned 3 parts without source" {
		t.Fatalf("expected unsourced issue, got %v", issues)
	}
}

func TestCheckAttribution(t *testing.T) {
	ctx := "Chip Huyen is an author and engineer who worked on machine learning systems."
	if issues := checkAttribution("Chip Huyen is a Vietnamese author.", ctx, "Who is Chip Huyen?"); len(issues) != 1 || !strings.Contains(issues[0], "Vietnamese") {
		t.Fatalf("expected nationality issue, got %v", issues)
	}
	if issues := checkAttribution("Sebastian Raschka is an author.", ctx, "Who is Chip Huyen?"); len(issues) != 1 || !strings.Contains(issues[0], "question is about 'Chip Huyen'") {
		t.Fatalf("expected subject mismatch, got %v", issues)
	}
	if issues := checkAttribution("Chip Huyen is an engineer.", ctx, "Who is Chip Huyen?"); len(issues) != 0 {
		t.Fatalf("supported attribution flagged: %v", issues)
	}
}

func TestCheckTitles(t *testing.T) {
	v := newTestValidator()
	if issues := v.checkTitles(`As explained in "Build a Large Language Model from Scratch", tokens matter.`); len(issues) != 0 {
		t.Fatalf("near-exact title flagged: %v", issues)
	}
	if issues := v.checkTitles(`See **LLM Engineers Handbook** for details.`); len(issues) != 0 {
		t.Fatalf("bold catalog title flagged: %v", issues)
	}
	issues := v.checkTitles(`Read "Pattern Recognition" next.`)
	if len(issues) != 1 || issues[0] != "Book title 'Pattern Recognition' is not in the collection" {
		t.Fatalf("expected fabricated title issue, got %v", issues)
	}
	if issues := v.checkTitles(`He said "this is fine" loudly.`); len(issues) != 0 {
		t.Fatalf("lower-case quotes are not titles: %v", issues)
	}
}

func TestCheckContinuity(t *testing.T) {
	v := newTestValidator()
	history := domain.History{{UserText: "What is RAG?", AssistantText: "RAG combines an LLM with a retriever over a VectorStore."}}
	if issues := v.checkContinuity("Docker and Kubernetes orchestrate CI pipelines.", "and then?", history); len(issues) != 1 {
		t.Fatalf("expected drift issue, got %v", issues)
	}
	if issues := v.checkContinuity("RAG reduces LLM hallucinations.", "and then?", history); len(issues) != 0 {
		t.Fatalf("on-topic answer flagged: %v", issues)
	}
	if issues := v.checkContinuity("Docker and Kubernetes orchestrate CI pipelines.", "how do container platforms schedule workloads at scale", history); len(issues) != 0 {
		t.Fatalf("long queries are not continuity-checked: %v", issues)
	}
}

func TestCheckSpeculation(t *testing.T) {
	issues := checkSpeculation("It probably works. I think it might. Perhaps.")
	if len(issues) != 2 || issues[0] != "Speculative language: 'probably'" {
		t.Fatalf("unexpected issues %v", issues)
	}
}

func TestExtractClaims(t *testing.T) {
	answer := "Based on the context, attention is useful for many things. " +
		"Short one. " +
		"Attention weights come from scaled dot products of queries and keys!\n" +
		"- **Multi-head attention** runs several heads in parallel over the sequence."
	got := ExtractClaims(answer)
	want := []string{
		"Attention weights come from scaled dot products of queries and keys",
		"Multi-head attention runs several heads in parallel over the sequence.",
	}
	if len(got) != len(want) {
		t.Fatalf("ExtractClaims() = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("claim %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestContextRelevance(t *testing.T) {
	if got := ContextRelevance("attention weights", attentionContext, false); got != 1 {
		t.Fatalf("ContextRelevance() = %v, want 1", got)
	}
	if got := ContextRelevance("what is attention", attentionContext, false); got != 0.5 {
		t.Fatalf("ContextRelevance() = %v, want 0.5", got)
	}
	if got := ContextRelevance("is it so", attentionContext, false); got != 1 {
		t.Fatalf("queries without content words score 1, got %v", got)
	}
	if got := ContextRelevance("explain quantum chromodynamics", attentionContext, false); got != 0 {
		t.Fatalf("ContextRelevance() = %v, want 0", got)
	}
	if got := ContextRelevance("explain quantum chromodynamics", attentionContext, true); got != 0.5 {
		t.Fatalf("followups have a 0.5 floor, got %v", got)
	}
	if got := ContextRelevance("anything", "", true); got != 0 {
		t.Fatalf("empty context must score 0, got %v", got)
	}
}

func TestCorrectionPrompt(t *testing.T) {
	ctx := strings.Repeat("x", 3000)
	prompt := CorrectionPrompt([]string{"a", "b", "c", "d"}, ctx)
	if strings.Contains(prompt, "- d") {
		t.Fatalf("only 3 issues may be listed")
	}
	if !strings.Contains(prompt, "- a\n- b\n- c") {
		t.Fatalf("issues missing from prompt: %q", prompt[:80])
	}
	_, rest, ok := strings.Cut(prompt, "Context:\n")
	excerpt, _, found := strings.Cut(rest, "\n\nCorrected answer:")
	if !ok || !found {
		t.Fatalf("context section missing from prompt")
	}
	if excerpt != strings.Repeat("x", 2500) {
		t.Fatalf("context excerpt must be capped at 2500 chars, got %d", len(excerpt))
	}
}

func TestSimilarity(t *testing.T) {
	if got := similarity("abc", "abc"); got != 1 {
		t.Fatalf("similarity(equal) = %v", got)
	}
	if got := similarity("abc", "xyz"); got != 0 {
		t.Fatalf("similarity(disjoint) = %v", got)
	}
}

func containsIssue(issues []string, want string) bool {
	for _, issue := range issues {
		if issue == want {
			return true
		}
	}
	return false
}
