package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

func TestSystemPromptByIntent(t *testing.T) {
	tests := []struct {
		intent domain.Intent
		focus  string
		want   string
		absent string
	}{
		{domain.IntentStructure, "AI Engineering", "ONLY list chapters/sections EXACTLY as shown in TOC", "Focus ONLY"},
		{domain.IntentSpecificBook, "AI Engineering", "Focus ONLY on: AI Engineering. Ignore other books.", "CRITICAL"},
		{domain.IntentFollowup, "LLM Engineers Handbook", "Focus ONLY on: LLM Engineers Handbook.", "CRITICAL"},
		{domain.IntentCrossBook, "", "Synthesize from ALL books. Cite each book.", "Focus ONLY"},
		{domain.IntentSpecificBook, "", "Always cite the book title", "Focus ONLY"},
	}
	for _, tt := range tests {
		got := systemPrompt(tt.intent, tt.focus)
		if !strings.HasPrefix(got, "You are a helpful assistant") {
			t.Fatalf("%s: base prompt missing", tt.intent)
		}
		if !strings.Contains(got, tt.want) {
			t.Fatalf("%s: expected %q in %q", tt.intent, tt.want, got)
		}
		if strings.Contains(got, tt.absent) {
			t.Fatalf("%s: unexpected %q in prompt", tt.intent, tt.absent)
		}
	}
}

func TestBuildMessagesReplaysRecentHistory(t *testing.T) {
	h := newHarness(AnswerConfig{})
	long := strings.Repeat("a", 1000)
	history := domain.History{
		{UserText: "oldest", AssistantText: "dropped"},
		{UserText: "second", AssistantText: long},
		{UserText: "latest", AssistantText: "latest answer"},
	}
	messages := h.uc.buildMessages(promptInput{
		query:   "and then?",
		cls:     domain.Classification{Intent: domain.IntentFollowup, BookScope: "AI Engineering"},
		result:  attentionResult(),
		history: history,
	})

	if len(messages) != 6 {
		t.Fatalf("expected system + 2 turns + question, got %d", len(messages))
	}
	if messages[0].Role != domain.RoleSystem || !strings.Contains(messages[0].Content, "Focus ONLY on: AI Engineering") {
		t.Fatalf("unexpected system message %+v", messages[0])
	}
	if messages[1].Content != "second" || len(messages[2].Content) != 800 {
		t.Fatalf("expected second turn with an 800-char assistant excerpt, got %q / %d", messages[1].Content, len(messages[2].Content))
	}
	if messages[3].Content != "latest" || messages[4].Content != "latest answer" {
		t.Fatalf("unexpected last turn %+v %+v", messages[3], messages[4])
	}

	question := messages[5].Content
	for _, want := range []string{
		"=== SOURCE BOOKS",
		"- AI Engineering by Chip Huyen (O'Reilly)",
		"Previous discussion:\nUser asked: latest\nAssistant answered: latest answer...",
		"CONTEXT FROM BOOKS:\n[Source 1 - AI Engineering]",
		"Question: and then?",
		"6. Cite book title (from SOURCE BOOKS) and page/chapter for all claims",
	} {
		if !strings.Contains(question, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, question)
		}
	}
}

func TestUserPromptWithoutContext(t *testing.T) {
	h := newHarness(AnswerConfig{})
	got := h.uc.userPrompt(promptInput{query: "what is x?"})
	if got != "Question: what is x?\n\nNo relevant context found. Respond: '"+noInformationReply+"'" {
		t.Fatalf("unexpected prompt %q", got)
	}
}

func TestSourceBooksSkipsUnknownAndDuplicates(t *testing.T) {
	h := newHarness(AnswerConfig{})
	got := h.uc.sourceBooks([]domain.Source{
		{Meta: domain.SourceMeta{BookTitle: "LLM Engineers Handbook"}},
		{Meta: domain.SourceMeta{BookTitle: "Unknown Book"}},
		{Meta: domain.SourceMeta{BookTitle: "LLM Engineers Handbook"}},
	})
	if len(got) != 1 || got[0] != "LLM Engineers Handbook by Paul Iusztin, Maxime Labonne (Packt)" {
		t.Fatalf("unexpected source books %q", got)
	}
}
