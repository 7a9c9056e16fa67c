package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Query is one user question. It is immutable for the duration of a turn.
type Query struct {
	Raw        string `json:"raw"`
	Normalized string `json:"normalized"`
	WordCount  int    `json:"word_count"`
}

// NewQuery trims raw text and rejects empty input. Text longer than maxChars
// runes is truncated; maxChars <= 0 disables the cap.
func NewQuery(raw string, maxChars int) (Query, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Query{}, WrapError(ErrInvalidInput, "new query", fmt.Errorf("query is empty"))
	}
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		text = strings.TrimSpace(string([]rune(text)[:maxChars]))
	}

	words := strings.Fields(text)
	return Query{
		Raw:        text,
		Normalized: strings.ToLower(strings.Join(words, " ")),
		WordCount:  len(words),
	}, nil
}
