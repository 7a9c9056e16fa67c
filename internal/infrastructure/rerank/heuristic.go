package rerank

import (
	"context"
	"strings"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/textproc"
)

// Heuristic blends the similarity prior with query token overlap and a
// title hit. It needs no external service.
type Heuristic struct{}

func NewHeuristic() Heuristic {
	return Heuristic{}
}

func (Heuristic) Rerank(_ context.Context, query string, passages []domain.Passage) ([]domain.Passage, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	out := make([]domain.Passage, len(passages))
	copy(out, passages)
	queryTokens := tokenSet(query)

	minScore, maxScore := out[0].Score, out[0].Score
	for _, p := range out[1:] {
		if p.Score < minScore {
			minScore = p.Score
		}
		if p.Score > maxScore {
			maxScore = p.Score
		}
	}
	rangeScore := maxScore - minScore
	normalize := func(v float64) float64 {
		if rangeScore <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / rangeScore
	}

	for i := range out {
		prior := normalize(out[i].Score)
		overlap := tokenOverlap(queryTokens, tokenSet(out[i].Text))
		title := titleTokenHit(queryTokens, out[i].Meta.BookTitle)
		out[i].Score = 0.60*prior + 0.30*overlap + 0.10*title
	}
	return out, nil
}

func tokenSet(s string) map[string]struct{} {
	tokens := textproc.Tokens(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func tokenOverlap(query, text map[string]struct{}) float64 {
	if len(query) == 0 || len(text) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := text[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

// titleTokenHit ignores tokens shorter than four characters so that words
// like "the" or "and" do not count as a title mention.
func titleTokenHit(query map[string]struct{}, title string) float64 {
	if len(query) == 0 || title == "" {
		return 0
	}
	title = strings.ToLower(title)
	for token := range query {
		if len(token) < 4 {
			continue
		}
		if strings.Contains(title, token) {
			return 1
		}
	}
	return 0
}
