package intent

import (
	"strings"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/textproc"
)

const maxExpansionTerms = 8

// ActiveBook returns the most recent non-empty active book within the last
// window turns.
func ActiveBook(history domain.History, window int) string {
	if window <= 0 {
		window = defaultActiveBookWindow
	}
	recent := history.Recent(window)
	for i := len(recent) - 1; i >= 0; i-- {
		if book := strings.TrimSpace(recent[i].ActiveBook); book != "" {
			return book
		}
	}
	return ""
}

// ExpandQuery builds the search string used for retrieval. Vague follow-up
// questions borrow technical terms from the previous turn; when none exist
// the previous question is prepended instead. Specific questions pass
// through unchanged.
func (c *Classifier) ExpandQuery(query string, history domain.History) string {
	query = strings.TrimSpace(query)
	prev, ok := history.Last()
	if !ok || !c.isVague(query) {
		return query
	}

	terms := expansionTerms(prev.UserText+"\n"+prev.AssistantText, query)
	if len(terms) > 0 {
		return query + " " + strings.Join(terms, " ")
	}
	if prevQuestion := strings.TrimSpace(prev.UserText); prevQuestion != "" {
		return prevQuestion + " " + query
	}
	return query
}

func (c *Classifier) isVague(query string) bool {
	text := textproc.Normalize(query)
	if len(strings.Fields(text)) <= c.opts.ShortQueryWords {
		return true
	}
	return matchAny(vaguePatterns, text)
}

// expansionTerms mines acronyms, CamelCase names and domain vocabulary from
// source, skipping anything the query already mentions.
func expansionTerms(source, query string) []string {
	lowerQuery := strings.ToLower(query)
	seen := make(map[string]struct{})
	out := make([]string, 0, maxExpansionTerms)

	add := func(term string) {
		key := strings.ToLower(term)
		if _, dup := seen[key]; dup || strings.Contains(lowerQuery, key) {
			return
		}
		seen[key] = struct{}{}
		out = append(out, term)
	}

	for _, term := range textproc.TechnicalTerms(source) {
		add(term)
	}
	for _, term := range textproc.VocabularyHits(source) {
		add(term)
	}
	if len(out) > maxExpansionTerms {
		out = out[:maxExpansionTerms]
	}
	return out
}
