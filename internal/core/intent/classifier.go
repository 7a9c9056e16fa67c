// Package intent decides what kind of search a question needs and which book,
// if any, it is about.
package intent

import (
	"strings"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/textproc"
)

const (
	defaultActiveBookWindow = 5
	defaultShortQueryWords  = 5
	defaultFollowupMaxWords = 10
)

// BookMatcher finds an explicit book reference in a question.
type BookMatcher interface {
	MatchBook(query string) (string, bool)
}

type Options struct {
	// ActiveBookWindow is how many trailing turns are searched for an
	// active book.
	ActiveBookWindow int
	// ShortQueryWords marks queries that count as follow-ups on length alone.
	ShortQueryWords int
	// FollowupMaxWords caps the length of pattern-matched follow-ups.
	FollowupMaxWords int
}

func (o Options) withDefaults() Options {
	if o.ActiveBookWindow <= 0 {
		o.ActiveBookWindow = defaultActiveBookWindow
	}
	if o.ShortQueryWords <= 0 {
		o.ShortQueryWords = defaultShortQueryWords
	}
	if o.FollowupMaxWords <= 0 {
		o.FollowupMaxWords = defaultFollowupMaxWords
	}
	return o
}

type Classifier struct {
	books BookMatcher
	opts  Options
	rules []rule
}

// signals is everything the decision table looks at, computed once per query.
type signals struct {
	text         string
	explicitBook string
	activeBook   string
	structure    bool
	followup     bool
}

type rule struct {
	name   string
	match  func(s signals) bool
	intent domain.Intent
	scope  func(s signals) string
}

func noScope(signals) string { return "" }

func NewClassifier(books BookMatcher, opts Options) *Classifier {
	c := &Classifier{books: books, opts: opts.withDefaults()}
	c.rules = decisionTable()
	return c
}

// decisionTable is evaluated in order; the first matching rule wins.
func decisionTable() []rule {
	return []rule{
		{
			name:   "meta",
			match:  func(s signals) bool { return matchAny(metaPatterns, s.text) },
			intent: domain.IntentMeta,
			scope:  noScope,
		},
		{
			name:   "list_books",
			match:  func(s signals) bool { return matchAny(listBooksPatterns, s.text) },
			intent: domain.IntentListBooks,
			scope:  noScope,
		},
		{
			name:   "explicit_book_structure",
			match:  func(s signals) bool { return s.explicitBook != "" && s.structure },
			intent: domain.IntentStructure,
			scope:  func(s signals) string { return s.explicitBook },
		},
		{
			name:   "explicit_book",
			match:  func(s signals) bool { return s.explicitBook != "" },
			intent: domain.IntentSpecificBook,
			scope:  func(s signals) string { return s.explicitBook },
		},
		{
			name:   "cross_book",
			match:  func(s signals) bool { return matchAny(crossBookPatterns, s.text) },
			intent: domain.IntentCrossBook,
			scope:  noScope,
		},
		{
			name:   "comparison",
			match:  func(s signals) bool { return matchAny(comparisonPatterns, s.text) },
			intent: domain.IntentComparison,
			scope:  noScope,
		},
		{
			name:   "active_book_structure",
			match:  func(s signals) bool { return s.activeBook != "" && s.structure },
			intent: domain.IntentStructure,
			scope:  func(s signals) string { return s.activeBook },
		},
		{
			name:   "active_book_followup",
			match:  func(s signals) bool { return s.activeBook != "" && s.followup },
			intent: domain.IntentFollowup,
			scope:  func(s signals) string { return s.activeBook },
		},
		{
			name:   "structure",
			match:  func(s signals) bool { return s.structure },
			intent: domain.IntentStructure,
			scope:  noScope,
		},
		{
			name:   "followup",
			match:  func(s signals) bool { return s.followup },
			intent: domain.IntentFollowup,
			scope:  func(s signals) string { return s.activeBook },
		},
	}
}

// Classify is a pure function of the query and history.
func (c *Classifier) Classify(query string, history domain.History) domain.Classification {
	cls, _ := c.Explain(query, history)
	return cls
}

// Explain classifies the query and also reports which rule decided it.
func (c *Classifier) Explain(query string, history domain.History) (domain.Classification, string) {
	s := c.collect(query, history)
	for _, r := range c.rules {
		if r.match(s) {
			return domain.NewClassification(r.intent, r.scope(s)), r.name
		}
	}
	return domain.NewClassification(domain.IntentGeneral, ""), "general"
}

func (c *Classifier) collect(query string, history domain.History) signals {
	text := textproc.Normalize(query)
	s := signals{
		text:       text,
		activeBook: ActiveBook(history, c.opts.ActiveBookWindow),
		structure:  matchAny(structurePatterns, text),
		followup:   c.IsFollowup(query, history),
	}
	if c.books != nil {
		if title, ok := c.books.MatchBook(text); ok {
			s.explicitBook = title
		}
	}
	return s
}

// IsFollowup reports whether the query leans on the previous turn: either it
// is short, or it carries continuation phrasing and stays reasonably short.
func (c *Classifier) IsFollowup(query string, history domain.History) bool {
	if history.Len() == 0 {
		return false
	}
	text := textproc.Normalize(query)
	words := len(strings.Fields(text))
	if words <= c.opts.ShortQueryWords {
		return true
	}
	return words <= c.opts.FollowupMaxWords && matchAny(followupPatterns, text)
}
