package domain

import "time"

type Book struct {
	Title     string   `json:"title" yaml:"title"`
	Author    string   `json:"author" yaml:"author"`
	Publisher string   `json:"publisher" yaml:"publisher"`
	Patterns  []string `json:"-" yaml:"patterns"`
}

type ValidationResult struct {
	Valid      bool     `json:"is_valid"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues"`
}

type CacheEntry struct {
	Query      string    `json:"query"`
	BookFilter string    `json:"book_filter"`
	Response   string    `json:"response"`
	Sources    []Source  `json:"sources"`
	Timestamp  time.Time `json:"timestamp"`
}

type AskRequest struct {
	Query   string  `json:"query"`
	History History `json:"history,omitempty"`
}

type Answer struct {
	Text       string            `json:"text"`
	Intent     Intent            `json:"intent"`
	BookScope  string            `json:"book_scope,omitempty"`
	ActiveBook string            `json:"active_book,omitempty"`
	Sources    []Source          `json:"sources"`
	Stats      RetrievalStats    `json:"stats"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Attempts   int               `json:"attempts"`
	Cached     bool              `json:"cached"`
	Refused    bool              `json:"refused"`
}
