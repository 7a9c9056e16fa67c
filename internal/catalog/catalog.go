// Package catalog holds the fixed set of books the assistant answers from,
// together with the title and author patterns used to spot explicit book
// references in questions.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

//go:embed books.yaml
var defaultCatalog []byte

type catalogFile struct {
	Books []domain.Book `yaml:"books"`
}

type entry struct {
	book     domain.Book
	patterns []*regexp.Regexp
}

type snapshot struct {
	entries []entry
}

type Catalog struct {
	current atomic.Pointer[snapshot]
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded books.yaml is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from path. An empty path or a missing file yields the
// embedded default.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	snap, err := compile(data)
	if err != nil {
		return nil, err
	}
	c := &Catalog{}
	c.current.Store(snap)
	return c, nil
}

// Reload swaps in a new catalog. On error the previous one stays active.
func (c *Catalog) Reload(data []byte) error {
	snap, err := compile(data)
	if err != nil {
		return err
	}
	c.current.Store(snap)
	return nil
}

func compile(data []byte) (*snapshot, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	if len(file.Books) == 0 {
		return nil, fmt.Errorf("catalog has no books")
	}

	snap := &snapshot{entries: make([]entry, 0, len(file.Books))}
	seen := make(map[string]struct{}, len(file.Books))
	for _, book := range file.Books {
		book.Title = strings.TrimSpace(book.Title)
		if book.Title == "" {
			return nil, fmt.Errorf("catalog entry without title")
		}
		if _, dup := seen[book.Title]; dup {
			return nil, fmt.Errorf("duplicate catalog title %q", book.Title)
		}
		seen[book.Title] = struct{}{}

		patterns := make([]*regexp.Regexp, 0, len(book.Patterns)+1)
		patterns = append(patterns, regexp.MustCompile(regexp.QuoteMeta(strings.ToLower(book.Title))))
		for _, raw := range book.Patterns {
			re, err := regexp.Compile(strings.ToLower(raw))
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q for %q: %w", raw, book.Title, err)
			}
			patterns = append(patterns, re)
		}
		snap.entries = append(snap.entries, entry{book: book, patterns: patterns})
	}
	return snap, nil
}

// MatchBook returns the first book, in catalog order, whose title or
// author pattern occurs in the query.
func (c *Catalog) MatchBook(query string) (string, bool) {
	lower := strings.ToLower(query)
	for _, e := range c.current.Load().entries {
		for _, re := range e.patterns {
			if re.MatchString(lower) {
				return e.book.Title, true
			}
		}
	}
	return "", false
}

func (c *Catalog) Books() []domain.Book {
	entries := c.current.Load().entries
	out := make([]domain.Book, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.book)
	}
	return out
}

func (c *Catalog) Titles() []string {
	entries := c.current.Load().entries
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.book.Title)
	}
	return out
}

func (c *Catalog) Lookup(title string) (domain.Book, bool) {
	for _, e := range c.current.Load().entries {
		if e.book.Title == title {
			return e.book, true
		}
	}
	return domain.Book{}, false
}
