package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

const (
	contextSeparator = "\n\n---\n\n"
	unknownBook      = "Unknown"
)

// Citation renders a short human-readable pointer into a book, e.g.
// "LLM Engineers Handbook | p.42 | § Feature pipelines | by Paul Iusztin".
func Citation(meta domain.SourceMeta) string {
	book := meta.BookTitle
	if book == "" {
		book = unknownBook
	}
	parts := []string{book}

	switch {
	case meta.IsTableOfContents():
		parts = append(parts, "TOC")
	case meta.Page > 0:
		parts = append(parts, fmt.Sprintf("p.%d", meta.Page))
	}

	switch {
	case meta.SectionTitle != "":
		parts = append(parts, "§ "+meta.SectionTitle)
	case meta.ChapterTitle != "":
		parts = append(parts, "Ch: "+meta.ChapterTitle)
	}

	if author := strings.TrimSpace(meta.Author); author != "" && !strings.EqualFold(author, unknownBook) {
		parts = append(parts, "by "+author)
	}
	return strings.Join(parts, " | ")
}

// BuildResult renders the selected passages into generator context,
// citations and statistics.
func BuildResult(selected []domain.Passage) domain.RetrievalResult {
	if len(selected) == 0 {
		return emptyResult()
	}

	blocks := make([]string, 0, len(selected))
	sources := make([]domain.Source, 0, len(selected))

	for i, p := range selected {
		book := p.Meta.BookTitle
		if book == "" {
			book = unknownBook
		}
		blocks = append(blocks, fmt.Sprintf("[Source %d - %s]\n%s", i+1, book, p.Text))
		sources = append(sources, domain.Source{
			Citation: Citation(p.Meta),
			Score:    p.Score,
			Meta:     p.Meta,
		})
	}

	return domain.RetrievalResult{
		Context:  strings.Join(blocks, contextSeparator),
		Passages: selected,
		Sources:  sources,
		Stats:    StatsFor(sources),
	}
}

// StatsFor lists the distinct books behind sources, sorted.
func StatsFor(sources []domain.Source) domain.RetrievalStats {
	seen := make(map[string]struct{}, len(sources))
	titles := make([]string, 0, len(sources))
	for _, src := range sources {
		book := src.Meta.BookTitle
		if book == "" {
			book = unknownBook
		}
		if _, ok := seen[book]; ok {
			continue
		}
		seen[book] = struct{}{}
		titles = append(titles, book)
	}
	sort.Strings(titles)
	return domain.RetrievalStats{BooksSearched: len(titles), Books: titles}
}

func emptyResult() domain.RetrievalResult {
	return domain.RetrievalResult{
		Passages: []domain.Passage{},
		Sources:  []domain.Source{},
		Stats:    domain.RetrievalStats{Books: []string{}},
	}
}
