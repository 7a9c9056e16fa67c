package domain

type ContentType string

const (
	ContentTypeContent         ContentType = "content"
	ContentTypeTableOfContents ContentType = "table_of_contents"
)

type SourceMeta struct {
	BookTitle    string      `json:"book_title"`
	Author       string      `json:"author,omitempty"`
	Page         int         `json:"page,omitempty"`
	Chapter      string      `json:"chapter,omitempty"`
	ChapterTitle string      `json:"chapter_title,omitempty"`
	SectionTitle string      `json:"section_title,omitempty"`
	ContentType  ContentType `json:"content_type,omitempty"`
}

func (m SourceMeta) IsTableOfContents() bool {
	return m.ContentType == ContentTypeTableOfContents
}

type Passage struct {
	Text  string     `json:"text"`
	Meta  SourceMeta `json:"meta"`
	Score float64    `json:"score"`
}

type PassageFilter struct {
	BookTitle   string
	ContentType ContentType
}

type Source struct {
	Citation string     `json:"source"`
	Score    float64    `json:"score"`
	Meta     SourceMeta `json:"metadata"`
}

type RetrievalStats struct {
	BooksSearched int      `json:"books_searched"`
	Books         []string `json:"books"`
}

type RetrievalResult struct {
	Context  string         `json:"context"`
	Passages []Passage      `json:"passages"`
	Sources  []Source       `json:"sources"`
	Stats    RetrievalStats `json:"stats"`
}

func (r RetrievalResult) Empty() bool {
	return len(r.Passages) == 0
}

// SingleBook returns the book title when every source comes from the same book.
func (r RetrievalResult) SingleBook() (string, bool) {
	title := ""
	for _, src := range r.Sources {
		if src.Meta.BookTitle == "" {
			continue
		}
		if title == "" {
			title = src.Meta.BookTitle
			continue
		}
		if title != src.Meta.BookTitle {
			return "", false
		}
	}
	return title, title != ""
}
