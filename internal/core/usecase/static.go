package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

const (
	noInformationReply = "I don't have information about that in these books."
	unreliableReply    = "I don't have reliable information about that in these books."
	errorReply         = "Sorry, I encountered an error processing your question. Please try again."
)

func bookListReply(books []domain.Book) string {
	lines := make([]string, 0, len(books)+2)
	lines = append(lines, "Here are the books available in my knowledge base:\n")
	for i, book := range books {
		lines = append(lines, fmt.Sprintf("%d. **%s** by %s (%s)", i+1, book.Title, book.Author, book.Publisher))
	}
	lines = append(lines, "\nYou can ask me questions about any of these books.")
	return strings.Join(lines, "\n")
}

func metaReply(books []domain.Book) string {
	titles := make([]string, 0, len(books))
	for _, book := range books {
		titles = append(titles, "- "+book.Title)
	}

	return fmt.Sprintf(`I'm a document Q&A assistant specialized in answering questions about the following books:

%s

I can help you with:
- Questions about content, concepts, and techniques from these books
- Comparing information across different books
- Finding specific chapters or sections
- Explaining topics covered in these books

Ask me anything about these books and I'll answer based on their content.`, strings.Join(titles, "\n"))
}

func staticReply(intent domain.Intent, books []domain.Book) string {
	if intent == domain.IntentListBooks {
		return bookListReply(books)
	}
	return metaReply(books)
}
