package ports

import (
	"context"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for the book Q&A pipeline.
type QuestionAnswerer interface {
	Answer(ctx context.Context, req domain.AskRequest) (*domain.Answer, error)
	AnswerStream(ctx context.Context, req domain.AskRequest, onDelta func(string) error) (*domain.Answer, error)
	Classify(query string, history domain.History) domain.Classification
	Books() []domain.Book
}

// CacheAdmin is the inbound contract for cache maintenance.
type CacheAdmin interface {
	ClearCache(ctx context.Context) error
}
