package retrieval

import (
	"sort"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

const (
	defaultTOCBoost   = 2.0
	defaultPerBookCap = 2
)

type SelectOptions struct {
	TopK int
	// RelevanceFloor drops reranked passages scoring below it.
	RelevanceFloor float64
	// TOCBoost multiplies table-of-contents scores for structure questions.
	TOCBoost float64
	// PerBookCap limits passages per book when the intent spans books.
	PerBookCap int
}

func (o SelectOptions) withDefaults() SelectOptions {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.TOCBoost <= 0 {
		o.TOCBoost = defaultTOCBoost
	}
	if o.PerBookCap <= 0 {
		o.PerBookCap = defaultPerBookCap
	}
	return o
}

// Select turns reranked passages into the final ordered context set. The
// input slice is not modified.
func Select(reranked []domain.Passage, intent domain.Intent, opts SelectOptions) []domain.Passage {
	opts = opts.withDefaults()

	kept := make([]domain.Passage, 0, len(reranked))
	for _, p := range reranked {
		if p.Score < opts.RelevanceFloor {
			continue
		}
		if intent == domain.IntentStructure && p.Meta.IsTableOfContents() {
			p.Score *= opts.TOCBoost
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return nil
	}

	// Stable: equal scores keep discovery order.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})

	if intent.SpansBooks() {
		return capPerBook(kept, opts.TopK, opts.PerBookCap)
	}
	return trimPassages(kept, opts.TopK)
}

func capPerBook(sorted []domain.Passage, limit, perBook int) []domain.Passage {
	counts := make(map[string]int)
	out := make([]domain.Passage, 0, limit)
	for _, p := range sorted {
		if counts[p.Meta.BookTitle] >= perBook {
			continue
		}
		counts[p.Meta.BookTitle]++
		out = append(out, p)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func trimPassages(passages []domain.Passage, limit int) []domain.Passage {
	if limit <= 0 || len(passages) <= limit {
		return passages
	}
	return passages[:limit]
}
