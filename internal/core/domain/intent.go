package domain

type Intent string

const (
	IntentSpecificBook Intent = "specific_book"
	IntentCrossBook    Intent = "cross_book"
	IntentComparison   Intent = "comparison"
	IntentStructure    Intent = "structure"
	IntentFollowup     Intent = "followup"
	IntentListBooks    Intent = "list_books"
	IntentMeta         Intent = "meta"
	IntentGeneral      Intent = "general"
)

// AllowsScope reports whether a classification with this intent may carry a
// book scope.
func (i Intent) AllowsScope() bool {
	switch i {
	case IntentSpecificBook, IntentStructure, IntentFollowup:
		return true
	default:
		return false
	}
}

// SpansBooks reports whether retrieval fans out over every book.
func (i Intent) SpansBooks() bool {
	return i == IntentCrossBook || i == IntentComparison
}

// Static reports whether the intent is answered without retrieval.
func (i Intent) Static() bool {
	return i == IntentListBooks || i == IntentMeta
}

type Classification struct {
	Intent    Intent `json:"intent"`
	BookScope string `json:"book_scope,omitempty"`
}

// NewClassification drops the scope for intents that cannot carry one.
func NewClassification(intent Intent, scope string) Classification {
	if !intent.AllowsScope() {
		scope = ""
	}
	return Classification{Intent: intent, BookScope: scope}
}
