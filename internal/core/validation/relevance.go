package validation

import (
	"fmt"
	"strings"

	"github.com/kirillkom/book-qa-assistant/internal/core/textproc"
)

const (
	relevanceMinWordLen  = 4
	followupRelevance    = 0.5
	correctionIssueLimit = 3
	correctionContextCap = 2500
)

// ContextRelevance is the share of the question's content words found in
// the retrieved context. Follow-ups lean on the conversation rather than on
// their own wording, so they never score below 0.5.
func ContextRelevance(query, context string, followup bool) float64 {
	if strings.TrimSpace(context) == "" {
		return 0
	}
	queryWords := textproc.ContentWords(query, relevanceMinWordLen)
	score := 1.0
	if len(queryWords) > 0 {
		score = textproc.Overlap(queryWords, textproc.ContentWords(context, relevanceMinWordLen))
	}
	if followup && score < followupRelevance {
		score = followupRelevance
	}
	return score
}

// CorrectionPrompt asks the generator to rewrite a rejected answer using
// only the supplied context.
func CorrectionPrompt(issues []string, context string) string {
	if len(issues) > correctionIssueLimit {
		issues = issues[:correctionIssueLimit]
	}
	lines := make([]string, 0, len(issues))
	for _, issue := range issues {
		lines = append(lines, "- "+issue)
	}

	return fmt.Sprintf(`Previous answer had issues:
%s

Rewrite using ONLY the context. Say "I don't have that information" if unsure.

Context:
%s

Corrected answer:`, strings.Join(lines, "\n"), textproc.Prefix(context, correctionContextCap))
}
