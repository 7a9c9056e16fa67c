package validation

import (
	"regexp"
	"strings"

	"github.com/kirillkom/book-qa-assistant/internal/core/textproc"
)

const (
	minClaimChars  = 30
	minContentWord = 4
	stemLength     = 5
	chunkDelimiter = "---"
)

var (
	sentenceSplitRe = regexp.MustCompile(`[.!?]+\s+|\n+`)
	listMarkerRe    = regexp.MustCompile(`^(?:[-*•>]+|\d+[.)])\s*`)

	claimSkipPrefixes = []string{
		"I don't", "I do not", "I cannot", "I can't", "Based on", "According to", "I recommend",
		"Here are", "Here is", "You can", "For learning", "To learn", "The book", "This book",
		"In summary", "Note that", "Let me",
	}
)

// ExtractClaims returns the sentences of answer that assert something
// checkable. Short fragments and hedging or meta sentences are skipped.
func ExtractClaims(answer string) []string {
	parts := sentenceSplitRe.Split(answer, -1)
	claims := make([]string, 0, len(parts))
	for _, part := range parts {
		s := strings.TrimSpace(part)
		s = strings.TrimSpace(listMarkerRe.ReplaceAllString(s, ""))
		s = strings.ReplaceAll(s, "**", "")
		if len([]rune(s)) <= minClaimChars || hasSkipPrefix(s) {
			continue
		}
		claims = append(claims, s)
	}
	return claims
}

func hasSkipPrefix(s string) bool {
	s = strings.ReplaceAll(s, "’", "'")
	for _, prefix := range claimSkipPrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

type evidence struct {
	supported bool
	score     float64
}

// evidenceIndex holds the context-side sets, computed once per validation.
type evidenceIndex struct {
	words      map[string]struct{}
	terms      map[string]struct{}
	chunkStems []map[string]struct{}
}

func newEvidenceIndex(context string) *evidenceIndex {
	chunks := strings.Split(context, chunkDelimiter)
	idx := &evidenceIndex{
		words:      textproc.ContentWords(context, minContentWord),
		terms:      textproc.TermSet(context),
		chunkStems: make([]map[string]struct{}, 0, len(chunks)),
	}
	for _, chunk := range chunks {
		idx.chunkStems = append(idx.chunkStems, stems(chunk))
	}
	return idx
}

// find scores one claim. A direct word-overlap hit is cross-checked with
// technical terms and must clear 80% of the threshold; otherwise the best
// single chunk, compared on word stems, must clear the full threshold.
func (idx *evidenceIndex) find(claim string, threshold float64) evidence {
	claimWords := textproc.ContentWords(claim, minContentWord)
	if len(claimWords) == 0 {
		return evidence{supported: true, score: 1}
	}

	overlap := textproc.Overlap(claimWords, idx.words)
	if overlap >= threshold {
		score := overlap
		if terms := textproc.TermSet(claim); len(terms) > 0 {
			score = (overlap + textproc.Overlap(terms, idx.terms)) / 2
		}
		return evidence{supported: score >= threshold*0.8, score: score}
	}

	claimStems := stems(claim)
	best := 0.0
	for _, chunk := range idx.chunkStems {
		if o := textproc.Overlap(claimStems, chunk); o > best {
			best = o
		}
	}
	return evidence{supported: best >= threshold, score: max(overlap, best)}
}

func stems(text string) map[string]struct{} {
	words := textproc.ContentWords(text, minContentWord)
	out := make(map[string]struct{}, len(words))
	for w := range words {
		out[textproc.Prefix(w, stemLength)] = struct{}{}
	}
	return out
}
