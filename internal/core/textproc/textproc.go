// Package textproc holds the small text heuristics shared by the classifier,
// retriever and validator: tokenizing, content-word sets and technical-term
// extraction.
package textproc

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	contentWordRe = regexp.MustCompile(`\b\w+\b`)
	acronymRe     = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,}s?\b`)
	camelCaseRe   = regexp.MustCompile(`\b[A-Z]?[a-z]+[A-Z][A-Za-z0-9]*\b`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// DomainVocabulary is matched case-insensitively when mining technical
// terms from free text.
var DomainVocabulary = []string{
	"attention", "transformer", "embedding", "embeddings", "tokenizer", "tokenization",
	"fine-tuning", "finetuning", "pretraining", "pre-training", "inference", "retrieval",
	"rag", "prompt engineering", "prompt", "evaluation", "hallucination", "quantization",
	"vector database", "agent", "agents", "gradient", "backpropagation", "neural network",
	"decoder", "encoder", "self-attention", "multi-head attention", "positional encoding",
	"lora", "rlhf", "instruction tuning", "dataset", "loss function", "overfitting",
	"regression", "classification", "clustering", "feature engineering",
}

// Tokens splits s into lower-cased ASCII alphanumeric runs.
func Tokens(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// ContentWords returns the set of lower-cased words with at least minLen
// characters.
func ContentWords(s string, minLen int) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range contentWordRe.FindAllString(strings.ToLower(s), -1) {
		if len([]rune(w)) >= minLen {
			out[w] = struct{}{}
		}
	}
	return out
}

// TechnicalTerms returns acronyms and CamelCase identifiers in order of
// first appearance, de-duplicated case-insensitively.
func TechnicalTerms(s string) []string {
	type hit struct {
		pos  int
		term string
	}
	hits := make([]hit, 0, 8)
	for _, loc := range acronymRe.FindAllStringIndex(s, -1) {
		hits = append(hits, hit{pos: loc[0], term: s[loc[0]:loc[1]]})
	}
	for _, loc := range camelCaseRe.FindAllStringIndex(s, -1) {
		hits = append(hits, hit{pos: loc[0], term: s[loc[0]:loc[1]]})
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	seen := make(map[string]struct{}, len(hits))
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		key := strings.ToLower(h.term)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h.term)
	}
	return out
}

// TermSet lower-cases the technical terms of s into a set.
func TermSet(s string) map[string]struct{} {
	terms := TechnicalTerms(s)
	out := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		out[strings.ToLower(t)] = struct{}{}
	}
	return out
}

// VocabularyHits returns the DomainVocabulary entries that occur in s.
func VocabularyHits(s string) []string {
	lower := strings.ToLower(s)
	out := make([]string, 0, 4)
	for _, v := range DomainVocabulary {
		if containsWord(lower, v) {
			out = append(out, v)
		}
	}
	return out
}

// Overlap is |a ∩ b| / |a|; zero when a is empty.
func Overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 {
		return 0
	}
	matches := 0
	for k := range a {
		if _, ok := b[k]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

// Normalize lower-cases s and collapses whitespace runs.
func Normalize(s string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// Prefix returns at most n runes of s.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		if isBoundary(haystack, start-1) && isBoundary(haystack, end) {
			return true
		}
		idx = start + 1
	}
}

func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}
