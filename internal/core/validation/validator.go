// Package validation checks a generated answer against the context it was
// generated from and scores how well the answer is supported.
package validation

import (
	"strings"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

const (
	defaultEvidenceThreshold   = 0.35
	defaultValidityThreshold   = 0.4
	defaultMaxIssues           = 3
	defaultContinuityThreshold = 0.2
	defaultShortQueryWords     = 5
	defaultTitleMatchRatio     = 0.6
	maxIssuesPerCheck          = 2

	supportedWeight = 0.6
	evidenceWeight  = 0.4
)

var (
	admissionPrefixes = []string{
		"i don't have", "i do not have", "i cannot", "i can't", "i don't know", "sorry, i",
	}
	recommendationMarkers = []string{
		"suggest", "recommend", "which book", "what book", "should i", "best book",
	}
)

// BookLister provides the titles that quoted book names are checked against.
type BookLister interface {
	Titles() []string
}

type Options struct {
	EvidenceThreshold   float64
	ValidityThreshold   float64
	MaxIssues           int
	ContinuityThreshold float64
	ShortQueryWords     int
	TitleMatchRatio     float64
	// ExpectContext turns an empty context into a hard failure instead of
	// a pass.
	ExpectContext bool
}

func (o Options) withDefaults() Options {
	if o.EvidenceThreshold <= 0 {
		o.EvidenceThreshold = defaultEvidenceThreshold
	}
	if o.ValidityThreshold <= 0 {
		o.ValidityThreshold = defaultValidityThreshold
	}
	if o.MaxIssues <= 0 {
		o.MaxIssues = defaultMaxIssues
	}
	if o.ContinuityThreshold <= 0 {
		o.ContinuityThreshold = defaultContinuityThreshold
	}
	if o.ShortQueryWords <= 0 {
		o.ShortQueryWords = defaultShortQueryWords
	}
	if o.TitleMatchRatio <= 0 {
		o.TitleMatchRatio = defaultTitleMatchRatio
	}
	return o
}

type Validator struct {
	books BookLister
	opts  Options
}

func New(books BookLister, opts Options) *Validator {
	return &Validator{books: books, opts: opts.withDefaults()}
}

func (v *Validator) Options() Options {
	return v.opts
}

// Validate scores answer against context. It never fails; every outcome is
// expressed in the returned result.
func (v *Validator) Validate(answer, context, query string, history domain.History) domain.ValidationResult {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return pass()
	}
	if strings.TrimSpace(context) == "" {
		if v.opts.ExpectContext {
			return domain.ValidationResult{Valid: false, Confidence: 0, Issues: []string{"no context"}}
		}
		return pass()
	}
	if IsAdmission(answer) || isRecommendationQuery(query) {
		return pass()
	}

	claims := ExtractClaims(answer)
	if len(claims) == 0 {
		return pass()
	}

	issues := make([]string, 0, 8)
	supported := 0
	totalEvidence := 0.0
	unsupported := make([]string, 0, maxIssuesPerCheck)
	idx := newEvidenceIndex(context)
	for _, claim := range claims {
		ev := idx.find(claim, v.opts.EvidenceThreshold)
		totalEvidence += ev.score
		if ev.supported {
			supported++
			continue
		}
		if len(unsupported) < maxIssuesPerCheck {
			unsupported = append(unsupported, "Unsupported claim: "+truncateClaim(claim))
		}
	}
	issues = append(issues, unsupported...)
	issues = append(issues, checkNumbers(answer, context)...)
	issues = append(issues, checkNames(answer, context, query)...)
	issues = append(issues, checkAttribution(answer, context, query)...)
	issues = append(issues, v.checkTitles(answer)...)
	issues = append(issues, v.checkContinuity(answer, query, history)...)
	issues = append(issues, checkSpeculation(answer)...)

	supportedFraction := float64(supported) / float64(len(claims))
	meanEvidence := totalEvidence / float64(len(claims))
	confidence := clamp01(supportedWeight*supportedFraction + evidenceWeight*meanEvidence)

	valid := confidence >= v.opts.ValidityThreshold && len(issues) <= v.opts.MaxIssues
	if len(issues) > v.opts.MaxIssues {
		issues = issues[:v.opts.MaxIssues]
	}
	return domain.ValidationResult{Valid: valid, Confidence: confidence, Issues: issues}
}

// IsAdmission reports whether the answer opens by admitting it lacks the
// information.
func IsAdmission(answer string) bool {
	lower := strings.ToLower(strings.TrimSpace(answer))
	lower = strings.ReplaceAll(lower, "’", "'")
	for _, prefix := range admissionPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func isRecommendationQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, marker := range recommendationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func pass() domain.ValidationResult {
	return domain.ValidationResult{Valid: true, Confidence: 1.0, Issues: []string{}}
}

func truncateClaim(claim string) string {
	runes := []rune(claim)
	if len(runes) <= 50 {
		return claim
	}
	return string(runes[:50]) + "..."
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
