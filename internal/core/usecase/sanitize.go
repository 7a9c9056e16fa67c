package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
)

// Inputs that look like markup, template or code injection are refused
// before they reach a prompt.
var blockedInputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`\{\{|\}\}|<%|%>`),
	regexp.MustCompile(`(?i)__import__|\beval\s*\(|\bexec\s*\(`),
	regexp.MustCompile(`(?i)os\.system|\bsubprocess\b|\bpopen\b`),
	regexp.MustCompile(`(?i)\bimport\s+(?:os|sys)\b|\bfrom\s+os\b`),
}

// prepareQuery trims, caps and screens raw user input.
func prepareQuery(raw string, maxChars int) (domain.Query, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, raw)

	q, err := domain.NewQuery(cleaned, maxChars)
	if err != nil {
		return domain.Query{}, err
	}
	for _, re := range blockedInputPatterns {
		if re.MatchString(q.Raw) {
			return domain.Query{}, domain.WrapError(domain.ErrInvalidInput, "prepare query", fmt.Errorf("query contains blocked content"))
		}
	}
	return q, nil
}
