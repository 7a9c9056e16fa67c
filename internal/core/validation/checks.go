package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/textproc"
)

var (
	spelledNumberRe = regexp.MustCompile(`\b(one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty|thirty|forty|fifty)\b`)
	countRe         = regexp.MustCompile(`\b(\d+)\s+(chapter|section|part)s?\b`)
	ordinalRe       = regexp.MustCompile(`\b(chapter|section|part)\s+(\d+)\b`)

	nameRe        = regexp.MustCompile(`\b([A-Z][a-z]+ [A-Z][a-z]+)\b`)
	attributionRe = regexp.MustCompile(`\b([A-Z][a-z]+ [A-Z][a-z]+),? (?:is|was) (?:an? |the )?(?:([A-Z][a-z]+) )?(author|professor|researcher|engineer|scientist|founder|writer|developer|lecturer|ceo)\b`)
	quotedTitleRe = regexp.MustCompile(`["“]([^"”\n]{3,120})["”]|\*\*([^*\n]{3,120})\*\*`)

	speculationRe = regexp.MustCompile(`(?i)\b(probably|might|i think|i believe|perhaps|possibly|maybe)\b`)
)

var spelledNumbers = map[string]string{
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5", "six": "6", "seven": "7",
	"eight": "8", "nine": "9", "ten": "10", "eleven": "11", "twelve": "12", "thirteen": "13",
	"fourteen": "14", "fifteen": "15", "sixteen": "16", "seventeen": "17", "eighteen": "18",
	"nineteen": "19", "twenty": "20", "thirty": "30", "forty": "40", "fifty": "50",
}

var nameStoplist = map[string]struct{}{
	"The Book": {}, "This Chapter": {}, "For Example": {}, "In This": {}, "Chapter One": {},
}

// Leading words that make a capitalised pair a sentence opener rather than
// a name.
var nameStopWords = map[string]struct{}{
	"The": {}, "This": {}, "That": {}, "These": {}, "Those": {}, "In": {}, "For": {}, "On": {},
	"At": {}, "By": {}, "With": {}, "From": {}, "To": {}, "As": {}, "An": {}, "A": {}, "It": {},
	"Chapter": {}, "Section": {}, "Part": {}, "Figure": {}, "Table": {}, "Source": {},
	"However": {}, "Also": {}, "First": {}, "Second": {}, "Finally": {}, "Both": {}, "Each": {},
	"What": {}, "Who": {}, "How": {}, "Why": {}, "When": {}, "Where": {}, "Which": {}, "Does": {},
	"Do": {}, "Is": {}, "Are": {}, "Can": {}, "Tell": {}, "Explain": {}, "Describe": {}, "List": {},
}

var nationalities = map[string]struct{}{
	"american": {}, "british": {}, "english": {}, "german": {}, "french": {}, "chinese": {},
	"russian": {}, "indian": {}, "canadian": {}, "italian": {}, "japanese": {}, "vietnamese": {},
	"spanish": {}, "korean": {}, "polish": {}, "romanian": {}, "dutch": {}, "swiss": {},
	"australian": {}, "brazilian": {}, "israeli": {}, "swedish": {}, "ukrainian": {},
}

func normalizeNumbers(s string) string {
	return spelledNumberRe.ReplaceAllStringFunc(strings.ToLower(s), func(word string) string {
		return spelledNumbers[word]
	})
}

// checkNumbers compares chapter/section/part counts stated in the answer
// with counts the context states or implies through numbered headings.
func checkNumbers(answer, context string) []string {
	stated := countRe.FindAllStringSubmatch(normalizeNumbers(answer), -1)
	if len(stated) == 0 {
		return nil
	}

	normContext := normalizeNumbers(context)
	known := make(map[string]map[int]struct{})
	addKnown := func(unit string, n int) {
		if known[unit] == nil {
			known[unit] = make(map[int]struct{})
		}
		known[unit][n] = struct{}{}
	}
	for _, m := range countRe.FindAllStringSubmatch(normContext, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			addKnown(m[2], n)
		}
	}
	highest := make(map[string]int)
	for _, m := range ordinalRe.FindAllStringSubmatch(normContext, -1) {
		if n, err := strconv.Atoi(m[2]); err == nil && n > highest[m[1]] {
			highest[m[1]] = n
		}
	}
	for unit, n := range highest {
		addKnown(unit, n)
	}

	issues := make([]string, 0, maxIssuesPerCheck)
	reported := make(map[string]struct{})
	for _, m := range stated {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		unit := m[2]
		key := m[1] + " " + unit
		if _, dup := reported[key]; dup {
			continue
		}

		counts, ok := known[unit]
		switch {
		case !ok:
			issues = append(issues, fmt.Sprintf("Mentioned %d %ss without source", n, unit))
		default:
			if _, match := counts[n]; match {
				continue
			}
			issues = append(issues, fmt.Sprintf("Answer states %d %ss but context shows %s", n, unit, joinCounts(counts)))
		}
		reported[key] = struct{}{}
		if len(issues) == maxIssuesPerCheck {
			break
		}
	}
	return issues
}

func joinCounts(counts map[int]struct{}) string {
	values := make([]int, 0, len(counts))
	for n := range counts {
		values = append(values, n)
	}
	sort.Ints(values)
	parts := make([]string, 0, len(values))
	for _, n := range values {
		parts = append(parts, strconv.Itoa(n))
	}
	return strings.Join(parts, "/")
}

// checkNames flags two-word capitalised names that appear in neither the
// context nor the question.
func checkNames(answer, context, query string) []string {
	lowerContext := strings.ToLower(context)
	lowerQuery := strings.ToLower(query)

	issues := make([]string, 0, maxIssuesPerCheck)
	seen := make(map[string]struct{})
	for _, name := range nameRe.FindAllString(answer, -1) {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if isStopName(name) {
			continue
		}
		lower := strings.ToLower(name)
		if strings.Contains(lowerContext, lower) || strings.Contains(lowerQuery, lower) {
			continue
		}
		issues = append(issues, fmt.Sprintf("Name '%s' not found in context", name))
		if len(issues) == maxIssuesPerCheck {
			break
		}
	}
	return issues
}

func isStopName(name string) bool {
	if _, ok := nameStoplist[name]; ok {
		return true
	}
	first, _, _ := strings.Cut(name, " ")
	_, ok := nameStopWords[first]
	return ok
}

// checkAttribution catches answers that pin a nationality or role on
// someone when the context says no such thing, or that describe a different
// person than the one asked about.
func checkAttribution(answer, context, query string) []string {
	matches := attributionRe.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return nil
	}
	lowerContext := strings.ToLower(context)
	lowerQuery := strings.ToLower(query)

	var asked []string
	for _, name := range nameRe.FindAllString(query, -1) {
		if !isStopName(name) {
			asked = append(asked, name)
		}
	}

	issues := make([]string, 0, maxIssuesPerCheck)
	add := func(issue string) bool {
		issues = append(issues, issue)
		return len(issues) == maxIssuesPerCheck
	}
	for _, m := range matches {
		subject, qualifier, role := m[1], m[2], m[3]
		if len(asked) > 0 && !strings.Contains(lowerQuery, strings.ToLower(subject)) {
			if add(fmt.Sprintf("Answer describes '%s' as %s but the question is about '%s'", subject, role, asked[0])) {
				break
			}
			continue
		}
		if qualifier != "" {
			lq := strings.ToLower(qualifier)
			if _, isNationality := nationalities[lq]; isNationality && !strings.Contains(lowerContext, lq) {
				if add(fmt.Sprintf("Attribution '%s is %s' not found in context", subject, qualifier)) {
					break
				}
				continue
			}
		}
		if !strings.Contains(lowerContext, role) {
			if add(fmt.Sprintf("Role '%s' for '%s' not found in context", role, subject)) {
				break
			}
		}
	}
	return issues
}

// checkTitles flags quoted or bold Title Case strings that do not resemble
// any catalog title.
func (v *Validator) checkTitles(answer string) []string {
	if v.books == nil {
		return nil
	}
	titles := v.books.Titles()
	if len(titles) == 0 {
		return nil
	}

	issues := make([]string, 0, maxIssuesPerCheck)
	seen := make(map[string]struct{})
	for _, m := range quotedTitleRe.FindAllStringSubmatch(answer, -1) {
		candidate := strings.TrimSpace(m[1] + m[2])
		if _, dup := seen[candidate]; dup || !looksLikeTitle(candidate) {
			continue
		}
		seen[candidate] = struct{}{}
		if matchesKnownTitle(candidate, titles, v.opts.TitleMatchRatio) {
			continue
		}
		issues = append(issues, fmt.Sprintf("Book title '%s' is not in the collection", candidate))
		if len(issues) == maxIssuesPerCheck {
			break
		}
	}
	return issues
}

func looksLikeTitle(s string) bool {
	words := strings.Fields(s)
	if len(words) < 2 || len(words) > 15 {
		return false
	}
	first := []rune(words[0])
	if !unicode.IsUpper(first[0]) {
		return false
	}
	significant, capitalised := 0, 0
	for _, w := range words {
		r := []rune(w)
		if len(r) <= 3 {
			continue
		}
		significant++
		if unicode.IsUpper(r[0]) {
			capitalised++
		}
	}
	return significant > 0 && capitalised*10 >= significant*7
}

func matchesKnownTitle(candidate string, titles []string, minRatio float64) bool {
	lc := strings.ToLower(candidate)
	for _, title := range titles {
		lt := strings.ToLower(title)
		if len(lc) >= 8 && strings.Contains(lt, lc) {
			return true
		}
		if similarity(lc, lt) >= minRatio {
			return true
		}
	}
	return false
}

// similarity is 2*LCS/(len(a)+len(b)) over runes, in [0,1].
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra)+len(rb) == 0 {
		return 1
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return 2 * float64(prev[len(rb)]) / float64(len(ra)+len(rb))
}

// checkContinuity flags short follow-up answers whose technical vocabulary
// has nothing to do with the previous answer.
func (v *Validator) checkContinuity(answer, query string, history domain.History) []string {
	prev, ok := history.Last()
	if !ok || len(strings.Fields(query)) > v.opts.ShortQueryWords {
		return nil
	}
	prevTerms := textproc.TermSet(prev.AssistantText)
	currTerms := textproc.TermSet(answer)
	if len(prevTerms) == 0 || len(currTerms) == 0 {
		return nil
	}
	overlap := max(textproc.Overlap(currTerms, prevTerms), textproc.Overlap(prevTerms, currTerms))
	if overlap >= v.opts.ContinuityThreshold {
		return nil
	}
	return []string{fmt.Sprintf("Answer drifts from the previous topic (term overlap %.2f)", overlap)}
}

func checkSpeculation(answer string) []string {
	issues := make([]string, 0, maxIssuesPerCheck)
	seen := make(map[string]struct{})
	for _, hedge := range speculationRe.FindAllString(answer, -1) {
		hedge = strings.ToLower(hedge)
		if _, dup := seen[hedge]; dup {
			continue
		}
		seen[hedge] = struct{}{}
		issues = append(issues, fmt.Sprintf("Speculative language: '%s'", hedge))
		if len(issues) == maxIssuesPerCheck {
			break
		}
	}
	return issues
}
