package intent

import "regexp"

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// All patterns run against the lower-cased, whitespace-collapsed query.
var (
	metaPatterns = compileAll(
		`\bwho are you\b`,
		`\bwhat are you\b`,
		`\bwhat (can|do) you do\b`,
		`\bhow (can|do) you help\b`,
		`\bhow do you work\b`,
		`\byour (capabilities|abilities|purpose)\b`,
		`\bwhat can i ask\b`,
		`\bare you (an? )?(ai|bot|assistant|chatbot)\b`,
		`^(hi|hello|hey)[!. ]*$`,
	)

	listBooksPatterns = compileAll(
		`\blist (?:(?:your|the|all|all the|all your|available) )?books\b`,
		`\bwhat books\b.*\b(have|available|know|cover)\b`,
		`\bwhich books\b.*\b(have|available|know|cover)\b`,
		`\bshow (?:me )?(?:your|the|all|all the) books\b`,
		`\bavailable books\b`,
		`\bbooks (?:do )?you (?:have|know)\b`,
		`\bhow many books\b`,
	)

	structurePatterns = compileAll(
		`\bhow many chapters?\b`,
		`\bchapters?\b`,
		`\btable of contents\b`,
		`\btoc\b`,
		`\boutline\b`,
		`\bwhat\b.*\b(sections?|parts?)\b`,
		`\blist\b.*\b(sections?|parts?)\b`,
	)

	crossBookPatterns = compileAll(
		`\ball\b.*\bbooks?\b`,
		`\bacross\b.*\bbooks?\b`,
		`\beach book\b`,
		`\bevery book\b`,
		`\bboth books?\b`,
		`\bdifferent books\b`,
		`\bfrom all\b`,
		`\bin all\b`,
	)

	comparisonPatterns = compileAll(
		`\bcompar(e|es|ed|ing|ison)\b`,
		`\bdifferences?\b`,
		`\bdiffer\b`,
		`\bvs\.?\b`,
		`\bversus\b`,
		`\bcontrast\b`,
		`\bbetter than\b`,
		`\bsimilarit(y|ies)\b`,
	)

	followupPatterns = compileAll(
		`^(and|but|so|also|then|or)\b`,
		`^(what|how) about\b`,
		`\b(it|this|that|these|those|they|them|its)\b`,
		`\?$`,
		`\b(explain|elaborate|clarify|expand)\b`,
		`\btell me more\b`,
		`\b(more detail|more details|in detail|an example|examples?)\b`,
		`^(please|thanks|thank you|ok|okay|great|cool)\b`,
		`\bplease\b`,
	)

	vaguePatterns = compileAll(
		`\b(this|that|these|those|it|its|they|them)\b`,
		`\b(sources?|references?|citations?|pages?|above|previous|earlier|mentioned)\b`,
	)
)
