package analysis

import (
	"regexp"
	"strings"
	"unicode"
)

// wordSet is a lowercase lookup table.
type wordSet map[string]struct{}

func newWordSet(words ...string) wordSet {
	s := make(wordSet, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

func (s wordSet) has(w string) bool {
	_, ok := s[w]
	return ok
}

//nolint:gochecknoglobals // static lexicons
var (
	// subjectiveTerms need a measurable qualifier to be testable.
	subjectiveTerms = []string{
		"fast", "quick", "quickly", "slow", "easy", "easily", "simple", "simply",
		"intuitive", "user-friendly", "efficient", "efficiently", "flexible",
		"robust", "scalable", "responsive", "seamless", "seamlessly", "reasonable",
		"appropriate", "adequate", "optimal", "timely", "nice", "modern",
		"acceptable", "sufficient", "soon", "several",
	}
	subjectiveSet = newWordSet(subjectiveTerms...)

	placeholderPattern = regexp.MustCompile(`\bTBD\b|\bTBC\b|\?\?\?|(?i:\bto be (?:determined|confirmed)\b)`)

	digitPattern = regexp.MustCompile(`\d`)

	// errorMarkers identify error scenarios and error handling language.
	errorMarkers = []string{
		"error", "errors", "invalid", "fail", "fails", "failed", "failure", "failures",
		"reject", "rejected", "rejects", "denied", "deny", "decline", "declined",
		"incorrect", "wrong", "timeout", "timeouts", "time out", "times out", "timed out",
		"unavailable", "exception", "not found", "unauthorized", "expired", "locked",
		"retry", "retries", "unsuccessful",
	}

	// edgeMarkers identify boundary scenarios.
	edgeMarkers = []string{
		"maximum", "minimum", "max", "min", "limit", "limits", "exceed", "exceeds",
		"exceeding", "longer than", "shorter than", "more than", "less than",
		"greater than", "fewer than", "at least", "at most", "no more than", "up to",
		"empty", "zero", "boundary", "duplicate", "duplicates", "concurrent",
		"simultaneous", "special characters", "blank", "null", "negative", "overflow",
	}

	// outcomeMarkers indicate an expected, checkable result.
	outcomeMarkers = []string{
		"then", "should", "must", "shall", "will", "returns", "displays", "shows",
		"receives", "sees", "redirected", "appears", "is sent", "is created",
		"is saved", "is rejected", "is blocked", "is displayed", "is shown",
		"are displayed", "are shown", "is updated", "is deleted", "is charged",
	}

	// observableVerbs are base forms of verbs whose effect can be checked.
	observableVerbs = newWordSet(
		"add", "allow", "appear", "approve", "block", "book", "calculate", "cancel",
		"change", "charge", "check", "click", "close", "confirm", "contain", "create",
		"delete", "deny", "display", "download", "edit", "email", "enter", "export",
		"fail", "filter", "generate", "import", "include", "list", "load", "lock",
		"log", "login", "notify", "open", "order", "pay", "prevent", "print",
		"process", "receive", "redirect", "refund", "register", "reject", "remove",
		"request", "reset", "respond", "retry", "return", "save", "search", "see",
		"select", "send", "show", "sign", "sort", "store", "submit", "sync",
		"transfer", "update", "upload", "validate", "verify", "view", "withdraw",
		"track", "schedule", "assign", "archive", "publish", "share", "invite",
		"subscribe", "unsubscribe", "scan", "record", "report", "manage", "access",
		"purchase", "buy", "sell", "checkout", "authenticate", "authorize",
	)

	// failureProneOperations need explicit error handling.
	failureProneOperations = []string{
		"pay", "payment", "payments", "checkout", "transfer", "upload", "import",
		"export", "submit", "login", "log in", "sign in", "register", "save", "send",
		"sync", "integrate", "integration", "api", "download", "charge", "refund",
		"connect", "fetch", "order", "book", "purchase", "withdraw",
	}

	// inputNouns name values users supply and that have limits.
	inputNouns = []string{
		"amount", "quantity", "file", "files", "date", "email", "password",
		"search", "age", "price", "username", "phone", "attachment", "comment",
		"message", "address",
	}

	// actorNouns are recognised as actors by the heuristic extractor.
	actorNouns = newWordSet(
		"user", "users", "customer", "customers", "admin", "administrator", "operator",
		"manager", "merchant", "buyer", "seller", "member", "guest", "visitor",
		"agent", "employee", "student", "teacher", "patient", "doctor", "driver",
		"owner", "subscriber", "reviewer", "approver", "clerk", "cashier", "partner",
	)

	stopWords = newWordSet(
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "when", "what",
		"which", "who", "whom", "whose", "where", "why", "how", "is", "are", "was",
		"were", "be", "been", "being", "do", "does", "did", "done", "have", "has",
		"had", "to", "of", "in", "on", "at", "by", "for", "with", "from", "into",
		"about", "as", "it", "its", "this", "that", "these", "those", "we", "you",
		"they", "he", "she", "i", "me", "my", "our", "your", "their", "them", "us",
		"can", "could", "should", "would", "will", "shall", "may", "might", "must",
		"not", "no", "so", "there", "here", "happens", "happen", "any", "some",
		"all", "each", "every", "also", "just", "out", "up", "i'll", "we'll",
		"let's", "ok", "okay", "yes", "yeah", "need", "needs", "want", "wants",
		"get", "gets", "like", "think", "know", "again",
	)

	articles = newWordSet(
		"a", "an", "the", "my", "our", "your", "their", "his", "her", "its", "this",
		"that", "these", "those", "any", "some", "all", "each", "every",
	)

	// commonAcronyms never produce undefined_term gaps.
	commonAcronyms = newWordSet(
		"API", "APIS", "UI", "UX", "URL", "URLS", "ID", "IDS", "PDF", "CSV", "HTTP",
		"HTTPS", "JSON", "XML", "HTML", "SMS", "FAQ", "USD", "EUR", "GBP", "UTC",
		"SQL", "PIN", "QR", "OK", "AM", "PM", "AC", "ACS", "TBD", "TBC", "MUST",
		"NOT", "SHALL", "SHOULD", "MAY", "AND", "OR", "THE", "ALL", "NO", "ON",
		"OFF", "IF", "IT", "IS", "TO", "AS", "GIVEN", "WHEN", "THEN", "US", "EU",
		"UK", "GB", "MB", "KB", "TB", "MS", "CPU", "RAM", "SSO", "OTP", "FAQS",
	)
)

func isWordSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
}

// tokenize lowercases text and splits it into words.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), isWordSeparator)
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// phraseText is a lowercase, single-spaced, space-padded form of text that
// hasPhrase can search on word boundaries.
type phraseText string

func newPhraseText(text string) phraseText {
	return phraseText(" " + strings.Join(tokenize(text), " ") + " ")
}

func (p phraseText) hasPhrase(phrase string) bool {
	return strings.Contains(string(p), " "+phrase+" ")
}

func (p phraseText) hasAny(phrases []string) bool {
	_, ok := p.firstOf(phrases)
	return ok
}

// firstOf returns the first phrase of phrases found in p.
func (p phraseText) firstOf(phrases []string) (string, bool) {
	for _, ph := range phrases {
		if p.hasPhrase(ph) {
			return ph, true
		}
	}
	return "", false
}

var sentenceSplitter = regexp.MustCompile(`[.!?;\n]+`)

// sentences splits text into trimmed, non-empty sentences.
func sentences(text string) []string {
	parts := sentenceSplitter.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(p), "-*• "))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// verbBase returns the base form of w when it is an observable verb.
func verbBase(w string) (string, bool) {
	if observableVerbs.has(w) {
		return w, true
	}
	for _, suffix := range []string{"ing", "ed", "es", "s", "d"} {
		base, ok := strings.CutSuffix(w, suffix)
		if !ok || base == "" {
			continue
		}
		if observableVerbs.has(base) {
			return base, true
		}
		// submitted, logging
		if n := len(base); n > 2 && base[n-1] == base[n-2] && observableVerbs.has(base[:n-1]) {
			return base[:n-1], true
		}
		// saving, saved
		if observableVerbs.has(base + "e") {
			return base + "e", true
		}
	}
	return "", false
}

// hasObservableVerb reports whether any word of text is an observable verb.
func hasObservableVerb(text string) bool {
	for _, w := range tokenize(text) {
		if _, ok := verbBase(w); ok {
			return true
		}
	}
	return false
}

// unquantifiedSubjectiveTerms returns distinct subjective terms that appear
// in sentences without a numeric qualifier, in first-seen order.
func unquantifiedSubjectiveTerms(texts ...string) []string {
	var found []string
	seen := make(map[string]bool)
	for _, text := range texts {
		for _, s := range sentences(text) {
			if digitPattern.MatchString(s) {
				continue
			}
			for _, w := range tokenize(s) {
				if subjectiveSet.has(w) && !seen[w] {
					seen[w] = true
					found = append(found, w)
				}
			}
		}
	}
	return found
}

// contentWords drops stop words.
func contentWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if !stopWords.has(w) {
			out = append(out, w)
		}
	}
	return out
}

// salientTerms counts content words of at least four letters that occur at
// least minCount times.
func salientTerms(text string, minCount int) map[string]int {
	counts := make(map[string]int)
	for _, w := range contentWords(tokenize(text)) {
		if len([]rune(w)) < 4 || digitPattern.MatchString(w) {
			continue
		}
		counts[singular(w)]++
	}
	for w, n := range counts {
		if n < minCount {
			delete(counts, w)
		}
	}
	return counts
}

// singular strips a plain English plural suffix.
func singular(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return strings.TrimSuffix(w, "ies") + "y"
	case strings.HasSuffix(w, "sses"):
		return strings.TrimSuffix(w, "es")
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && len(w) > 3:
		return strings.TrimSuffix(w, "s")
	default:
		return w
	}
}
