package engine

import (
	"regexp"
	"strings"
)

// Accusatory phrasing asserts identity, guilt or enforcement as fact and is
// forbidden in anything shown to an operator. Matching is case-insensitive
// on word boundaries.
var forbiddenPhrases = []string{
	"suspect",
	"criminal",
	"perpetrator",
	"intruder",
	"identified as",
	"confirmed stolen",
	"is stolen",
	"will be cited",
	"guilty",
	"impound",
	"seize",
	"arrest",
	"fraud",
	"crime",
	"illegal",
}

// Hedging tokens, at least one of which must appear in prose describing a
// hotlist or mismatch observation.
var hedgeTokens = []string{
	"possible",
	"potential",
	"appears",
	"may be",
	"verify",
	"review",
	"confirm",
}

var forbiddenRe = compilePhraseSet(forbiddenPhrases)
var hedgeRe = compilePhraseSet(hedgeTokens)
var mismatchRe = regexp.MustCompile(`(?i)\bmismatch\b`)

func compilePhraseSet(phrases []string) *regexp.Regexp {
	parts := make([]string, len(phrases))
	for i, p := range phrases {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(parts, "|") + `)\b`)
}

// FindAccusatory returns the first forbidden phrase found in text, or "".
func FindAccusatory(text string) string {
	return forbiddenRe.FindString(text)
}

// HasHedge reports whether text carries at least one hedging token.
func HasHedge(text string) bool {
	return hedgeRe.MatchString(text)
}

// MentionsMismatch reports whether text names a mismatch.
func MentionsMismatch(text string) bool {
	return mismatchRe.MatchString(text)
}

// hedgedEventTypes require hedging language wherever they are described.
func requiresHedging(eventType string) bool {
	switch eventType {
	case "hotlist_match", "plate_mismatch":
		return true
	}
	return false
}

// isMismatchType reports whether the event type is a mismatch detector.
func isMismatchType(eventType string) bool {
	return eventType == "plate_mismatch"
}
