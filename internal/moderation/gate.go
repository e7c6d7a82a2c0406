package moderation

import (
	"regexp"
	"strings"
)

// Gate decides whether message text may be accepted for delivery. It runs
// before persistence; rejected content is never stored or pushed.
type Gate interface {
	IsForbidden(text string) bool
}

// RegexGate rejects text carrying contact details or payment handles. Each
// pattern is checked against the raw text and against a normalized copy with
// whitespace and -_. stripped, so "9 8 7-6 5 4 3 2 1 0" is still caught.
type RegexGate struct {
	patterns []*regexp.Regexp
}

var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{10,15}`),
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`@\w+`),
	regexp.MustCompile(`https?://\S+`),
	regexp.MustCompile(`(?i)(paytm|gpay|phonepe|paypal|upi|paynow|pay\.com)`),
}

// NewRegexGate builds the gate with the default pattern set.
func NewRegexGate() *RegexGate {
	return &RegexGate{patterns: defaultPatterns}
}

// NewRegexGateWith builds a gate from custom patterns, for tests and rule evolution.
func NewRegexGateWith(patterns ...*regexp.Regexp) *RegexGate {
	return &RegexGate{patterns: patterns}
}

var normalizer = strings.NewReplacer(" ", "", "\t", "", "\n", "", "-", "", "_", "", ".", "")

// IsForbidden reports whether the text matches any forbidden pattern.
func (g *RegexGate) IsForbidden(text string) bool {
	if text == "" {
		return false
	}
	normalized := normalizer.Replace(strings.ToLower(text))
	for _, p := range g.patterns {
		if p.MatchString(text) || p.MatchString(normalized) {
			return true
		}
	}
	return false
}
