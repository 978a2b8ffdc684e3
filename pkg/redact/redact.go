package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe   = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe   = regexp.MustCompile(`\+?\d[\d\s\-().]{7,}\d`)
	cardRe    = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
	addressRe = regexp.MustCompile(`(?i)\b\d{1,6}\s+[a-z0-9.\s]{2,40}\b(?:street|st|avenue|ave|road|rd|lane|ln|drive|dr|boulevard|blvd|court|ct|way)\b`)
	namedRe   = regexp.MustCompile(`(?i)\b(?:my name is|my name's|i live at|my address is|deliver to|address is)\b`)
)

// SetEnabled toggles PII redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails, card numbers, phone numbers and street addresses when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = cardRe.ReplaceAllString(out, "[REDACTED_CARD]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	out = addressRe.ReplaceAllString(out, "[REDACTED_ADDRESS]")
	return out
}

// ContainsPII reports whether text carries personal data that must not be
// shared across callers. It ignores the enabled toggle.
func ContainsPII(in string) bool {
	if strings.TrimSpace(in) == "" {
		return false
	}
	return emailRe.MatchString(in) ||
		phoneRe.MatchString(in) ||
		cardRe.MatchString(in) ||
		addressRe.MatchString(in) ||
		namedRe.MatchString(in)
}
