package provider

import "strings"

// MismatchDetector decides whether an upstream error message indicates a
// permanent capability mismatch (e.g. vision requested on a text-only
// model). Mismatches are never retried regardless of HTTP status.
//
// The default implementation is keyword-based for parity with provider
// error text observed in the wild; the interface exists so it can be
// replaced by structured per-provider error codes without touching the
// retry logic.
type MismatchDetector interface {
	Mismatch(message string) bool
}

// KeywordMismatchDetector matches capability-mismatch phrasing by
// case-insensitive substring search.
type KeywordMismatchDetector struct {
	keywords []string
}

// NewKeywordMismatchDetector returns the default detector covering the
// vision and tool-calling rejection messages of common backends.
func NewKeywordMismatchDetector() *KeywordMismatchDetector {
	return &KeywordMismatchDetector{
		keywords: []string{
			"does not support vision",
			"does not support image",
			"image input",
			"multimodal",
			"does not support tool",
			"does not support function",
			"tool use is not supported",
			"function calling is not supported",
			"tools are not supported",
		},
	}
}

// Mismatch reports whether the message matches a known mismatch phrase.
func (d *KeywordMismatchDetector) Mismatch(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range d.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
