package transport

import "strings"

// Sanitizer rewrites an error message before it is serialized to the
// client. It applies to error-kind events only and layers on top of the
// detail-stripping the provider layer already does during error
// translation.
type Sanitizer func(message string) string

// genericErrorMessage replaces provider error text the user cannot act on.
const genericErrorMessage = "The model provider returned an error. Please try again."

// actionableFragments mark messages the user can act on; those pass
// through verbatim. Matching is case-insensitive.
var actionableFragments = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"service unavailable",
	"overloaded",
	"temporarily",
}

// DefaultSanitizer preserves rate-limit, timeout, and availability messages
// verbatim and replaces everything else with a generic message.
func DefaultSanitizer(message string) string {
	lower := strings.ToLower(message)
	for _, fragment := range actionableFragments {
		if strings.Contains(lower, fragment) {
			return message
		}
	}
	return genericErrorMessage
}
