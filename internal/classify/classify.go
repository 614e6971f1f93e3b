// Package classify turns raw upstream errors into the structured error
// categories the credential pool, circuit breaker, and HTTP layer act on.
package classify

import "strings"

// Kind is a structured error category (spec §4.7).
type Kind int

const (
	Unknown Kind = iota
	Banned
	Quota
	Auth
	RateLimit
	ContentTooLong
	InvalidModel
	Client
	Server
	Network
)

// String returns a human-readable category name.
func (k Kind) String() string {
	switch k {
	case Banned:
		return "banned"
	case Quota:
		return "quota"
	case Auth:
		return "auth"
	case RateLimit:
		return "rate_limit"
	case ContentTooLong:
		return "content_too_long"
	case InvalidModel:
		return "invalid_model"
	case Client:
		return "client"
	case Server:
		return "server"
	case Network:
		return "network"
	default:
		return "unknown"
	}
}

// Policy is the recovery policy attached to a Kind.
type Policy struct {
	Retryable         bool
	RefreshToken      bool
	DisableCredential bool
	SuggestedDelayMs  int
}

// networkSubstrings are matched against lowercased error text to detect
// transport-level failures that never reached the upstream application.
var networkSubstrings = []string{
	"econnreset", "etimedout", "enotfound", "eai_again", "epipe",
	"econnrefused", "fetch failed", "timeout", "aborted",
}

// contentLengthSubstrings flag a 400 as the content-too-long variant that
// the upstream client retries with history truncation instead of
// aggressive sanitize.
var contentLengthSubstrings = []string{
	"input is too long", "content too long", "maximum context length",
	"too many tokens", "exceeds the maximum",
}

// Classify maps an HTTP status code and error/body text into a Kind.
func Classify(statusCode int, message string) Kind {
	lower := strings.ToLower(message)

	for _, sub := range networkSubstrings {
		if strings.Contains(lower, sub) {
			return Network
		}
	}

	switch {
	case statusCode == 0:
		return Network
	case statusCode == 402:
		return Quota
	case statusCode == 401, statusCode == 403:
		return Auth
	case statusCode == 429:
		return RateLimit
	case statusCode == 400:
		for _, sub := range contentLengthSubstrings {
			if strings.Contains(lower, sub) {
				return ContentTooLong
			}
		}
		if strings.Contains(lower, "model") && (strings.Contains(lower, "not found") || strings.Contains(lower, "unknown")) {
			return InvalidModel
		}
		return Client
	case statusCode >= 500:
		return Server
	case statusCode >= 400 && statusCode < 500:
		return Client
	}

	if strings.Contains(lower, "banned") || strings.Contains(lower, "suspended") {
		return Banned
	}

	return Unknown
}

// PolicyFor returns the recovery policy for a classified error kind.
func PolicyFor(k Kind) Policy {
	switch k {
	case Banned:
		return Policy{Retryable: false, DisableCredential: true}
	case Quota:
		return Policy{Retryable: true}
	case Auth:
		return Policy{Retryable: true, RefreshToken: true, SuggestedDelayMs: 0}
	case RateLimit:
		return Policy{Retryable: true, SuggestedDelayMs: 1000}
	case ContentTooLong:
		return Policy{Retryable: true}
	case InvalidModel:
		return Policy{Retryable: false}
	case Client:
		return Policy{Retryable: false}
	case Server:
		return Policy{Retryable: true, SuggestedDelayMs: 500}
	case Network:
		return Policy{Retryable: true, SuggestedDelayMs: 500}
	default:
		return Policy{Retryable: false}
	}
}

// ErrorWeight maps a Kind to a credential health-score penalty (spec §4.1):
// banned 50, auth 40, quota 30, everything else 20. Network errors do not
// count toward the persistent error counter at all (handled by the caller),
// but still return a weight here for callers that want it regardless.
func ErrorWeight(k Kind) int {
	switch k {
	case Banned:
		return 50
	case Auth:
		return 40
	case Quota:
		return 30
	default:
		return 20
	}
}
