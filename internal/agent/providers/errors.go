// Package providers implements the LLMProvider backends: Anthropic,
// OpenAI-compatible endpoints, Google Gemini, and AWS Bedrock. Each backend
// builds its wire format from the ordered content blocks of the request's
// messages and decodes its stream into CompletionChunks.
package providers

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies a provider error for retry and failover decisions.
type FailureKind string

const (
	FailureRateLimit     FailureKind = "rate_limit"
	FailureTimeout       FailureKind = "timeout"
	FailureServer        FailureKind = "server_error"
	FailureAuth          FailureKind = "auth"
	FailureBilling       FailureKind = "billing"
	FailureInvalid       FailureKind = "invalid_request"
	FailureModelMissing  FailureKind = "model_unavailable"
	FailureContentFilter FailureKind = "content_filter"
	FailureUnknown       FailureKind = "unknown"
)

// Retryable reports whether retrying the same provider may succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureRateLimit, FailureTimeout, FailureServer:
		return true
	}
	return false
}

// ProviderError wraps an upstream API error with the provider, model, and
// classified kind, so errors.As can recover structure at the loop layer
// without string matching.
type ProviderError struct {
	Provider string
	Model    string
	Kind     FailureKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%s): %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError classifies err and attaches provider/model context. A nil err
// returns nil; an already-wrapped error is returned unchanged.
func WrapError(provider, model string, err error) error {
	if err == nil {
		return nil
	}
	var existing *ProviderError
	if errors.As(err, &existing) {
		return err
	}
	return &ProviderError{
		Provider: provider,
		Model:    model,
		Kind:     Classify(err),
		Err:      err,
	}
}

// IsRetryable reports whether the error's classification permits a retry
// against the same provider.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind.Retryable()
	}
	return Classify(err).Retryable()
}

// classifyPatterns maps lowercase substrings of upstream error text to a
// FailureKind. First match wins; ordering puts the most specific phrases
// before the catch-alls.
var classifyPatterns = []struct {
	substrings []string
	kind       FailureKind
}{
	{[]string{"rate limit", "rate_limit", "too many requests", "429"}, FailureRateLimit},
	{[]string{"timeout", "deadline exceeded", "etimedout"}, FailureTimeout},
	{[]string{"unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"}, FailureAuth},
	{[]string{"billing", "payment", "quota", "insufficient credit", "402"}, FailureBilling},
	{[]string{"content_filter", "content policy", "safety", "blocked"}, FailureContentFilter},
	{[]string{"model not found", "model_not_found", "does not exist", "unavailable"}, FailureModelMissing},
	{[]string{"internal server", "server error", "overloaded", "500", "502", "503", "529"}, FailureServer},
	{[]string{"invalid request", "invalid_request", "bad request", "400"}, FailureInvalid},
}

// Classify buckets an upstream error by its message text. Providers report
// the same failure classes with different wording, so this is substring
// matching rather than typed errors.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, p := range classifyPatterns {
		for _, sub := range p.substrings {
			if strings.Contains(msg, sub) {
				return p.kind
			}
		}
	}
	return FailureUnknown
}
