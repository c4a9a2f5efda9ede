package providers

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// UpstreamError carries the HTTP status and body of a failed provider call.
type UpstreamError struct {
	Status   int
	Provider string
	Body     string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Status, body)
}

// outage markers seen in provider error payloads that warrant a fallback.
var retryableMarkers = []string{
	"rate limit",
	"rate_limit",
	"overloaded",
	"model not found",
	"model_not_found",
	"temporarily unavailable",
	"service unavailable",
	"connection reset",
	"connection refused",
}

// IsRetryable reports whether an upstream error justifies retrying or
// consulting the fallback chain: network timeouts, 5xx, 429, model-not-found
// and provider outage markers. Authorization and policy errors never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		switch {
		case ue.Status == 429:
			return true
		case ue.Status >= 500:
			return true
		case ue.Status == 401 || ue.Status == 403:
			return false
		case ue.Status == 404:
			// Only the model-missing flavor of 404 is retried against a
			// fallback; user-supplied identifiers stay permanent.
			return containsAnyFold(ue.Body, "model not found", "model_not_found")
		}
		return containsAnyFold(ue.Body, retryableMarkers...)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	return containsAnyFold(err.Error(), retryableMarkers...)
}

// IsAuthError reports 401/403-class failures that must surface verbatim.
func IsAuthError(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status == 401 || ue.Status == 403
	}
	return false
}

func containsAnyFold(s string, markers ...string) bool {
	low := strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}
