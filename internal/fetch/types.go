// Package fetch implements the politeness-aware outbound HTTP layer: a
// resilient client guarded by per-origin circuit breakers, a robots.txt
// gate, and adaptive request pacing.
package fetch

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Target identifies one remote resource to retrieve. Owner is the slug of
// the restaurant the URL belongs to. Timeout, when non-zero, overrides the
// client's default request timeout. Targets are immutable once created.
type Target struct {
	URL     string
	Owner   string
	Timeout time.Duration
}

// Status classifies the outcome of a fetch attempt.
type Status string

// Fetch outcome values. Temporary failures are eligible for retry by the
// scheduler; permanent failures are terminal.
const (
	StatusSuccess   Status = "success"
	StatusTemporary Status = "temporary_failure"
	StatusPermanent Status = "permanent_failure"
)

// Well-known failure reasons callers branch on.
const (
	ReasonCircuitOpen      = "circuit open"
	ReasonRobotsDisallowed = "robots disallowed"
	ReasonRateLimited      = "rate limited"
	ReasonBotDetection     = "bot detection"
)

// Redirect records one hop of a redirect chain.
type Redirect struct {
	From       string `json:"from_url"`
	To         string `json:"to_url"`
	StatusCode int    `json:"status_code"`
	Permanent  bool   `json:"is_permanent"`
}

// Result is the outcome of a single fetch attempt. Body is only set on
// success. Reason is a human-readable failure classification when Status
// is not StatusSuccess.
type Result struct {
	Status     Status
	StatusCode int
	FinalURL   string
	Body       []byte
	Redirects  []Redirect
	Reason     string
	Duration   time.Duration
}

// OK reports whether the attempt succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Retryable reports whether the failure is eligible for retry.
func (r Result) Retryable() bool {
	return r.Status == StatusTemporary
}

// HasPermanentRedirect reports whether any hop in the chain was a 301.
func (r Result) HasPermanentRedirect() bool {
	for _, hop := range r.Redirects {
		if hop.Permanent {
			return true
		}
	}
	return false
}

// Origin returns the scheme+host key used for circuit and robots state.
func Origin(u *url.URL) string {
	return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), strings.ToLower(u.Host))
}

func temporary(reason string) Result {
	return Result{Status: StatusTemporary, Reason: reason}
}

func permanent(reason string) Result {
	return Result{Status: StatusPermanent, Reason: reason}
}
