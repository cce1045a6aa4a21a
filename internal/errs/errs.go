// Package errs defines the error taxonomy shared by connectors, the admission
// controller, the retry executor and the aggregation engine.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidCredentials is returned when a connector is built without a
	// complete credential set.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidOrderParameters is a caller error detected before any network call.
	ErrInvalidOrderParameters = errors.New("invalid order parameters")
	// ErrUnknownExchange is returned for exchange ids without registered rules.
	ErrUnknownExchange = errors.New("unknown exchange")
	// ErrRateLimited maps HTTP 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrAuthFailed maps HTTP 401.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrForbidden maps HTTP 403.
	ErrForbidden = errors.New("forbidden")
	// ErrUpstream covers every other non-2xx answer and exchange-level error codes.
	ErrUpstream = errors.New("upstream error")
	// ErrInsufficientLiquidity is returned when the book cannot absorb a trade.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrRetriesExhausted marks a failure that survived every retry attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrNoConnectors is reported when the engine has nothing to query.
	ErrNoConnectors = errors.New("no connectors available")
)

// Kind classifies an upstream failure.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindAuthFailed  Kind = "auth_failed"
	KindForbidden   Kind = "forbidden"
	KindUpstream    Kind = "upstream"
)

// UpstreamError carries an HTTP-status-derived failure produced at the
// transport boundary.
type UpstreamError struct {
	Exchange string
	Status   int
	Code     string
	Body     string
	Kind     Kind
}

// FromStatus classifies an HTTP status code. Callers only use it for non-2xx
// answers.
func FromStatus(exchange string, status int, body string) *UpstreamError {
	kind := KindUpstream
	switch status {
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusUnauthorized:
		kind = KindAuthFailed
	case http.StatusForbidden:
		kind = KindForbidden
	}
	return &UpstreamError{
		Exchange: strings.ToLower(exchange),
		Status:   status,
		Body:     truncate(body, 512),
		Kind:     kind,
	}
}

// FromCode builds an upstream error for exchanges that answer 200 with an
// error code in the payload.
func FromCode(exchange, code, msg string) *UpstreamError {
	return &UpstreamError{
		Exchange: strings.ToLower(exchange),
		Status:   http.StatusOK,
		Code:     code,
		Body:     truncate(msg, 512),
		Kind:     KindUpstream,
	}
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Exchange, e.sentinel().Error())
	if e.Status != 0 && e.Status != http.StatusOK {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	return b.String()
}

// Is matches ErrUpstream for every kind, plus the sentinel of the error's
// own kind.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream || target == e.sentinel()
}

func (e *UpstreamError) sentinel() error {
	switch e.Kind {
	case KindRateLimited:
		return ErrRateLimited
	case KindAuthFailed:
		return ErrAuthFailed
	case KindForbidden:
		return ErrForbidden
	default:
		return ErrUpstream
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
