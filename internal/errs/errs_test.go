package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFromStatusKinds(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusInternalServerError, ErrUpstream},
		{http.StatusBadRequest, ErrUpstream},
	}
	for _, c := range cases {
		err := FromStatus("Binance", c.status, "boom")
		if !errors.Is(err, c.want) {
			t.Errorf("status %d: expected %v, got %v", c.status, c.want, err)
		}
		if err.Exchange != "binance" {
			t.Errorf("exchange not normalised: %q", err.Exchange)
		}
	}
}

func TestUpstreamErrorSurvivesWrapping(t *testing.T) {
	base := FromStatus("okx", http.StatusTooManyRequests, "slow down")
	wrapped := fmt.Errorf("get ticker: %w", base)

	var ue *UpstreamError
	if !errors.As(wrapped, &ue) {
		t.Fatalf("expected UpstreamError in chain")
	}
	if ue.Status != http.StatusTooManyRequests {
		t.Errorf("unexpected status %d", ue.Status)
	}
	if errors.Is(wrapped, ErrAuthFailed) {
		t.Errorf("rate limit must not match auth failure")
	}
	if !strings.Contains(wrapped.Error(), "HTTP 429") {
		t.Errorf("message missing status: %s", wrapped.Error())
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode("bybit", "10001", "params error")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream error")
	}
	if !strings.Contains(err.Error(), "code=10001") {
		t.Errorf("code missing from message: %s", err.Error())
	}
}

func TestEveryKindIsUpstream(t *testing.T) {
	cases := []struct {
		status int
		own    error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusBadGateway, ErrUpstream},
	}
	for _, c := range cases {
		err := fmt.Errorf("call: %w", FromStatus("x", c.status, ""))
		if !errors.Is(err, ErrUpstream) {
			t.Errorf("status %d: expected ErrUpstream match", c.status)
		}
		if !errors.Is(err, c.own) {
			t.Errorf("status %d: expected %v match", c.status, c.own)
		}
	}
	if errors.Is(FromStatus("x", http.StatusInternalServerError, ""), ErrRateLimited) {
		t.Errorf("plain upstream error must not match a sub-kind")
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 600)
	err := FromStatus("x", 500, long)
	if len(err.Body) != 515 {
		t.Errorf("expected truncated body, got %d chars", len(err.Body))
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// Each "é" is two bytes starting on an odd offset, so byte 512 is mid-rune.
	body := "x" + strings.Repeat("é", 300)
	err := FromStatus("x", 500, body)
	if !utf8.ValidString(err.Body) {
		t.Fatalf("truncated body is not valid UTF-8: %q", err.Body[len(err.Body)-8:])
	}
	if !strings.HasSuffix(err.Body, "...") {
		t.Errorf("missing ellipsis")
	}
	if got := len(err.Body) - 3; got != 511 {
		t.Errorf("expected 511 bytes kept, got %d", got)
	}
}
