package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes provider failures. Retry decisions are made by
// inspecting the kind, never by string matching at call sites.
type ErrorKind string

const (
	KindConfigMissing ErrorKind = "config_missing"
	KindTransport     ErrorKind = "transport"
	KindRateLimited   ErrorKind = "rate_limited"
	KindHTTPStatus    ErrorKind = "http_status"
	KindParse         ErrorKind = "parse"
	KindCancelled     ErrorKind = "cancelled"
	KindValidation    ErrorKind = "validation"
)

// Error is the structured error returned by every adapter and by the
// resilient caller. Body is a preview only; endpoints and keys must not
// appear in it.
type Error struct {
	Kind     ErrorKind
	Provider Kind
	Op       string
	Status   int
	Body     string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider %s: %s", e.Provider, e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind, so callers can test errors.Is(err, &Error{Kind: KindParse}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Provider == "" || e.Provider == t.Provider)
}

// onPremSignatures are error substrings from self-hosted runtimes that
// indicate a transient backend restart. They retry after a short fixed
// delay rather than the configured backoff.
var onPremSignatures = []string{
	"EOF",
	"runner no longer running",
}

// Retryable reports whether the failure may succeed on a later attempt.
// HTTP 429/500/503/529 and transport failures retry; other 4xx do not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindRateLimited:
		return true
	case KindHTTPStatus:
		switch e.Status {
		case 429, 500, 503, 529:
			return true
		}
		return false
	}
	return false
}

// ShortDelay reports whether the error matches an on-prem restart
// signature, in which case the caller waits one second instead of the
// configured backoff.
func (e *Error) ShortDelay() bool {
	msg := e.Error()
	for _, sig := range onPremSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

func newConfigMissing(p Kind, op, what string) *Error {
	return &Error{Kind: KindConfigMissing, Provider: p, Op: op, Body: what}
}

func newParse(p Kind, op string, err error) *Error {
	return &Error{Kind: KindParse, Provider: p, Op: op, Err: err}
}

// classify wraps an arbitrary SDK or transport error. Context
// cancellation is preserved as KindCancelled; rate-limit shaped
// messages become KindRateLimited; the rest is transport.
func classify(p Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindCancelled, Provider: p, Op: op, Err: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "overloaded") {
		return &Error{Kind: KindRateLimited, Provider: p, Op: op, Err: err}
	}
	return &Error{Kind: KindTransport, Provider: p, Op: op, Err: err}
}

// httpError builds an HTTP status error with a bounded body preview.
func httpError(p Kind, op string, status int, body []byte) *Error {
	const previewLimit = 256
	preview := string(body)
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	kind := KindHTTPStatus
	switch status {
	case 429, 503, 529:
		kind = KindRateLimited
	}
	return &Error{Kind: kind, Provider: p, Op: op, Status: status, Body: preview}
}
