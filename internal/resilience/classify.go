// Package resilience provides error classification, retry with backoff,
// bounded parallel fan-out, and an audited tool executor for calls against
// unreliable external systems.
package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

// ErrorClass buckets a failure from an external call.
type ErrorClass string

const (
	ClassTimeout        ErrorClass = "timeout"
	ClassNetwork        ErrorClass = "network"
	ClassRateLimit      ErrorClass = "rate_limit"
	ClassServerError    ErrorClass = "server_error"
	ClassAuth           ErrorClass = "auth"
	ClassNotFound       ErrorClass = "not_found"
	ClassInvalidRequest ErrorClass = "invalid_request"
	ClassUnknown        ErrorClass = "unknown"
)

// Retryable reports whether a failure of this class is worth retrying.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ClassTimeout, ClassNetwork, ClassRateLimit, ClassServerError:
		return true
	default:
		return false
	}
}

// StatusError carries an HTTP status returned by an external system so the
// classifier can bucket it without string matching.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return "unexpected status " + http.StatusText(e.Status) + ": " + e.Body
}

// Classify buckets err into an ErrorClass. It checks typed errors first
// (context deadlines, net errors, StatusError) and falls back to message
// heuristics for errors that cross process boundaries as strings.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ClassTimeout
	}

	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.Status)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ClassNetwork
	}

	return classifyMessage(err.Error())
}

func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusNotFound:
		return ClassNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ClassTimeout
	case status >= 500:
		return ClassServerError
	case status >= 400:
		return ClassInvalidRequest
	default:
		return ClassUnknown
	}
}

func classifyMessage(msg string) ErrorClass {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "timeout") || strings.Contains(m, "timed out") || strings.Contains(m, "deadline exceeded"):
		return ClassTimeout
	case strings.Contains(m, "rate limit") || strings.Contains(m, "too many requests") || strings.Contains(m, "429"):
		return ClassRateLimit
	case strings.Contains(m, "connection refused") || strings.Contains(m, "connection reset") ||
		strings.Contains(m, "no such host") || strings.Contains(m, "broken pipe") ||
		strings.Contains(m, "network is unreachable"):
		return ClassNetwork
	case strings.Contains(m, "unauthorized") || strings.Contains(m, "forbidden") ||
		strings.Contains(m, "invalid api key") || strings.Contains(m, "authentication"):
		return ClassAuth
	case strings.Contains(m, "not found") || strings.Contains(m, "404"):
		return ClassNotFound
	case strings.Contains(m, "bad request") || strings.Contains(m, "invalid request") || strings.Contains(m, "validation"):
		return ClassInvalidRequest
	case strings.Contains(m, "internal server error") || strings.Contains(m, "service unavailable") ||
		strings.Contains(m, "bad gateway") || strings.Contains(m, "502") || strings.Contains(m, "503"):
		return ClassServerError
	default:
		return ClassUnknown
	}
}
