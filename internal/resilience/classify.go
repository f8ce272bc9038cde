// Package resilience wraps every remote call Tether makes: it classifies
// failures, retries with capped exponential backoff, keeps rolling failure
// statistics, and exposes the circuit-breaker and feature-degradation signals
// the pollers consult before doing non-essential work.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Category buckets a failure by cause.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryTimeout        Category = "timeout"
	CategoryServer         Category = "server"
	CategoryAuthentication Category = "authentication"
	CategoryValidation     Category = "validation"
	CategoryClient         Category = "client"
	CategoryUnknown        Category = "unknown"
)

// Severity grades a failure's impact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// StatusError is returned by the remote clients for non-2xx responses so the
// classifier can inspect the status code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("server returned %d", e.Code)
}

// ClassifiedError is a failure annotated with its category and severity.
type ClassifiedError struct {
	Category Category
	Severity Severity
	Err      error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Category, e.Severity, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a retry can help. Authentication failures and
// anything critical never retry; network, server and timeout failures do.
func (e *ClassifiedError) Retryable() bool {
	if e.Severity == SeverityCritical || e.Category == CategoryAuthentication {
		return false
	}
	switch e.Category {
	case CategoryNetwork, CategoryServer, CategoryTimeout:
		return true
	}
	return false
}

// Classify buckets err into a category and severity using the status code,
// the error type, and message substrings. Already-classified errors pass
// through unchanged.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Category: CategoryTimeout, Severity: SeverityMedium, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &ClassifiedError{Category: CategoryTimeout, Severity: SeverityMedium, Err: err}
		}
		return &ClassifiedError{Category: CategoryNetwork, Severity: SeverityMedium, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return &ClassifiedError{Category: CategoryTimeout, Severity: SeverityMedium, Err: err}
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "network is unreachable"):
		return &ClassifiedError{Category: CategoryNetwork, Severity: SeverityMedium, Err: err}
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid token"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "forbidden"):
		return &ClassifiedError{Category: CategoryAuthentication, Severity: SeverityCritical, Err: err}
	}

	return &ClassifiedError{Category: CategoryUnknown, Severity: SeverityMedium, Err: err}
}

func classifyStatus(err *StatusError) *ClassifiedError {
	switch {
	case err.Code == 401 || err.Code == 403:
		return &ClassifiedError{Category: CategoryAuthentication, Severity: SeverityCritical, Err: err}
	case err.Code == 408:
		return &ClassifiedError{Category: CategoryTimeout, Severity: SeverityMedium, Err: err}
	case err.Code == 422:
		return &ClassifiedError{Category: CategoryValidation, Severity: SeverityLow, Err: err}
	case err.Code == 429:
		// Over-capacity is the server's problem; back off and retry.
		return &ClassifiedError{Category: CategoryServer, Severity: SeverityMedium, Err: err}
	case err.Code >= 500:
		return &ClassifiedError{Category: CategoryServer, Severity: SeverityHigh, Err: err}
	case err.Code >= 400:
		return &ClassifiedError{Category: CategoryClient, Severity: SeverityLow, Err: err}
	}
	return &ClassifiedError{Category: CategoryUnknown, Severity: SeverityMedium, Err: err}
}
