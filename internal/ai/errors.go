package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
)

// StatusError is a non-2xx response from a provider HTTP API.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.Status, e.Body)
}

// IsRateLimited reports whether err stems from a 429 or a quota message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, appErr.ErrTooMany) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "rate limit")
}

// classify wraps network failures, timeouts, 429 and 5xx responses as
// transient errors. Other errors pass through unchanged.
func classify(op string, err error) error {
	if err == nil || appErr.IsTransient(err) {
		return err
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return appErr.Transient(op, fmt.Errorf("%w: %v", appErr.ErrTimeout, err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return appErr.Transient(op, err)
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Status == http.StatusTooManyRequests || se.Status >= http.StatusInternalServerError {
			return appErr.Transient(op, err)
		}
		return err
	}
	if IsRateLimited(err) {
		return appErr.Transient(op, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unavailable") || strings.Contains(msg, "503") || strings.Contains(msg, "deadline") {
		return appErr.Transient(op, err)
	}
	return err
}
