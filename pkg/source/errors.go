package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AuthenticationError reports that the platform rejected the configured credentials.
type AuthenticationError struct {
	Platform Platform
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication rejected [%s]: %v", e.Platform, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// SourceNotFoundError reports that a handle or URL resolved to nothing.
type SourceNotFoundError struct {
	Platform Platform
	Handle   string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source not found [%s]: %s", e.Platform, e.Handle)
}

// TransientFetchError wraps a retryable network or timeout failure.
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error %s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// LayoutChangedError reports that none of the page lookup strategies matched.
type LayoutChangedError struct {
	URL      string
	Tried    []string
	Snapshot string // debug artifact path, empty if it could not be written
}

func (e *LayoutChangedError) Error() string {
	msg := fmt.Sprintf("page layout changed at %s: no match after %s", e.URL, strings.Join(e.Tried, ", "))
	if e.Snapshot != "" {
		msg += " (snapshot: " + e.Snapshot + ")"
	}
	return msg
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}

// ErrorKind returns a short label for err, used in logs and metrics.
func ErrorKind(err error) string {
	var (
		authErr     *AuthenticationError
		notFoundErr *SourceNotFoundError
		layoutErr   *LayoutChangedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &authErr):
		return "authentication"
	case errors.As(err, &notFoundErr):
		return "not_found"
	case errors.As(err, &layoutErr):
		return "layout_changed"
	case IsTransient(err):
		return "transient"
	}
	return "other"
}

// classifyStatus maps an HTTP status to the collector error taxonomy.
// It returns nil for 2xx statuses.
func classifyStatus(platform Platform, handle, op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthenticationError{Platform: platform, Err: fmt.Errorf("%s status %d", op, status)}
	case status == http.StatusNotFound:
		return &SourceNotFoundError{Platform: platform, Handle: handle}
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return &TransientFetchError{Op: op, Err: fmt.Errorf("status %d", status)}
	}
	return fmt.Errorf("%s status %d", op, status)
}

// classifyTransport wraps network-level failures (dial, TLS, timeout) as transient.
func classifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	// Cancellation comes from the caller and must not be retried.
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransientFetchError{Op: op, Err: err}
}
