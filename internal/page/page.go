// Package page defines the contract between the crawl scheduler and the
// page rendering layer.
package page

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Page is a rendered document page.
type Page struct {
	// URL is the address that was requested.
	URL string

	// FinalURL is the address after any client-side redirects.
	FinalURL string

	// HTML is the document markup after script execution settled.
	HTML string

	// Title is the document title.
	Title string

	// StatusCode is the main document response status, when known.
	StatusCode int

	// RenderTime is how long the render took.
	RenderTime time.Duration
}

// Renderer loads and renders a document page. Implementations live outside
// the crawl-control core; the scheduler only consumes this interface.
type Renderer interface {
	// Render fetches and renders the page at url, identifying itself with
	// the given user agent. Failures are reported as *Failure values; any
	// other error is treated by callers as a permanent navigation failure.
	Render(ctx context.Context, url, userAgent string) (*Page, error)

	// Close releases renderer resources.
	Close() error
}

// FailureKind is the closed set of render failure classifications.
type FailureKind int

const (
	// FailureTimeout: the page did not load within the request timeout.
	FailureTimeout FailureKind = iota
	// FailureNotFound: the document does not exist.
	FailureNotFound
	// FailureStale: the page loaded but its content went stale before it
	// could be captured.
	FailureStale
	// FailureNavigation: navigation failed for a reason retrying cannot fix.
	FailureNavigation
)

func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureNotFound:
		return "not_found"
	case FailureStale:
		return "stale"
	case FailureNavigation:
		return "navigation"
	}
	return "unknown"
}

// Failure is a typed render failure.
type Failure struct {
	Kind FailureKind
	URL  string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("render %s: %s", f.URL, f.Kind)
	}
	return fmt.Sprintf("render %s: %s: %v", f.URL, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Transient reports whether the failure is expected to potentially succeed
// on retry.
func (f *Failure) Transient() bool {
	return f.Kind == FailureTimeout || f.Kind == FailureStale
}

// Classify maps an arbitrary render error onto the closed failure set.
// Errors that are not already a *Failure become permanent navigation
// failures.
func Classify(url string, err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailureTimeout, URL: url, Err: err}
	}
	return &Failure{Kind: FailureNavigation, URL: url, Err: err}
}
