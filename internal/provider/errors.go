package provider

import (
	"fmt"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/resilience"
)

const previewLen = 200

var (
	// ErrMissingAPIKey marks a degraded result produced without an upstream
	// call because the backend has no credentials.
	ErrMissingAPIKey = eris.New("provider: missing API key")
	// ErrNoImageData is returned when an image call succeeds without bytes.
	ErrNoImageData = eris.New("provider: response contained no image data")
	// ErrUnsupported is returned for capabilities a backend does not offer.
	ErrUnsupported = eris.New("provider: capability not supported")
)

// UpstreamHTTPError is a non-2xx answer from a backend.
type UpstreamHTTPError struct {
	Provider   Kind
	StatusCode int
	Body       string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("%s: upstream returned HTTP %d: %s", e.Provider, e.StatusCode, preview(e.Body))
}

// upstreamError builds an UpstreamHTTPError, marking retryable statuses as
// transient.
func upstreamError(kind Kind, status int, body string) error {
	err := &UpstreamHTTPError{Provider: kind, StatusCode: status, Body: body}
	if resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(err, status)
	}
	return err
}

// UnparsableResponseError is returned when JSON was required and the answer
// could not be decoded.
type UnparsableResponseError struct {
	Provider Kind
	Task     model.Task
	Preview  string
	Err      error
}

func (e *UnparsableResponseError) Error() string {
	return fmt.Sprintf("%s: unparsable %s response: %q", e.Provider, e.Task, e.Preview)
}

func (e *UnparsableResponseError) Unwrap() error { return e.Err }

// IncompatibleModelError is returned before any network call when the model
// cannot produce the task's output.
type IncompatibleModelError struct {
	Provider Kind
	Task     model.Task
	Model    string
	Marker   string
}

func (e *IncompatibleModelError) Error() string {
	return fmt.Sprintf("%s: model %q cannot serve %s (matches %q)", e.Provider, e.Model, e.Task, e.Marker)
}

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
