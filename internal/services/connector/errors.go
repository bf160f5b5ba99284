package connector

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/copier/internal/domain"
)

// OrderError is returned for any exchange or transport failure. Body holds the
// raw exchange response when one was received.
type OrderError struct {
	Exchange   domain.Exchange
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *OrderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.Exchange, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *OrderError) Unwrap() error { return e.Err }

// Reason returns the most useful human-readable failure description.
func (e *OrderError) Reason() string {
	if body := strings.TrimSpace(e.Body); body != "" {
		return body
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Error()
}

// Reason extracts a failure description from err, preferring the exchange's
// raw response body when err carries one.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Reason()
	}
	return err.Error()
}
