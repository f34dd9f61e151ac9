package apiclient

import (
	"fmt"
	"time"

	"github.com/staysense/staysense-go/internal/errors"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string // "error" field of the body, if any
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: status %d (%s)", e.Method, e.Path, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// RejectionError is a permanent business-rule rejection of a signal.
// Retrying it cannot succeed.
type RejectionError struct {
	Code          string
	NextAllowedAt time.Time // zero when the server gave no time
}

func (e *RejectionError) Error() string {
	if e.NextAllowedAt.IsZero() {
		return "signal rejected: " + e.Code
	}
	return fmt.Sprintf("signal rejected: %s, next allowed at %s", e.Code, e.NextAllowedAt.Format(time.RFC3339))
}

// AsRejection returns the permanent rejection in err's chain, if any.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// IsPermanentCode reports whether a signal error code must not be retried.
func IsPermanentCode(code string) bool {
	return code == CodeCooldownActive || code == CodeDailyLimit
}
