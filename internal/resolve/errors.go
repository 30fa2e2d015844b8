package resolve

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

var (
	ErrEventNotFound      = errors.New("event not found")
	ErrVersionConflict    = errors.New("event version conflict")
	ErrDuplicateSignature = errors.New("event signature already exists")
)

// DataQualityWarning marks input that was accepted with best-effort defaults.
type DataQualityWarning struct {
	Field   string
	Message string
}

func (w DataQualityWarning) Error() string {
	if w.Field == "" {
		return "data quality: " + w.Message
	}
	return fmt.Sprintf("data quality: %s: %s", w.Field, w.Message)
}

// TransientError wraps a failure that may succeed when retried.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalConfigurationError aborts a batch before any article is processed.
type FatalConfigurationError struct {
	Reason string
}

func (e *FatalConfigurationError) Error() string {
	return "fatal configuration: " + e.Reason
}

func IsFatalConfiguration(err error) bool {
	var target *FatalConfigurationError
	return errors.As(err, &target)
}

// IsTransient reports whether err is worth retrying at a storage call site.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"too many connections",
		"deadlock detected",
		"could not serialize access",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
