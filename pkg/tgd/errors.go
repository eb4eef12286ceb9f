package tgd

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrConnectionPoolClosed is returned when a connection pool shutdown has been triggered.
	// You can check for this error with errors.Is.
	ErrConnectionPoolClosed = errors.New("connection pool closed")

	// ErrDriverClosed is returned when operations are attempted on a closed driver.
	ErrDriverClosed = errors.New("driver closed")

	// ErrSessionClosed is returned when running on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrConnectionBroken marks protocol-level fatal failures observed mid-operation.
	// A connection carrying it is discarded, never pooled.
	ErrConnectionBroken = errors.New("connection broken")
)

// ConfigurationError is fatal, never retried, and surfaced at construction:
// bad URI scheme, bad trust strategy, certificate loading failure.
type ConfigurationError struct {
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// NewConfigurationError builds a ConfigurationError without a cause.
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// WrapConfigurationError attaches an underlying cause (IO, crypto) so callers
// need not distinguish it.
func WrapConfigurationError(cause error, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ServiceUnavailableError means no reachable server/router could serve the
// requested role after all pooling and routing retries were exhausted. The
// last underlying cause is preserved, not masked.
type ServiceUnavailableError struct {
	Message string
	Cause   error
}

func (e *ServiceUnavailableError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Cause }

// TransientError is a server-reported condition where the same operation may
// succeed if retried (overloaded, temporarily unavailable).
type TransientError struct {
	Code    string
	Message string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure %s: %s", e.Code, e.Message)
}

// SessionExpiredError is reported when a write lands on a server that is no
// longer the writer (leader changed). The routing driver treats it like a
// connectivity failure: drop the table, refresh, retry.
type SessionExpiredError struct {
	Message string
}

func (e *SessionExpiredError) Error() string { return e.Message }

// ProtocolError marks a malformed response to the cluster topology query.
// Fatal for the refresh that observed it.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

// isFatalToConnection reports whether the connection that produced err must
// be discarded rather than returned to the idle set.
func isFatalToConnection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionBroken) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isRetryableFailure reports whether the routing driver should fail over to
// another candidate instead of surfacing err.
func isRetryableFailure(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var expired *SessionExpiredError
	if errors.As(err, &expired) {
		return true
	}
	var unavailable *ServiceUnavailableError
	if errors.As(err, &unavailable) {
		return true
	}
	return isFatalToConnection(err)
}

// isWriterLoss reports whether err indicates the target stopped being the
// writer, which additionally invalidates the shared routing table.
func isWriterLoss(err error) bool {
	var expired *SessionExpiredError
	return errors.As(err, &expired)
}
