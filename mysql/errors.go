package mysql

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrColumnNotFound is wrapped by Result.ColumnIndex on a lookup
	// miss.
	ErrColumnNotFound = errors.New("mysql: column not found")

	// ErrRowIndexOutOfRange is wrapped by the bounds-checked result
	// accessors.
	ErrRowIndexOutOfRange = errors.New("mysql: row or column index out of range")

	// ErrBatchUnsupported is the panic value of ExecBatch: the text
	// protocol client has no batch mode, and invoking it is a contract
	// violation.
	ErrBatchUnsupported = errors.New("mysql: batch mode is not supported")
)

// Error is a failed operation's server (or client-side) error: the
// numeric code, the SQLSTATE where the server supplied one, the
// message, and - for query failures - the rendered SQL that was in
// flight.
type Error struct {
	Code     uint16
	SQLState string
	Message  string
	SQL      string
}

func (e *Error) Error() string {
	if e.SQLState != "" {
		return fmt.Sprintf("mysql: error %d [%s]: %s", e.Code, e.SQLState, e.Message)
	}
	return fmt.Sprintf("mysql: error %d: %s", e.Code, e.Message)
}

// ServerGone reports whether the error means the server connection is
// unusable (gone away / lost); the connection transitions to Bad.
func (e *Error) ServerGone() bool {
	return e.Code == crServerGoneError || e.Code == crServerLost
}

// Is matches any *Error with the same code, so callers can test for
// specific server errors with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// clientError builds a client-side Error (no SQLSTATE).
func clientError(code uint16, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
