package remote

import (
	"errors"
	"fmt"
)

// SyncErrorCode categorizes sync failures.
type SyncErrorCode string

const (
	// CodeNotConfigured means no remote backend is set up.
	CodeNotConfigured SyncErrorCode = "NOT_CONFIGURED"

	// CodeNotAuthenticated means there is no signed-in user.
	CodeNotAuthenticated SyncErrorCode = "NOT_AUTHENTICATED"

	// CodeNetwork covers transport and server failures. The local log stays
	// usable and the operation can be retried.
	CodeNetwork SyncErrorCode = "NETWORK"

	// CodeDecode means one remote record could not be decoded.
	CodeDecode SyncErrorCode = "DECODE"
)

var (
	ErrNotConfigured    = errors.New("sync backend not configured")
	ErrNotAuthenticated = errors.New("not signed in")
)

// SyncError is the typed failure of a remote operation.
type SyncError struct {
	Code SyncErrorCode

	// Op names the failing operation, e.g. "insert" or "since".
	Op string

	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func codeOf(err error) (SyncErrorCode, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}

// IsNotConfigured reports whether err is a CodeNotConfigured SyncError.
func IsNotConfigured(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeNotConfigured
}

// IsNotAuthenticated reports whether err is a CodeNotAuthenticated SyncError.
func IsNotAuthenticated(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeNotAuthenticated
}

// IsNetwork reports whether err is a CodeNetwork SyncError.
func IsNetwork(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeNetwork
}

// IsDecode reports whether err is a CodeDecode SyncError.
func IsDecode(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeDecode
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(op string, err error) *SyncError {
	return &SyncError{Code: CodeNetwork, Op: op, Err: err}
}

// NewDecodeError wraps a record decode failure.
func NewDecodeError(op string, err error) *SyncError {
	return &SyncError{Code: CodeDecode, Op: op, Err: err}
}

func notConfigured(op string) *SyncError {
	return &SyncError{Code: CodeNotConfigured, Op: op, Err: ErrNotConfigured}
}

func notAuthenticated(op string) *SyncError {
	return &SyncError{Code: CodeNotAuthenticated, Op: op, Err: ErrNotAuthenticated}
}
