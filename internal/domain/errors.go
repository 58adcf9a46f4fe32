package domain

import (
	"errors"
	"fmt"
)

// Stable error codes reported to sync peers and the operator.
const (
	CodeAuth        = "AUTH"
	CodePairCode    = "PAIR_CODE"
	CodeConflict    = "CONFLICT"
	CodeRemoteNewer = "REMOTE_NEWER"
	CodeLocalNewer  = "LOCAL_NEWER"
	CodeNotFound    = "NOT_FOUND"
	CodeBadRequest  = "BAD_REQUEST"
	CodeInternal    = "INTERNAL"
)

// SyncError couples a stable code with a human-readable message. The code
// is part of the wire contract; the message is not.
type SyncError struct {
	Code    string
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewError creates a SyncError with the given code and message.
func NewError(code, message string) *SyncError {
	return &SyncError{Code: code, Message: message}
}

// WrapError attaches a code and message to an underlying error.
func WrapError(code, message string, err error) *SyncError {
	return &SyncError{Code: code, Message: message, Err: err}
}

// ErrorCode extracts the stable code from an error, defaulting to INTERNAL.
func ErrorCode(err error) string {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}
