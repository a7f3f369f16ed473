package domain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup          ErrorCode = "startup"
	ErrorCodeDevice           ErrorCode = "device"
	ErrorCodeTransientBackend ErrorCode = "transient_backend"
	ErrorCodeFatalBackend     ErrorCode = "fatal_backend"
	ErrorCodeModelAcquisition ErrorCode = "model_acquisition"
	ErrorCodeClipboard        ErrorCode = "clipboard"
	ErrorCodePaste            ErrorCode = "paste"
)

// Error carries a taxonomy code alongside the failing operation.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a code. A nil err still produces an error.
func NewError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func DeviceError(op string, err error) error {
	return NewError(ErrorCodeDevice, op, err)
}

func TransientBackendError(op string, err error) error {
	return NewError(ErrorCodeTransientBackend, op, err)
}

func FatalBackendError(op string, err error) error {
	return NewError(ErrorCodeFatalBackend, op, err)
}

func ModelAcquisitionError(op string, err error) error {
	return NewError(ErrorCodeModelAcquisition, op, err)
}

func ClipboardError(op string, err error) error {
	return NewError(ErrorCodeClipboard, op, err)
}

func PasteError(op string, err error) error {
	return NewError(ErrorCodePaste, op, err)
}

// CodeOf returns the outermost taxonomy code in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return ""
}

// IsTransient reports whether err may succeed on a later attempt.
func IsTransient(err error) bool {
	return CodeOf(err) == ErrorCodeTransientBackend
}
