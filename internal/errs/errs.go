package errs

import (
	"errors"
	"fmt"
)

const (
	CodeCapacityExceeded = "CAPACITY_EXCEEDED"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeSurfaceGone      = "SURFACE_GONE"
	CodeNoInputFound     = "NO_INPUT_FOUND"
	CodeScriptExecution  = "SCRIPT_EXECUTION_ERROR"
	CodePageNotReady     = "PAGE_NOT_READY"
	CodeLayoutDrift      = "LAYOUT_DRIFT"
	CodeCDPUnavailable   = "CDP_UNAVAILABLE"
	CodeEvalTimeout      = "EVAL_TIMEOUT"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func New(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the code of the first CodedError in err's chain, or "".
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

func Is(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the human-readable message without the code prefix.
func MessageOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		if coded.Cause != nil {
			return coded.Message + ": " + coded.Cause.Error()
		}
		return coded.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
