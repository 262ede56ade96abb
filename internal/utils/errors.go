package utils

import "fmt"

// AppError names the pipeline operation that failed ("approval.respond",
// "orchestrator.submit") next to a message safe to surface in audit entries
// and API responses. The wrapped error stays reachable for errors.Is checks
// against store and gateway sentinels.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError wraps a store, gateway, or executor failure with the operation
// it interrupted.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
