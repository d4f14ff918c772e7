package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes execution failures.
type ErrorCode string

const (
	// ErrCodeInvalidParams indicates the execution parameters were rejected.
	ErrCodeInvalidParams ErrorCode = "INVALID_PARAMS"

	// ErrCodePlanNotFound indicates the plan store has no such plan.
	ErrCodePlanNotFound ErrorCode = "PLAN_NOT_FOUND"

	// ErrCodePlanStoreFailure indicates the plan could not be read.
	ErrCodePlanStoreFailure ErrorCode = "PLAN_STORE_FAILURE"

	// ErrCodeDataSourceFailure indicates the transaction source failed or
	// timed out.
	ErrCodeDataSourceFailure ErrorCode = "DATA_SOURCE_FAILURE"

	// ErrCodeCanceled indicates the caller's context ended the run.
	ErrCodeCanceled ErrorCode = "CANCELED"

	// ErrCodePanic indicates a stage panicked.
	ErrCodePanic ErrorCode = "PANIC"

	// ErrCodePersistenceFailure indicates a production result could not be
	// saved or the plan could not be marked executed.
	ErrCodePersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"
)

// ExecutionError describes why an execution failed.
type ExecutionError struct {
	Code        ErrorCode
	Message     string
	ExecutionID string
	PlanID      string
	Err         error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ExecutionID != "" {
		msg = fmt.Sprintf("%s (execution=%s)", msg, e.ExecutionID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first ExecutionError in err's chain, or
// "" when there is none.
func CodeOf(err error) ErrorCode {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsPlanNotFound reports whether err is a missing-plan failure.
func IsPlanNotFound(err error) bool {
	return CodeOf(err) == ErrCodePlanNotFound
}

// IsDataSourceFailure reports whether err is a transaction source failure.
func IsDataSourceFailure(err error) bool {
	return CodeOf(err) == ErrCodeDataSourceFailure
}

// IsPersistenceFailure reports whether err is a production write failure.
func IsPersistenceFailure(err error) bool {
	return CodeOf(err) == ErrCodePersistenceFailure
}
