package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// ValidationError reports rejected input. Field is empty for whole-input problems.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field string, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InvalidStateError is returned when a review transition is attempted from a
// state that does not allow it. The record is left untouched.
type InvalidStateError struct {
	ReviewId     string
	CurrentState string
	Action       string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("review %s is %s; cannot %s", e.ReviewId, e.CurrentState, e.Action)
}

func IsInvalidStateError(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se)
}

// PublishError wraps a catalog publish failure with the review it belongs to.
type PublishError struct {
	ReviewId string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish review %s: %v", e.ReviewId, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
