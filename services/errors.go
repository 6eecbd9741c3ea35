package services

import (
	"errors"
	"fmt"

	"sekolah_absenku/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the addressed resource does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or state precondition failed
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates invalid input, including references to missing rows
	ErrValidation = errors.New("validation error")
	// ErrForbidden indicates the caller's role may not perform the operation
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates bad credentials
	ErrUnauthorized = errors.New("unauthorized")
)

// Error carries a user-facing message and the sentinel kind it unwraps to,
// so controllers can pick a status code with errors.Is.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

func notFound(format string, args ...interface{}) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...interface{}) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...interface{}) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...interface{}) error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

// internal logs an unexpected failure and wraps it with the operation name.
func internal(op string, err error) error {
	logrus.WithError(err).WithField("op", op).Error("service operation failed")
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// validateInput runs struct validation and reports failures as ErrValidation.
func validateInput(v interface{}) error {
	if err := utils.ValidateStruct(v); err != nil {
		return invalid("%s", err.Error())
	}
	return nil
}
