package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// New returns an error with the supplied message and the caller's stack.
func New(message string) error {
	return errors.New(message)
}

// NewWithReport same as New, and reports the error.
func NewWithReport(message string) error {
	err := errors.New(message)
	report(err)
	return err
}

// Errorf formats according to a format specifier and returns an error with stack.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// ErrorfAndReport same as Errorf, and reports the error.
func ErrorfAndReport(format string, args ...interface{}) error {
	err := errors.Errorf(format, args...)
	report(err)
	return err
}

// Wrap annotates err with message and stack. Returns nil if err is nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// WrapAndReport same as Wrap, and reports the error.
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, message)
	report(wrapped)
	return wrapped
}

// Wrapf annotates err with the format specifier and stack.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WrapfAndReport same as Wrapf, and reports the error.
func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrapf(err, format, args...)
	report(wrapped)
	return wrapped
}

// WithStack annotates err with the caller's stack.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// WithStackAndReport same as WithStack, and reports the error.
func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	wrapped := errors.WithStack(err)
	report(wrapped)
	return wrapped
}

// WithMessage annotates err with a new message, no stack is recorded.
func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

// WithMessageAndReport same as WithMessage, and reports the error.
func WithMessageAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.WithMessage(err, message)
	report(wrapped)
	return wrapped
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

// StackString prints the error with its recorded stack, used by log lines.
func StackString(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%+v", err)
}
