package errors

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DriverError is a wrapper around system errno codes, with a customizable error
// message. Two DriverErrors are considered equivalent by [errors.Is] if they
// have the same errno code, regardless of message.
type DriverError interface {
	error
	Errno() Errno
	Unwrap() error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

var ErrNotPermitted = New(EPERM)
var ErrNotFound = New(ENOENT)
var ErrIOFailed = New(EIO)
var ErrInvalidFileDescriptor = New(EBADF)
var ErrBusy = New(EBUSY)
var ErrExists = New(EEXIST)
var ErrNoDevice = New(ENODEV)
var ErrInvalidArgument = New(EINVAL)
var ErrTooManyOpenFiles = New(EMFILE)
var ErrFileTooLarge = New(EFBIG)
var ErrNoSpaceOnDevice = New(ENOSPC)
var ErrNameTooLong = New(ENAMETOOLONG)
var ErrNotImplemented = New(ENOSYS)
var ErrFileDescriptorBadState = New(EBADFD)
var ErrFileSystemCorrupted = New(EUCLEAN)
var ErrInvalidFileSystem = New(EMEDIUMTYPE)

// ErrNotMounted is returned by every volume operation other than mounting when
// no volume is mounted.
var ErrNotMounted = NewWithMessage(ENODEV, "no volume is mounted")

type driverError struct {
	errno         Errno
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e driverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return StrError(e.errno)
}

func (e driverError) Errno() Errno {
	return e.errno
}

func (e driverError) Unwrap() error {
	return e.originalError
}

// Is reports whether `target` is a [DriverError] with the same errno code.
func (e driverError) Is(target error) bool {
	other, ok := target.(DriverError)
	return ok && other.Errno() == e.errno
}

// WithMessage returns a new error with the same code, appending `message` to
// this error's message.
func (e driverError) WithMessage(message string) DriverError {
	return driverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e.originalError,
	}
}

// Wrap returns a new error with the same code whose cause chain includes both
// this error and `err`.
func (e driverError) Wrap(err error) DriverError {
	return driverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// New creates a new [DriverError] with a default message derived from the
// system's error code.
func New(errnoCode Errno) DriverError {
	return driverError{
		errno:   errnoCode,
		message: StrError(errnoCode),
	}
}

func NewFromError(errnoCode Errno, originalError error) DriverError {
	return New(errnoCode).Wrap(originalError)
}

// NewWithMessage creates a new DriverError from a system error code with a
// custom message.
func NewWithMessage(errnoCode Errno, message string) DriverError {
	return New(errnoCode).WithMessage(message)
}

// CastToDriverError returns `err` unchanged if it's already a [DriverError],
// otherwise wraps it as an I/O failure. nil stays nil.
func CastToDriverError(err error) DriverError {
	if err == nil {
		return nil
	}
	driverErr, ok := err.(DriverError)
	if ok {
		return driverErr
	}
	return ErrIOFailed.Wrap(err)
}
