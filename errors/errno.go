// Errno values are a portable subset of the POSIX error codes. The syscall
// package doesn't define all of them on every platform (EUCLEAN and
// EMEDIUMTYPE in particular), so they're redefined here.

package errors

import (
	"fmt"
)

type Errno int

const (
	EOK Errno = iota
	EPERM
	ENOENT
	EIO
	EBADF
	EBUSY
	EEXIST
	ENODEV
	EINVAL
	EMFILE
	EFBIG
	ENOSPC
	ENAMETOOLONG
	ENOSYS
	EBADFD
	EUCLEAN
	EMEDIUMTYPE
)

var errorMessagesByCode = map[Errno]string{
	EOK:          "Success",
	EPERM:        "Operation not permitted",
	ENOENT:       "No such file or directory",
	EIO:          "Input/output error",
	EBADF:        "Bad file descriptor",
	EBUSY:        "Device or resource busy",
	EEXIST:       "File exists",
	ENODEV:       "No such device",
	EINVAL:       "Invalid argument",
	EMFILE:       "Too many open files",
	EFBIG:        "File too large",
	ENOSPC:       "No space left on device",
	ENAMETOOLONG: "File name too long",
	ENOSYS:       "Function not implemented",
	EBADFD:       "File descriptor in bad state",
	EUCLEAN:      "Structure needs cleaning",
	EMEDIUMTYPE:  "Wrong medium type",
}

// StrError returns the standard message for an error code.
func StrError(code Errno) string {
	message, ok := errorMessagesByCode[code]
	if ok {
		return message
	}
	return fmt.Sprintf("error %d not recognized.", int(code))
}

func (code Errno) String() string {
	return StrError(code)
}
