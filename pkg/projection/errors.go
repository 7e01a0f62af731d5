package projection

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

// Code classifies a failed filesystem operation.
type Code int

const (
	// ErrNotFound means the inode or name has no backing node.
	ErrNotFound Code = iota + 1

	// ErrIOFailure means the entry store or content source failed.
	ErrIOFailure

	// ErrNotDir means a directory operation targeted a file. Hosts see it
	// as ENOENT since no nested directories exist.
	ErrNotDir

	// ErrIsDir means a file operation targeted the root directory.
	ErrIsDir
)

func (c Code) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrIOFailure:
		return "I/O failure"
	case ErrNotDir:
		return "not a directory"
	case ErrIsDir:
		return "is a directory"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is returned by every Filesystem operation.
type Error struct {
	Code Code
	Op   string
	Ino  Inode
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s inode %d: %s: %v", e.Op, e.Ino, e.Code, e.Err)
	}
	return fmt.Sprintf("%s inode %d: %s", e.Op, e.Ino, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errno maps the error onto the host errno.
//
//	ErrNotFound  -> ENOENT
//	ErrNotDir    -> ENOENT
//	ErrIsDir     -> EISDIR
//	ErrIOFailure -> EIO
func (e *Error) Errno() syscall.Errno {
	switch e.Code {
	case ErrNotFound, ErrNotDir:
		return syscall.ENOENT
	case ErrIsDir:
		return syscall.EISDIR
	default:
		return syscall.EIO
	}
}

func notFound(op string, ino Inode, err error) *Error {
	return &Error{Code: ErrNotFound, Op: op, Ino: ino, Err: err}
}

func ioFailure(op string, ino Inode, err error) *Error {
	return &Error{Code: ErrIOFailure, Op: op, Ino: ino, Err: err}
}

// ErrnoOf returns the errno for any error produced by this package. Errors
// that did not originate here (context cancellation included) map to EIO,
// except context.Canceled which maps to EINTR.
func ErrnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var perr *Error
	if errors.As(err, &perr) {
		if isCanceled(perr.Err) {
			return syscall.EINTR
		}
		return perr.Errno()
	}
	if isCanceled(err) {
		return syscall.EINTR
	}
	return syscall.EIO
}

// IsNotFound reports whether err is a projection not-found error.
func IsNotFound(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && (perr.Code == ErrNotFound || perr.Code == ErrNotDir)
}

// IsIOFailure reports whether err is a projection I/O failure.
func IsIOFailure(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Code == ErrIOFailure
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
