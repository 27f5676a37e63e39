package v4l2q

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error represents a structured v4l2q error with context and errno mapping
type Error struct {
	Op    string        // Operation that failed (e.g., "REQBUFS", "QBUF")
	Queue QueueType     // Queue the operation targeted (0 if not applicable)
	Index int           // Buffer index (-1 if not applicable)
	Code  ErrorCode     // High-level error category
	Errno syscall.Errno // Kernel errno (0 if not applicable)
	Msg   string        // Human-readable message
	Inner error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Queue != 0 {
		parts = append(parts, fmt.Sprintf("queue=%s", e.Queue))
	}

	if e.Index >= 0 {
		parts = append(parts, fmt.Sprintf("index=%d", e.Index))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", int(e.Errno)))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("v4l2q: %s (%s)", msg, strings.Join(parts, " "))
	}

	return fmt.Sprintf("v4l2q: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support against sentinel values and other Errors
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	// Support bare sentinel comparison
	if se, ok := target.(V4L2Error); ok {
		return e.Code == ErrorCode(se)
	}

	// Support structured Error comparison
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	// State machine and builder violations, caught before any kernel call
	ErrCodeAlreadyAllocated ErrorCode = "buffers already allocated"
	ErrCodeNotAllocated     ErrorCode = "no buffers allocated"
	ErrCodeBuffersInUse     ErrorCode = "buffers still in use"
	ErrCodeNoFreeBuffer     ErrorCode = "no free buffer"
	ErrCodeTooFewPlanes     ErrorCode = "too few planes"
	ErrCodeTooManyPlanes    ErrorCode = "too many planes"
	ErrCodeNoBuffersQueued  ErrorCode = "no buffers queued"

	// Kernel call outcomes
	ErrCodeDeviceRejected ErrorCode = "device rejected request"
	ErrCodeWouldBlock     ErrorCode = "would block"

	// Device-level failures
	ErrCodeDeviceNotFound     ErrorCode = "device not found"
	ErrCodeDeviceBusy         ErrorCode = "device busy"
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeUnsupported        ErrorCode = "operation not supported"
	ErrCodePermissionDenied   ErrorCode = "permission denied"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeIOError            ErrorCode = "I/O error"
)

// V4L2Error is a bare sentinel error usable directly with errors.Is
type V4L2Error string

func (e V4L2Error) Error() string {
	return string(e)
}

// Sentinel values for the common failure conditions
const (
	ErrAlreadyAllocated V4L2Error = "buffers already allocated"
	ErrNotAllocated     V4L2Error = "no buffers allocated"
	ErrBuffersInUse     V4L2Error = "buffers still in use"
	ErrNoFreeBuffer     V4L2Error = "no free buffer"
	ErrTooFewPlanes     V4L2Error = "too few planes"
	ErrTooManyPlanes    V4L2Error = "too many planes"
	ErrNoBuffersQueued  V4L2Error = "no buffers queued"
	ErrDeviceRejected   V4L2Error = "device rejected request"
	ErrWouldBlock       V4L2Error = "would block"
	ErrDeviceNotFound   V4L2Error = "device not found"
	ErrDeviceBusy       V4L2Error = "device busy"
	ErrUnsupported      V4L2Error = "operation not supported"
	ErrPermissionDenied V4L2Error = "permission denied"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Index: -1,
		Code:  code,
		Msg:   msg,
	}
}

// NewQueueError creates a new queue-scoped error
func NewQueueError(op string, queue QueueType, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Queue: queue,
		Index: -1,
		Code:  code,
		Msg:   msg,
	}
}

// NewBufferError creates a new error scoped to one buffer index
func NewBufferError(op string, queue QueueType, index int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Queue: queue,
		Index: index,
		Code:  code,
		Msg:   msg,
	}
}

// WrapError wraps an existing error with v4l2q context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	if ve, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			Queue: ve.Queue,
			Index: ve.Index,
			Code:  ve.Code,
			Errno: ve.Errno,
			Msg:   ve.Msg,
			Inner: ve.Inner,
		}
	}

	// Map kernel errnos to error codes
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Index: -1,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Index: -1,
		Code:  ErrCodeIOError,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// wrapDeviceError reports a kernel rejection of a buffer-queue call. EAGAIN
// from a non-blocking dequeue is the one errno surfaced as its own kind.
func wrapDeviceError(op string, queue QueueType, index int, errno syscall.Errno) *Error {
	code := ErrCodeDeviceRejected
	if errno == syscall.EAGAIN {
		code = ErrCodeWouldBlock
	}
	return &Error{
		Op:    op,
		Queue: queue,
		Index: index,
		Code:  code,
		Errno: errno,
		Msg:   errno.Error(),
		Inner: errno,
	}
}

// mapErrnoToCode maps syscall errno to v4l2q error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ENODEV, syscall.ENXIO:
		return ErrCodeDeviceNotFound
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP, syscall.ENOTTY:
		return ErrCodeUnsupported
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.EAGAIN:
		return ErrCodeWouldBlock
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Errno == errno
	}
	return false
}
