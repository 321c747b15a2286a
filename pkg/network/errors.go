package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	ErrorKindRefused ErrorKind = iota + 1
	ErrorKindTimeout
	ErrorKindReset
	ErrorKindClosed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindRefused:
		return "refused"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindReset:
		return "reset"
	case ErrorKindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionError is a transient transport failure.
type ConnectionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection %s", e.Kind)
	}
	return fmt.Sprintf("connection %s: %v", e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a ConnectionError of the given kind.
func IsConnectionError(err error, kind ErrorKind) bool {
	var e *ConnectionError
	return errors.As(err, &e) && e.Kind == kind
}

// ErrClosed is returned by operations on a manager that has been closed.
var ErrClosed = errors.New("connection manager closed")

// ErrHeartbeatTimeout is the reason recorded when the watchdog degrades a silent session.
var ErrHeartbeatTimeout = errors.New("no activity within heartbeat timeout")

// ErrResync is the reason recorded when a caller asks for a fresh handshake.
var ErrResync = errors.New("resync requested")

// NotReadyError is returned when an operation needs a Ready session.
type NotReadyError struct {
	State State
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("session is %s", e.State)
}

// IsNotReady reports whether err is or wraps a *NotReadyError.
func IsNotReady(err error) bool {
	var e *NotReadyError
	return errors.As(err, &e)
}

// Permanent is implemented by errors that must not be retried, such as a
// server rejecting credentials.
type Permanent interface {
	Permanent() bool
}

// IsPermanent reports whether any error in err's chain is permanent.
func IsPermanent(err error) bool {
	var p Permanent
	return errors.As(err, &p) && p.Permanent()
}

// classify wraps a raw transport error in a ConnectionError. Errors that are
// already classified, permanent, or context cancellations pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectionError
	if errors.As(err, &ce) || IsPermanent(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	switch {
	case errors.Is(err, ErrHeartbeatTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded):
		return &ConnectionError{Kind: ErrorKindTimeout, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &ConnectionError{Kind: ErrorKindRefused, Err: err}
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, ErrResync):
		return &ConnectionError{Kind: ErrorKindClosed, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &ConnectionError{Kind: ErrorKindTimeout, Err: err}
	}
	return &ConnectionError{Kind: ErrorKindReset, Err: err}
}
