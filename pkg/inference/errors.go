package inference

import (
	"errors"
	"fmt"
)

// SetupError reports a missing or unusable setup parameter.
type SetupError struct {
	MissingKey string
	InvalidKey string
	Reason     string
}

func (e *SetupError) Error() string {
	if e.MissingKey != "" {
		return "missing required setup key: " + e.MissingKey
	}
	return fmt.Sprintf("invalid setup key %s: %s", e.InvalidKey, e.Reason)
}

type HandshakeErrorKind int

const (
	HandshakeAuthRejected HandshakeErrorKind = iota + 1
	HandshakeRulesetMismatch
)

func (k HandshakeErrorKind) String() string {
	switch k {
	case HandshakeAuthRejected:
		return "auth rejected"
	case HandshakeRulesetMismatch:
		return "ruleset mismatch"
	default:
		return "unknown"
	}
}

// HandshakeError is a login rejected by the server. It is never retried.
type HandshakeError struct {
	Kind   HandshakeErrorKind
	Reason string
}

func (e *HandshakeError) Error() string {
	if e.Reason == "" {
		return "handshake failed: " + e.Kind.String()
	}
	return fmt.Sprintf("handshake failed: %s: %s", e.Kind, e.Reason)
}

func (e *HandshakeError) Permanent() bool {
	return true
}

type ActionErrorKind int

const (
	ActionRejected ActionErrorKind = iota + 1
	ActionNotConnected
	ActionInvalidTarget
)

func (k ActionErrorKind) String() string {
	switch k {
	case ActionRejected:
		return "rejected"
	case ActionNotConnected:
		return "not connected"
	case ActionInvalidTarget:
		return "invalid target"
	default:
		return "unknown"
	}
}

type ActionError struct {
	Kind   ActionErrorKind
	Reason string
	Err    error
}

func (e *ActionError) Error() string {
	msg := "action " + e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// IsActionError reports whether err is an *ActionError of the given kind.
func IsActionError(err error, kind ActionErrorKind) bool {
	var e *ActionError
	return errors.As(err, &e) && e.Kind == kind
}

// IncompatibleVersionError is returned when a save was written by a newer schema.
type IncompatibleVersionError struct {
	Found     int
	Supported int
}

func (e *IncompatibleVersionError) Error() string {
	return fmt.Sprintf("save schema version %d is newer than supported version %d", e.Found, e.Supported)
}
