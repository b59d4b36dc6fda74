package channel

import (
	"errors"
	"fmt"
)

var (
	ErrChannelNotFound    = errors.New("channel not found")
	ErrNoChannelAvailable = errors.New("no active channel available")
)

// SendErrorKind classifies adapter send failures.
type SendErrorKind int

const (
	SendUnknown SendErrorKind = iota
	SendNotConnected
	SendTimeout
	SendRejected
)

func (k SendErrorKind) String() string {
	switch k {
	case SendNotConnected:
		return "not_connected"
	case SendTimeout:
		return "timeout"
	case SendRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// SendError wraps a transport failure with its classification.
//
// Rejected is terminal (address/content level, no failover); everything else
// is transient and triggers channel failover.
type SendError struct {
	Kind SendErrorKind
	Err  error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return "send failed: " + e.Kind.String()
	}
	return fmt.Sprintf("send failed (%s): %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Transient() bool { return e.Kind != SendRejected }

func sendErr(kind SendErrorKind, err error) *SendError {
	return &SendError{Kind: kind, Err: err}
}

// IsTransient reports whether err is a transient send failure.
// Non-SendError errors are treated as transient (unclassified transport noise).
func IsTransient(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return true
}
