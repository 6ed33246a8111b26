package errprocess

import (
	"context"
	"errors"
	"fmt"
)

// Kind classify error
type Kind string

const (
	// Unauthorized bad or missing credential
	Unauthorized Kind = "unauthorized"
	// NotAMember actor can not act in the room
	NotAMember Kind = "not_a_member"
	// NotAuthor mutation of a message by someone other than its sender
	NotAuthor Kind = "not_author"
	// NotOwner mutation of a notification by someone other than its recipient
	NotOwner Kind = "not_owner"
	// InvalidReply reply target does not resolve in the room
	InvalidReply Kind = "invalid_reply"
	// NotFound record absent or deleted
	NotFound Kind = "not_found"
	// BadRequest malformed frame or input
	BadRequest Kind = "bad_request"
	// SlowConsumer outbound queue overflow
	SlowConsumer Kind = "slow_consumer"
	// Transient store or bus temporarily unavailable
	Transient Kind = "transient"
)

// ErrNotFound returned by repositories when a record does not exist
var ErrNotFound = New(NotFound, "record not found")

// Error carry a Kind with a human readable detail
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// New create Error
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf create Error with format detail
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attach kind to err; an err that already carries a kind keeps it
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Detail: err.Error(), Err: err}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is match by kind, so errors.Is(err, errprocess.ErrNotFound) works for any NotFound
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf return the kind of err, "" when err carries none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// DetailOf return the human readable part of err
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return err.Error()
}

// IsRetryable report whether err is worth retrying: Transient or an unclassified driver error
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case Transient, "":
		return true
	default:
		return false
	}
}
