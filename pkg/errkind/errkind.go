// Package errkind defines the stable error taxonomy that crosses every
// component boundary in GraphCore, from the storage engine up through the
// query executor and out to the client query API.
//
// Every error that can reach a caller outside its originating package is
// wrapped in a *Error carrying one of the Kind constants below. Callers
// should dispatch on Kind (via errors.As), never on Error()'s message text,
// since the message is free-form and may change.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is a stable, user-visible error classification. The set is closed —
// adding a new Kind is a compatibility-affecting change, since client query
// API responses carry Kind as a string (see pkg/session).
type Kind string

const (
	SyntaxError              Kind = "SyntaxError"
	Semantic                 Kind = "Semantic"
	Runtime                  Kind = "Runtime"
	LockTimeout               Kind = "LockTimeout"
	NoActiveTransaction      Kind = "NoActiveTransaction"
	TransactionAborted       Kind = "TransactionAborted"
	OutOfSpace               Kind = "OutOfSpace"
	CatalogCorruption        Kind = "CatalogCorruption"
	WalCorruption            Kind = "WalCorruption"
	IndexCorruption          Kind = "IndexCorruption"
	ReplicationProtocol      Kind = "ReplicationProtocol"
	ReplicationEpochRegression Kind = "ReplicationEpochRegression"
	SyncQuorumTimeout        Kind = "SyncQuorumTimeout"
	DeleteNodeWithRelationships Kind = "DeleteNodeWithRelationships"
	UnknownSession           Kind = "UnknownSession"
	SessionExpired           Kind = "SessionExpired"
	InvalidArgument          Kind = "InvalidArgument"
)

// Error is the concrete error type carried across component boundaries.
// It wraps an optional underlying cause while pinning a stable Kind and a
// human-readable Message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error carrying kind and message, wrapping cause for
// errors.Is/errors.As chains while keeping the boundary-facing Kind stable.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of extracts the Kind of err if it is, or wraps, an *Error. Returns
// (Runtime, false) when err carries no GraphCore error kind.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Runtime, false
}

// Is reports whether err's Kind (if any) equals kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
