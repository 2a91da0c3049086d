package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/audit"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/identity"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/repository"
)

// Kind classifies why a command was rejected. Kinds are themselves errors so
// callers can test with errors.Is(err, service.ErrConflict).
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	ErrAuthentication Kind = "authentication"
	ErrAuthorization  Kind = "authorization"
	ErrValidation     Kind = "validation"
	ErrConflict       Kind = "conflict"
	ErrNotFound       Kind = "not_found"
	ErrPersistence    Kind = "persistence"
	ErrChainIntegrity Kind = "chain_integrity"
)

// ErrAuditPending is wrapped into the Error returned when a state change was
// committed but its audit record could not be written yet.
var ErrAuditPending = errors.New("state committed, audit record pending")

// Error is the rejection returned by every coordinator operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	// Degraded is set when the durable write succeeded but a later step did not.
	Degraded bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func wrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind carried by err. Errors from outside the taxonomy are
// reported as persistence failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ErrPersistence
}

// IsDegraded reports whether err describes a committed change with a missing audit record.
func IsDegraded(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Degraded
}

// classify maps lower-layer errors onto the taxonomy.
func classify(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &Error{Kind: ErrNotFound, Op: op, Message: "not found", Err: err}
	case repository.IsLockError(err):
		return &Error{Kind: ErrConflict, Op: op, Message: err.Error(), Err: err}
	case errors.Is(err, audit.ErrChainBroken):
		return wrapError(ErrChainIntegrity, op, err)
	case errors.Is(err, identity.ErrMissingToken), errors.Is(err, identity.ErrInvalidToken):
		return wrapError(ErrAuthentication, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: ErrPersistence, Op: op, Message: "operation timed out", Err: err}
	default:
		return wrapError(ErrPersistence, op, err)
	}
}
