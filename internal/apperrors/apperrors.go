// Package apperrors carries the typed failures the service layer
// returns so handlers can map them to HTTP status codes without
// string-matching error text.
package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ConflictReason names a lifecycle-state violation.
type ConflictReason string

const (
	ReasonAlreadyRedeemed     ConflictReason = "ALREADY_REDEEMED"
	ReasonNotDraft            ConflictReason = "NOT_DRAFT"
	ReasonSoldOut             ConflictReason = "SOLD_OUT"
	ReasonEventExpired        ConflictReason = "EVENT_EXPIRED"
	ReasonPaymentNotCompleted ConflictReason = "PAYMENT_NOT_COMPLETED"
	ReasonAlreadyPaid         ConflictReason = "ALREADY_PAID"
	ReasonPaymentNotPending   ConflictReason = "PAYMENT_NOT_PENDING"
	ReasonEventClosed         ConflictReason = "EVENT_CLOSED"
	ReasonRequestPending      ConflictReason = "REQUEST_PENDING"
	ReasonAlreadyReviewed     ConflictReason = "ALREADY_REVIEWED"
	ReasonAlreadyOrganizer    ConflictReason = "ALREADY_ORGANIZER"
)

// ValidationError reports every violated field at once, never just the
// first one.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("validation failed: %s", strings.Join(names, ", "))
}

// NewValidation builds a ValidationError for a single field.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

// PermissionError means the actor lacks the role or ownership an
// operation requires.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string { return e.Message }

// NewPermission builds a PermissionError with the given message.
func NewPermission(message string) *PermissionError {
	return &PermissionError{Message: message}
}

// NotFoundError means the entity or reference does not exist (or is
// not visible to the caller, which reads the same from outside).
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string { return e.Entity + " not found" }

// NewNotFound builds a NotFoundError for the named entity.
func NewNotFound(entity string) *NotFoundError {
	return &NotFoundError{Entity: entity}
}

// StateConflictError means the operation is invalid for the entity's
// current lifecycle state.
type StateConflictError struct {
	Reason  ConflictReason
	Message string
}

func (e *StateConflictError) Error() string { return e.Message }

// NewStateConflict builds a StateConflictError.
func NewStateConflict(reason ConflictReason, message string) *StateConflictError {
	return &StateConflictError{Reason: reason, Message: message}
}

// GatewayUnavailableError is a transient gateway failure. Safe to
// retry with the same reference.
type GatewayUnavailableError struct {
	Err error
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("payment gateway unavailable: %v", e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

// VerificationFailedError means the gateway explicitly rejected the
// charge. Not retryable with the same reference.
type VerificationFailedError struct {
	Reference string
}

func (e *VerificationFailedError) Error() string {
	return "payment verification failed for reference " + e.Reference
}

// Kind returns a machine-readable kind for any error, falling back to
// "internal" for unrecognised failures.
func Kind(err error) string {
	var (
		ve *ValidationError
		pe *PermissionError
		nf *NotFoundError
		sc *StateConflictError
		gu *GatewayUnavailableError
		vf *VerificationFailedError
	)
	switch {
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &pe):
		return "permission_denied"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &sc):
		return "state_conflict"
	case errors.As(err, &gu):
		return "gateway_unavailable"
	case errors.As(err, &vf):
		return "verification_failed"
	}
	return "internal"
}
