package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every error a core operation returns.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindUnauthenticated
	KindUnauthorized
	KindNotFound
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Stable reason codes surfaced to clients.
const (
	CodeNotFound            = "not_found"
	CodeRevoked             = "revoked"
	CodeExpired             = "expired"
	CodeEmailMismatch       = "email_mismatch"
	CodeProjectFull         = "project_full"
	CodeAlreadyMember       = "already_member"
	CodeAlreadyPending      = "already_pending"
	CodeNotPending          = "not_pending"
	CodeInsufficientCredits = "insufficient_credits"
	CodeOwnerCannotLeave    = "owner_cannot_leave"
	CodeInvalidTransfer     = "invalid_transfer"
	CodeInvalidRole         = "invalid_role"
	CodeInvalidAmount       = "invalid_amount"
	CodeInvalidInput        = "invalid_input"
)

// ServiceError is the error type returned across the service boundary.
type ServiceError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

func ErrUnauthenticated() error {
	return &ServiceError{Kind: KindUnauthenticated, Code: "unauthenticated", Message: "authentication required"}
}

func ErrUnauthorized(msg string) error {
	return &ServiceError{Kind: KindUnauthorized, Code: "unauthorized", Message: msg}
}

func ErrNotFound(what string) error {
	return &ServiceError{Kind: KindNotFound, Code: CodeNotFound, Message: what + " not found"}
}

func ErrValidation(code, msg string) error {
	return &ServiceError{Kind: KindValidation, Code: code, Message: msg}
}

func ErrInternal(msg string, err error) error {
	return &ServiceError{Kind: KindInternal, Code: "internal", Message: msg, Err: err}
}

// InsufficientCreditsError is a validation failure that tells the caller how
// far short the balance is.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

// KindOf returns the kind of err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	var insufficient *InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return KindValidation
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

// CodeOf returns the stable reason code of err, or "" for non-service errors.
func CodeOf(err error) string {
	var insufficient *InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return CodeInsufficientCredits
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ""
}
