// Package apperr classifies failures into the categories callers act on:
// bad input, missing resources, state conflicts, permission problems and
// everything else. Handlers map a Kind to an HTTP status; nothing else in
// the code base should inspect error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the category of an error
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified error with a stable machine-readable code
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// New creates a classified error
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two errors with the same code, so sentinels work with errors.Is
// even after Wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e carrying cause
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// WithMessage returns a copy of e with a more specific message
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// KindOf returns the kind of err, KindInternal when err is not classified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the classified error from err
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Validation
var (
	ErrInvalidInput     = New(KindValidation, "VALIDATION_ERROR", "invalid input")
	ErrInvalidEmail     = New(KindValidation, "INVALID_EMAIL", "invalid email address")
	ErrInvalidPhone     = New(KindValidation, "INVALID_PHONE", "invalid phone number")
	ErrMissingName      = New(KindValidation, "NAME_REQUIRED", "name is required")
	ErrContactMethod    = New(KindValidation, "INVALID_CONTACT_METHOD", "contact method must be email or phone")
	ErrUnrecognizedCode = New(KindValidation, "UNRECOGNIZED_CODE", "scanned code is not recognized")
	ErrFileTooLarge     = New(KindValidation, "FILE_TOO_LARGE", "file is too large (max 5MB)")
	ErrNotAnImage       = New(KindValidation, "NOT_AN_IMAGE", "file must be an image")
)

// Authentication and authorization
var (
	ErrUnauthorized       = New(KindUnauthorized, "UNAUTHORIZED", "authentication required")
	ErrInvalidCredentials = New(KindUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
	ErrInvalidToken       = New(KindUnauthorized, "INVALID_TOKEN", "invalid or expired token")
	ErrForbidden          = New(KindForbidden, "FORBIDDEN", "operation not allowed")
	ErrNotQueueOwner      = New(KindForbidden, "NOT_QUEUE_OWNER", "queue does not belong to your company")
	ErrCustomersOnly      = New(KindForbidden, "CUSTOMERS_ONLY", "only customers can join a queue")
	ErrBusinessOnly       = New(KindForbidden, "BUSINESS_ONLY", "only business accounts can do this")
)

// Not found
var (
	ErrCompanyNotFound = New(KindNotFound, "COMPANY_NOT_FOUND", "company not found or inactive")
	ErrQueueNotFound   = New(KindNotFound, "QUEUE_NOT_FOUND", "queue not found")
	ErrProfileNotFound = New(KindNotFound, "PROFILE_NOT_FOUND", "profile not found")
	ErrEntryNotFound   = New(KindNotFound, "ENTRY_NOT_FOUND", "queue entry not found")
)

// Conflicts
var (
	ErrAlreadyInQueue    = New(KindConflict, "ALREADY_IN_QUEUE", "already has an active entry in this queue")
	ErrNothingToCall     = New(KindConflict, "NOTHING_TO_CALL", "no waiting entry to call")
	ErrInvalidTransition = New(KindConflict, "INVALID_TRANSITION", "entry is not in the expected state")
	ErrQueueFull         = New(KindConflict, "QUEUE_FULL", "queue has reached its capacity")
	ErrQueueInactive     = New(KindConflict, "QUEUE_INACTIVE", "queue is not active")
	ErrEmailTaken        = New(KindConflict, "EMAIL_EXISTS", "an account with this email already exists")
	ErrCompanyExists     = New(KindConflict, "COMPANY_EXISTS", "this account already owns a company")
	ErrNotACustomer      = New(KindValidation, "NOT_A_CUSTOMER", "scanned code does not belong to a customer")
	ErrPositionConflict  = New(KindConflict, "POSITION_CONFLICT", "concurrent join collided, retry")
)
