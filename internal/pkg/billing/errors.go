package billing

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so callers can map them to a response
// without string matching.
type Kind string

const (
	KindInvalidInput            Kind = "invalid_input"
	KindExternalProvider        Kind = "external_provider_error"
	KindSignatureInvalid        Kind = "signature_invalid"
	KindDuplicateEvent          Kind = "duplicate_event"
	KindProvisioningStepFailure Kind = "provisioning_step_failure"
	KindPersistenceWarning      Kind = "persistence_warning"
	KindInternal                Kind = "internal"
)

// Error is the typed error returned by the billing and provisioning packages.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, ErrSignatureInvalid) works for any
// wrapped instance.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Detail == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidInput            = &Error{Kind: KindInvalidInput}
	ErrExternalProvider        = &Error{Kind: KindExternalProvider}
	ErrSignatureInvalid        = &Error{Kind: KindSignatureInvalid}
	ErrProvisioningStepFailure = &Error{Kind: KindProvisioningStepFailure}
)

func invalidInput(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func signatureInvalid(detail string) error {
	return &Error{Kind: KindSignatureInvalid, Op: "webhook.verify", Detail: detail}
}

func providerError(op string, err error) error {
	return &Error{Kind: KindExternalProvider, Op: op, Err: err}
}

// NewError builds a typed error for callers outside the package.
func NewError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err, or KindInternal when err is not typed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the human-readable detail of a typed error, falling back
// to err.Error().
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
