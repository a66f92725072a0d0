package auth

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeAssertionFailed   = "LINK_ASSERTION_FAILED"
	TextCodeAlreadyLinked     = "LINK_ALREADY_LINKED"
	TextCodeForceRequired     = "LINK_FORCE_REQUIRED"
	TextCodeIdentityUnclaimed = "LINK_IDENTITY_UNCLAIMED"
	TextCodeTokenNotFound     = "LINK_ONE_TIME_TOKEN_NOT_FOUND"
	TextCodeProviderNotAllow  = "LINK_PROVIDER_NOT_ALLOWED"
	TextCodeLockTimeout       = "LINK_LOCK_TIMEOUT"
	TextCodeHookFailed        = "LINK_HOOK_FAILED"
)

// ErrAssertionFailed is returned when the provider did not yield an identity.
var ErrAssertionFailed = goerrors.New("identity assertion failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeAssertionFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrAlreadyLinked is returned when the session already owns the identity,
// or another identity of the same provider type.
var ErrAlreadyLinked = goerrors.New("identity already linked to this account", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyLinked).
	WithCode(goerrors.CodeConflict)

// ErrForceRequired is returned when the identity belongs to another account
// and the caller has not confirmed the force-link.
var ErrForceRequired = goerrors.New("identity owned by another account, confirmation required", goerrors.CategoryConflict).
	WithTextCode(TextCodeForceRequired).
	WithCode(goerrors.CodeConflict)

// ErrIdentityUnclaimed is returned when an identity exists but has no owner.
var ErrIdentityUnclaimed = goerrors.New("identity not claimed by any account", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityUnclaimed).
	WithCode(goerrors.CodeNotFound)

// ErrOneTimeTokenNotFound signals that no account holds the token.
var ErrOneTimeTokenNotFound = goerrors.New("one time token not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeTokenNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrProviderNotAllowed is returned for provider types outside the allow-list.
var ErrProviderNotAllowed = goerrors.New("provider type not allowed", goerrors.CategoryBadInput).
	WithTextCode(TextCodeProviderNotAllow).
	WithCode(goerrors.CodeBadRequest)

// ErrLockTimeout is returned when a record lock could not be acquired in time.
var ErrLockTimeout = goerrors.New("timed out acquiring record lock", goerrors.CategoryOperation).
	WithTextCode(TextCodeLockTimeout)

// ErrHookFailed wraps failures raised by registration or login hooks.
var ErrHookFailed = goerrors.New("hook execution failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeHookFailed)

var recoverable = []error{
	ErrAssertionFailed,
	ErrAlreadyLinked,
	ErrForceRequired,
	ErrIdentityUnclaimed,
	ErrOneTimeTokenNotFound,
	ErrProviderNotAllowed,
}

// IsRecoverable reports whether err is a user facing condition that should
// be rendered as a redirect or alert instead of a hard failure.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range recoverable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// TextCode returns the text code for a known error, or an empty string.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return richErr.TextCode
	}
	return ""
}

// WrapError classifies err under category. Errors that already carry a
// go-errors classification keep it and only get the message prefixed, so
// sentinel matching with errors.Is survives the wrap.
func WrapError(err error, category goerrors.Category, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return fmt.Errorf("%s: %w", message, err)
	}
	return goerrors.Wrap(err, category, message)
}

// Detailed returns detail, a populated copy of sentinel, in a form that
// still matches sentinel with errors.Is.
func Detailed(sentinel, detail *goerrors.Error) error {
	if detail == nil || detail == sentinel {
		return sentinel
	}
	return &detailedError{sentinel: sentinel, detail: detail}
}

type detailedError struct {
	sentinel *goerrors.Error
	detail   *goerrors.Error
}

func (e *detailedError) Error() string { return e.detail.Error() }

func (e *detailedError) Unwrap() error { return e.detail }

func (e *detailedError) Is(target error) bool {
	return target == error(e.sentinel)
}
