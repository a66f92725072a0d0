package social

import "github.com/goliatone/go-errors"

const (
	TextCodeInvalidState = "LINK_INVALID_STATE"
	TextCodeStateExpired = "LINK_STATE_EXPIRED"
)

// ErrInvalidState is returned when a callback state is missing, tampered
// with or issued for another provider.
var ErrInvalidState = errors.New("invalid callback state", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(errors.CodeBadRequest)

// ErrStateExpired is returned when a callback state is past its expiry.
var ErrStateExpired = errors.New("callback state expired", errors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(errors.CodeBadRequest)
