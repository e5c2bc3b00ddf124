package flow

import "errors"

// Local validation and sequencing errors. These are detected before any network
// call and shown to the user as-is.
var (
	// ErrOperationInFlight is returned when a second operation is started while
	// one is still pending (double-submit guard).
	ErrOperationInFlight = errors.New("another operation is still in progress")
	// ErrSuperseded is returned when an operation completed after the flow was
	// reset or logged out; its result was discarded.
	ErrSuperseded = errors.New("operation superseded, result discarded")
	// ErrInvalidCode rejects verification codes that are not exactly six digits.
	ErrInvalidCode = errors.New("code must be exactly 6 digits")
	// ErrPasswordTooShort rejects passwords under the minimum length.
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	// ErrPasswordMismatch rejects a reset where the confirmation differs.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrInvalidEmail rejects addresses that don't look like emails.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrMissingField rejects empty required inputs.
	ErrMissingField = errors.New("required field is missing")
	// ErrOAuthDenied is returned when the provider redirected back with an error.
	ErrOAuthDenied = errors.New("sign-in was denied by the identity provider")
	// ErrOAuthCallbackInvalid is returned when the callback carries neither an
	// error nor a complete token.
	ErrOAuthCallbackInvalid = errors.New("callback is missing access token or user id")
	// ErrInvalidStep is returned when a signup-flow operation is invoked out of
	// order.
	ErrInvalidStep = errors.New("operation not valid in the current step")
)
