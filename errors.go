package accounts

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation       = "VALIDATION_FAILED"
	TextCodeForbidden        = "FORBIDDEN"
	TextCodeUserNotFound     = "USER_NOT_FOUND"
	TextCodeDuplicateEmail   = "DUPLICATE_EMAIL"
	TextCodeAlreadyAccepted  = "INVITATION_ALREADY_ACCEPTED"
	TextCodeInvitePending    = "INVITATION_PENDING"
	TextCodeTokenInvalid     = "TOKEN_INVALID"
	TextCodeTokenExpired     = "TOKEN_EXPIRED"
	TextCodeSessionNotFound  = "SESSION_NOT_FOUND"
	TextCodeCSRFMismatch     = "CSRF_TOKEN_MISMATCH"
	TextCodeRegistrationOff  = "REGISTRATION_DISABLED"
	TextCodeInvalidRole      = "INVALID_ROLE"
	textCodeEmptyPassword    = "EMPTY_PASSWORD"
	textCodePasswordMismatch = "PASSWORD_MISMATCH"
)

// ErrForbidden is returned by the Gate when an action is denied.
var ErrForbidden = goerrors.New("this action is unauthorized", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrUserNotFound is returned when the subject account does not exist.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrDuplicateEmail is returned when an email is already taken.
var ErrDuplicateEmail = goerrors.New("the email has already been taken", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(goerrors.CodeConflict)

// ErrAlreadyAccepted is returned when an invitation was already accepted.
var ErrAlreadyAccepted = goerrors.New("invitation already accepted", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyAccepted).
	WithCode(goerrors.CodeConflict)

// ErrInvitationPending is returned when an operation needs an accepted invitation.
var ErrInvitationPending = goerrors.New("invitation has not been accepted", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvitePending).
	WithCode(goerrors.CodeConflict)

// ErrTokenInvalid covers malformed, tampered and mismatched capability tokens.
var ErrTokenInvalid = goerrors.New("invalid capability token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeForbidden)

// ErrTokenExpired is returned for an authentic token past its expiry.
var ErrTokenExpired = goerrors.New("capability token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeForbidden)

// ErrSessionNotFound is returned when a session id is unknown or expired.
var ErrSessionNotFound = goerrors.New("session not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrCSRFMismatch is returned when a submitted anti-forgery token does not match.
var ErrCSRFMismatch = goerrors.New("CSRF token mismatch", goerrors.CategoryAuth).
	WithTextCode(TextCodeCSRFMismatch).
	WithCode(goerrors.CodeForbidden)

// ErrRegistrationDisabled is returned by Register when self sign up is off.
var ErrRegistrationDisabled = goerrors.New("registration is disabled", goerrors.CategoryAuthz).
	WithTextCode(TextCodeRegistrationOff).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidRole is returned when a role name is outside the closed role set.
var ErrInvalidRole = goerrors.New("invalid role", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRole).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(textCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when a password does not match its hash.
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithTextCode(textCodePasswordMismatch).
	WithCode(goerrors.CodeUnauthorized)

// ValidationError builds a validation failure carrying per field messages.
// A new value is returned on every call.
func ValidationError(fields map[string]string) error {
	return goerrors.New("validation failed", goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{
			"fields": fields,
		})
}

// FieldErrors returns the per field messages carried by err, if any.
func FieldErrors(err error) map[string]string {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Metadata == nil {
		return nil
	}
	fields, _ := rich.Metadata["fields"].(map[string]string)
	return fields
}

// IsTokenExpired reports whether err is an expired capability token.
func IsTokenExpired(err error) bool {
	return goerrors.Is(err, ErrTokenExpired)
}

// IsTokenInvalid reports whether err is an invalid capability token.
func IsTokenInvalid(err error) bool {
	return goerrors.Is(err, ErrTokenInvalid)
}
