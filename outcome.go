package accounts

import (
	goerrors "github.com/goliatone/go-errors"
)

// OutcomeKind is the closed set of results a lifecycle operation reports.
type OutcomeKind string

const (
	OutcomeSuccess               OutcomeKind = "success"
	OutcomeValidationFailed      OutcomeKind = "validation_failed"
	OutcomeForbidden             OutcomeKind = "forbidden"
	OutcomeNotFound              OutcomeKind = "not_found"
	OutcomeConflict              OutcomeKind = "conflict"
	OutcomeTokenInvalidOrExpired OutcomeKind = "token_invalid_or_expired"
)

// Conflict reasons.
const (
	ConflictDuplicateEmail    = "duplicate_email"
	ConflictAlreadyAccepted   = "already_accepted"
	ConflictInvitationPending = "invitation_pending"
)

// Outcome is the result of a lifecycle operation.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// Payload carries the operation result on success.
	Payload any `json:"data,omitempty"`
	// FieldErrors is set for OutcomeValidationFailed.
	FieldErrors map[string]string `json:"errors,omitempty"`
	// Reason is set for OutcomeConflict.
	Reason string `json:"reason,omitempty"`
	// TokenFailure is set for OutcomeTokenInvalidOrExpired.
	TokenFailure TokenFailure `json:"token_failure,omitempty"`
	// Redirect is where the caller should send the user next.
	Redirect string `json:"redirect,omitempty"`
	// Message is a human readable status or warning.
	Message string `json:"message,omitempty"`
	// Session is set when the operation changed the caller's session.
	Session *Session `json:"-"`
}

// IsSuccess reports whether the outcome is OutcomeSuccess.
func (o Outcome) IsSuccess() bool {
	return o.Kind == OutcomeSuccess
}

// Success builds a successful outcome.
func Success(payload any) Outcome {
	return Outcome{Kind: OutcomeSuccess, Payload: payload}
}

// Redirected builds a successful outcome that sends the user to path.
func Redirected(path, message string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Redirect: path, Message: message}
}

// OutcomeFromError maps expected failures to an Outcome. It returns false
// for unexpected errors, which callers must propagate.
func OutcomeFromError(err error) (Outcome, bool) {
	if err == nil {
		return Success(nil), true
	}

	if failure, ok := TokenFailureOf(err); ok {
		return Outcome{
			Kind:         OutcomeTokenInvalidOrExpired,
			TokenFailure: failure,
			Message:      err.Error(),
		}, true
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return Outcome{}, false
	}

	switch rich.Category {
	case goerrors.CategoryValidation:
		fields := FieldErrors(err)
		if fields == nil {
			fields = map[string]string{}
		}
		return Outcome{
			Kind:        OutcomeValidationFailed,
			FieldErrors: fields,
			Message:     rich.Message,
		}, true
	case goerrors.CategoryAuthz:
		return Outcome{Kind: OutcomeForbidden, Message: rich.Message}, true
	case goerrors.CategoryNotFound:
		return Outcome{Kind: OutcomeNotFound, Message: rich.Message}, true
	case goerrors.CategoryConflict:
		return Outcome{
			Kind:    OutcomeConflict,
			Reason:  conflictReason(rich.TextCode),
			Message: rich.Message,
		}, true
	default:
		return Outcome{}, false
	}
}

func conflictReason(textCode string) string {
	switch textCode {
	case TextCodeDuplicateEmail:
		return ConflictDuplicateEmail
	case TextCodeAlreadyAccepted:
		return ConflictAlreadyAccepted
	case TextCodeInvitePending:
		return ConflictInvitationPending
	default:
		return textCode
	}
}
