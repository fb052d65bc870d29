package accounts

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

// PasswordResetInput is submitted from the password reset page. Subject and
// Token come from the reset link.
type PasswordResetInput struct {
	SubjectID            string `json:"-"`
	Token                string `json:"token" form:"token" query:"token"`
	Password             string `json:"password" form:"password"`
	PasswordConfirmation string `json:"password_confirmation" form:"password_confirmation"`
}

const messagePasswordResetSent = "If that email address is registered, a password reset link has been sent."

// RequestPasswordReset mails a reset link to an account that has a
// password. Unknown and invited addresses get the same outcome and no link.
func (m *Manager) RequestPasswordReset(ctx context.Context, input PasswordResetRequestInput) (Outcome, error) {
	const op = "request_password_reset"

	input.Normalize()
	if err := validate(input); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	out := Success(nil)
	out.Message = messagePasswordResetSent

	user, err := m.repo.Users().GetByEmail(ctx, input.Email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		m.logger.Debug("password reset requested for unknown email")
		return m.finish(op, out, nil)
	case err != nil:
		return m.finish(op, Outcome{}, err)
	case user.IsInvited():
		m.logger.Debug("password reset requested for invited account", "user_id", user.ID.String())
		return m.finish(op, out, nil)
	}

	if _, err := m.sendCapability(ctx, user, IntentPasswordReset); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Actor:     ActorRef{Type: ActorTypeSystem},
		UserID:    user.ID.String(),
	})
	return m.finish(op, out, nil)
}

// ResetPassword consumes a reset link and sets a new password. The link is
// bound to the email and the password hash it was issued for, so it works
// once. Every session of the account is terminated afterwards.
func (m *Manager) ResetPassword(ctx context.Context, input PasswordResetInput) (Outcome, error) {
	const op = "reset_password"

	if err := m.tokens.VerifySubject(input.Token, IntentPasswordReset, input.SubjectID); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	id, err := parseSubject(input.SubjectID)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	if err := m.passwords.Validate(input.Password, input.PasswordConfirmation); err != nil {
		return m.finish(op, Outcome{}, ValidationError(validationFields(err)))
	}

	hash, err := HashPasswordWithCost(input.Password, m.bcryptCost)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	err = m.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		user, err := m.repo.Users().GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if user.IsInvited() {
			return ErrTokenInvalid
		}

		binding := capabilityBinding(IntentPasswordReset, user)
		if err := m.tokens.VerifyBound(input.Token, IntentPasswordReset, input.SubjectID, binding); err != nil {
			return err
		}

		user.PasswordHash = &hash
		user.Touch(m.now().UTC())
		if err := m.repo.Users().UpdateTx(ctx, tx, user, "password_hash", "updated_at"); err != nil {
			return err
		}

		m.record(ctx, ActivityEvent{
			EventType: ActivityEventPasswordReset,
			Actor:     ActorRef{ID: id.String(), Type: ActorTypeUser},
			UserID:    id.String(),
		})
		return nil
	})
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	if err := m.sessions.Terminate(ctx, id); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	return m.finish(op, Redirected(m.routes.Login, "Your password has been reset."), nil)
}
