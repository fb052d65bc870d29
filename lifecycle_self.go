package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const messageBadCredentials = "These credentials do not match our records."

const messageWrongPassword = "The password is incorrect."

// Authenticate logs in with email and password. Invited accounts have no
// password and can never authenticate.
func (m *Manager) Authenticate(ctx context.Context, email, password, sessionID string) (Outcome, error) {
	const op = "authenticate"

	user, err := m.repo.Users().GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return m.finish(op, Outcome{}, err)
	}

	if user == nil || user.IsInvited() || ComparePasswordAndHash(password, *user.PasswordHash) != nil {
		m.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{Type: ActorTypeSystem},
			Metadata: map[string]any{
				"email": NormalizeEmail(email),
			},
		})
		return m.finish(op, Outcome{}, ValidationError(map[string]string{"email": messageBadCredentials}))
	}

	session, err := m.login(ctx, sessionID, user.ID, func() (*Session, error) {
		return m.sessions.Login(ctx, sessionID, user.ID)
	})
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	out := Redirected(m.routes.Dashboard, "")
	out.Payload = NewAccountView(user)
	out.Session = session
	return m.finish(op, out, nil)
}

// Logout ends the caller's session.
func (m *Manager) Logout(ctx context.Context, sessionID string) (Outcome, error) {
	const op = "logout"

	session, err := m.sessions.Logout(ctx, sessionID)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	out := Redirected(m.routes.Home, "")
	out.Session = session
	return m.finish(op, out, nil)
}

// Register creates an active but unverified account with the default role
// and logs it in. Disabled unless registration is allowed.
func (m *Manager) Register(ctx context.Context, input RegisterInput, sessionID string) (Outcome, error) {
	const op = "register"

	if !m.allowRegistration {
		return m.finish(op, Outcome{}, ErrRegistrationDisabled)
	}

	input.Normalize()
	profile := ProfileInput{Name: input.Name, Email: input.Email}
	if err := mergeFields(
		profile.Validate(),
		m.passwords.Validate(input.Password, input.PasswordConfirmation),
	); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	hash, err := HashPasswordWithCost(input.Password, m.bcryptCost)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	var created *User
	err = m.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		now := m.now().UTC()
		record, err := m.repo.Users().CreateTx(ctx, tx, &User{
			Name:         input.Name,
			Email:        input.Email,
			Role:         DefaultRole,
			PasswordHash: &hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		created = record
		return nil
	})
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor:     ActorRef{ID: created.ID.String(), Type: ActorTypeUser},
		UserID:    created.ID.String(),
		ToState:   created.State(),
	})

	if _, err := m.sendCapability(ctx, created, IntentEmailVerification); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	session, err := m.login(ctx, sessionID, created.ID, func() (*Session, error) {
		return m.sessions.Login(ctx, sessionID, created.ID)
	})
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	out := Redirected(m.routes.Dashboard, "")
	out.Payload = NewAccountView(created)
	out.Session = session
	return m.finish(op, out, nil)
}

// UpdateProfile changes name and email. Accounts may edit themselves,
// editing anyone else requires update. A new email resets verification.
func (m *Manager) UpdateProfile(ctx context.Context, actorID, subjectID uuid.UUID, input ProfileInput) (Outcome, error) {
	const op = "update_profile"

	actor, err := m.selfOrAuthorize(ctx, actorID, subjectID, ActionUpdate)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	input.Normalize()
	if err := validate(input); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	var view AccountView
	err = m.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		user, err := m.repo.Users().GetForUpdateTx(ctx, tx, subjectID)
		if err != nil {
			return err
		}

		if err := m.applyProfile(ctx, tx, actor, user, input.Name, input.Email, ""); err != nil {
			return err
		}
		view = NewAccountView(user)
		return nil
	})

	out := Success(view)
	out.Message = "Profile updated"
	return m.finish(op, out, err)
}

// UpdatePassword sets a new password. Accounts changing their own password
// must confirm the current one; changing anyone else's requires update.
// Invited accounts must go through their invitation instead.
func (m *Manager) UpdatePassword(ctx context.Context, actorID, subjectID uuid.UUID, input PasswordInput) (Outcome, error) {
	const op = "update_password"

	actor, err := m.selfOrAuthorize(ctx, actorID, subjectID, ActionUpdate)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	self := actorID == subjectID
	err = m.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		user, err := m.repo.Users().GetForUpdateTx(ctx, tx, subjectID)
		if err != nil {
			return err
		}

		if user.IsInvited() {
			return ErrInvitationPending
		}

		fields := map[string]string{}
		if self && ComparePasswordAndHash(input.CurrentPassword, *user.PasswordHash) != nil {
			fields["current_password"] = messageWrongPassword
		}
		for k, v := range validationFields(m.passwords.Validate(input.Password, input.PasswordConfirmation)) {
			fields[k] = v
		}
		if len(fields) > 0 {
			return ValidationError(fields)
		}

		hash, err := HashPasswordWithCost(input.Password, m.bcryptCost)
		if err != nil {
			return err
		}

		user.PasswordHash = &hash
		user.Touch(m.now().UTC())
		return m.repo.Users().UpdateTx(ctx, tx, user, "password_hash", "updated_at")
	})
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     UserActor(actor),
		UserID:    subjectID.String(),
	})

	out := Success(nil)
	out.Message = "Password updated"
	return m.finish(op, out, nil)
}

// CloseOwnAccount deletes the caller's account after confirming the
// password, terminates all of its sessions and returns a fresh anonymous
// session.
func (m *Manager) CloseOwnAccount(ctx context.Context, subjectID uuid.UUID, sessionID, password string) (Outcome, error) {
	const op = "close_account"

	err := m.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		user, err := m.repo.Users().GetForUpdateTx(ctx, tx, subjectID)
		if err != nil {
			return err
		}

		if user.IsInvited() || ComparePasswordAndHash(password, *user.PasswordHash) != nil {
			return ValidationError(map[string]string{"password": messageWrongPassword})
		}
		return m.repo.Users().DeleteTx(ctx, tx, subjectID)
	})
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	if err := m.sessions.Terminate(ctx, subjectID); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	session, err := m.sessions.Logout(ctx, sessionID)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountDeleted,
		Actor:     ActorRef{ID: subjectID.String(), Type: ActorTypeUser},
		UserID:    subjectID.String(),
	})

	out := Redirected(m.routes.Home, "Account deleted")
	out.Session = session
	return m.finish(op, out, nil)
}

// SendEmailVerification issues a new email verification link to an active
// but unverified account.
func (m *Manager) SendEmailVerification(ctx context.Context, subjectID uuid.UUID) (Outcome, error) {
	const op = "send_email_verification"

	user, err := m.repo.Users().GetByID(ctx, subjectID)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	switch user.State() {
	case AccountStateInvited:
		return m.finish(op, Outcome{}, ErrInvitationPending)
	case AccountStateActive:
		return m.finish(op, Redirected(m.routes.Dashboard, "Email already verified"), nil)
	}

	if _, err := m.sendCapability(ctx, user, IntentEmailVerification); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	out := Success(nil)
	out.Message = "Verification link sent"
	return m.finish(op, out, nil)
}

// VerifyEmail consumes an email verification link. The link is bound to
// the address it was sent to and stops working once the email changes.
func (m *Manager) VerifyEmail(ctx context.Context, subjectID, token string) (Outcome, error) {
	const op = "verify_email"

	if err := m.tokens.VerifySubject(token, IntentEmailVerification, subjectID); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	id, err := parseSubject(subjectID)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	err = m.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		user, err := m.repo.Users().GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if user.IsInvited() {
			return ErrInvitationPending
		}

		binding := capabilityBinding(IntentEmailVerification, user)
		if err := m.tokens.VerifyBound(token, IntentEmailVerification, subjectID, binding); err != nil {
			return err
		}

		if user.IsVerified() {
			return nil
		}

		_, err = m.states.Transition(ctx, tx,
			ActorRef{ID: id.String(), Type: ActorTypeUser},
			user,
			AccountStateActive,
			WithTransitionReason("email verified"),
		)
		return err
	})
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	return m.finish(op, Redirected(m.routes.Dashboard, "Email verified"), nil)
}

// selfOrAuthorize skips the Gate when the actor acts on itself.
func (m *Manager) selfOrAuthorize(ctx context.Context, actorID, subjectID uuid.UUID, action Action) (*User, error) {
	if actorID != subjectID {
		return m.authorize(ctx, actorID, action, &subjectID)
	}

	actor, err := m.repo.Users().GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	return actor, nil
}
