package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ListAccounts returns accounts ordered by name. Requires view.
func (m *Manager) ListAccounts(ctx context.Context, actorID uuid.UUID, opts ListOptions) (Outcome, error) {
	const op = "list_accounts"

	if _, err := m.authorize(ctx, actorID, ActionView, nil); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	records, total, err := m.repo.Users().List(ctx, opts)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	page := AccountPage{
		Total: total,
		Items: make([]AccountView, 0, len(records)),
	}
	for _, record := range records {
		page.Items = append(page.Items, NewAccountView(record))
	}
	return m.finish(op, Success(page), nil)
}

// GetAccount returns a single account. Requires view.
func (m *Manager) GetAccount(ctx context.Context, actorID, subjectID uuid.UUID) (Outcome, error) {
	const op = "get_account"

	if _, err := m.authorize(ctx, actorID, ActionView, &subjectID); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	user, err := m.repo.Users().GetByID(ctx, subjectID)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}
	return m.finish(op, Success(NewAccountView(user)), nil)
}

// CreateAccount invites a new account. Requires create. The account starts
// invited and exactly one invitation token is issued and handed to the
// notifier.
func (m *Manager) CreateAccount(ctx context.Context, actorID uuid.UUID, input CreateAccountInput) (Outcome, error) {
	const op = "create_account"

	if _, err := m.authorize(ctx, actorID, ActionCreate, nil); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	input.Normalize()
	if err := validate(input); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	var created *User
	err := m.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		now := m.now().UTC()
		record, err := m.repo.Users().CreateTx(ctx, tx, &User{
			Name:      input.Name,
			Email:     input.Email,
			Role:      input.Role,
			CreatedAt: now,
			UpdatedAt: now,
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
		EventType: ActivityEventAccountInvited,
		Actor:     ActorRef{ID: actorID.String(), Type: ActorTypeUser},
		UserID:    created.ID.String(),
		ToState:   created.State(),
		Metadata: map[string]any{
			"role": created.Role,
		},
	})

	expiresAt, err := m.sendCapability(ctx, created, IntentInvitation)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	out := Success(InvitationReceipt{
		Account:   NewAccountView(created),
		ExpiresAt: expiresAt,
	})
	out.Message = "User created, invitation sent"
	return m.finish(op, out, nil)
}

// ResendInvitation issues a fresh invitation token. Requires create.
// Previously issued tokens stay valid until they expire. Accepted accounts
// yield a Conflict with reason already_accepted.
func (m *Manager) ResendInvitation(ctx context.Context, actorID, subjectID uuid.UUID) (Outcome, error) {
	const op = "resend_invitation"

	if _, err := m.authorize(ctx, actorID, ActionCreate, &subjectID); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	subject, err := m.repo.Users().GetByID(ctx, subjectID)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	if !subject.IsInvited() {
		out, err := m.finish(op, Outcome{}, ErrAlreadyAccepted)
		out.Message = "Invitation already accepted"
		return out, err
	}

	expiresAt, err := m.sendCapability(ctx, subject, IntentInvitation)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventInvitationResent,
		Actor:     ActorRef{ID: actorID.String(), Type: ActorTypeUser},
		UserID:    subject.ID.String(),
	})

	out := Success(InvitationReceipt{
		Account:   NewAccountView(subject),
		ExpiresAt: expiresAt,
	})
	out.Message = "Invitation resent"
	return m.finish(op, out, nil)
}

// UpdateUser is the admin edit: profile fields plus a full role
// replacement. Requires update.
func (m *Manager) UpdateUser(ctx context.Context, actorID, subjectID uuid.UUID, input UpdateAccountInput) (Outcome, error) {
	const op = "update_user"

	actor, err := m.authorize(ctx, actorID, ActionUpdate, &subjectID)
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

		previousRole := user.Role
		if err := m.applyProfile(ctx, tx, actor, user, input.Name, input.Email, input.Role); err != nil {
			return err
		}

		if previousRole != user.Role {
			m.record(ctx, ActivityEvent{
				EventType: ActivityEventRoleChanged,
				Actor:     UserActor(actor),
				UserID:    user.ID.String(),
				Metadata: map[string]any{
					"from": previousRole,
					"to":   user.Role,
				},
			})
		}
		view = NewAccountView(user)
		return nil
	})

	out := Success(view)
	out.Message = "User updated"
	return m.finish(op, out, err)
}

// ChangeRole replaces the role of an account. Requires update.
func (m *Manager) ChangeRole(ctx context.Context, actorID, subjectID uuid.UUID, role RoleName) (Outcome, error) {
	const op = "change_role"

	actor, err := m.authorize(ctx, actorID, ActionUpdate, &subjectID)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	role = NormalizeRole(role)
	if !IsValidRole(role) {
		return m.finish(op, Outcome{}, ValidationError(map[string]string{"role": "must be a valid role"}))
	}

	var view AccountView
	err = m.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		user, err := m.repo.Users().GetForUpdateTx(ctx, tx, subjectID)
		if err != nil {
			return err
		}

		if user.Role != role {
			previous := user.Role
			user.Role = role
			user.Touch(m.now().UTC())
			if err := m.repo.Users().UpdateTx(ctx, tx, user, "role", "updated_at"); err != nil {
				return err
			}

			m.record(ctx, ActivityEvent{
				EventType: ActivityEventRoleChanged,
				Actor:     UserActor(actor),
				UserID:    user.ID.String(),
				Metadata: map[string]any{
					"from": previous,
					"to":   role,
				},
			})
		}
		view = NewAccountView(user)
		return nil
	})

	return m.finish(op, Success(view), err)
}

// DeleteAccount removes an account and terminates its sessions. Requires
// delete, which is never granted on the actor's own account.
func (m *Manager) DeleteAccount(ctx context.Context, actorID, subjectID uuid.UUID) (Outcome, error) {
	const op = "delete_account"

	if _, err := m.authorize(ctx, actorID, ActionDelete, &subjectID); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	err := m.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return m.repo.Users().DeleteTx(ctx, tx, subjectID)
	})
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	if err := m.sessions.Terminate(ctx, subjectID); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountDeleted,
		Actor:     ActorRef{ID: actorID.String(), Type: ActorTypeUser},
		UserID:    subjectID.String(),
	})

	out := Success(nil)
	out.Message = "User deleted"
	return m.finish(op, out, nil)
}

// Impersonate replaces the admin's session with one bound to targetID.
// Requires impersonate, which is never granted on the actor's own account.
func (m *Manager) Impersonate(ctx context.Context, actorID, targetID uuid.UUID, sessionID string) (Outcome, error) {
	const op = "impersonate"

	if _, err := m.authorize(ctx, actorID, ActionImpersonate, &targetID); err != nil {
		if errors.Is(err, ErrForbidden) {
			m.record(ctx, ActivityEvent{
				EventType: ActivityEventImpersonationFailure,
				Actor:     ActorRef{ID: actorID.String(), Type: ActorTypeUser},
				UserID:    targetID.String(),
			})
		}
		return m.finish(op, Outcome{}, err)
	}

	target, err := m.repo.Users().GetByID(ctx, targetID)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	session, err := m.login(ctx, sessionID, target.ID, func() (*Session, error) {
		return m.sessions.StartImpersonation(ctx, sessionID, actorID, target.ID)
	})
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	out := Redirected(m.routes.Dashboard, "Impersonating "+target.Name)
	out.Payload = NewAccountView(target)
	out.Session = session
	return m.finish(op, out, nil)
}

// applyProfile writes name, email and role. Changing the email of an
// active account moves it back to active_unverified. An empty role keeps
// the current one.
func (m *Manager) applyProfile(ctx context.Context, tx bun.IDB, actor, user *User, name, email string, role RoleName) error {
	emailChanged := user.Email != email
	if emailChanged {
		other, err := m.repo.Users().GetByEmailTx(ctx, tx, email)
		switch {
		case err == nil && other.ID != user.ID:
			return ErrDuplicateEmail
		case err != nil && !errors.Is(err, ErrUserNotFound):
			return err
		}
	}

	user.Name = name
	user.Email = email
	if role != "" {
		user.Role = role
	}
	user.Touch(m.now().UTC())

	if err := m.repo.Users().UpdateTx(ctx, tx, user, "name", "email", "role", "updated_at"); err != nil {
		return err
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountUpdated,
		Actor:     UserActor(actor),
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"email_changed": emailChanged,
		},
	})

	if emailChanged && user.State() == AccountStateActive {
		if _, err := m.states.Transition(ctx, tx, UserActor(actor), user, AccountStateActiveUnverified,
			WithTransitionReason("email changed"),
		); err != nil {
			return err
		}
	}
	return nil
}
