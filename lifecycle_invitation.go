package accounts

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

// AcceptInvitationInput is submitted from the invitation page. Subject and
// Token come from the capability link.
type AcceptInvitationInput struct {
	SubjectID            string `json:"-"`
	Token                string `json:"token" form:"token" query:"token"`
	Password             string `json:"password" form:"password"`
	PasswordConfirmation string `json:"password_confirmation" form:"password_confirmation"`
	// SessionID is the caller's current session, replaced on success.
	SessionID string `json:"-"`
}

const messageAlreadyAccepted = "Invitation already accepted"

// ShowInvitation verifies the link before the password form is shown.
// Accepted invitations redirect to the login page.
func (m *Manager) ShowInvitation(ctx context.Context, subjectID, token string) (Outcome, error) {
	const op = "show_invitation"

	if err := m.tokens.VerifySubject(token, IntentInvitation, subjectID); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	id, err := parseSubject(subjectID)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	user, err := m.repo.Users().GetByID(ctx, id)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	if !user.IsInvited() {
		return m.finish(op, Redirected(m.routes.Login, messageAlreadyAccepted), nil)
	}

	return m.finish(op, Success(InviteeView{
		ID:    user.ID.String(),
		Name:  user.Name,
		Email: user.Email,
	}), nil)
}

// AcceptInvitation verifies the link again, sets the first password, marks
// the email verified and logs the invitee in. Accepting twice is a no-op
// that redirects to the login page and leaves the password untouched.
func (m *Manager) AcceptInvitation(ctx context.Context, input AcceptInvitationInput) (Outcome, error) {
	const op = "accept_invitation"

	if err := m.tokens.VerifySubject(input.Token, IntentInvitation, input.SubjectID); err != nil {
		return m.finish(op, Outcome{}, err)
	}

	id, err := parseSubject(input.SubjectID)
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	var (
		accepted *User
		already  bool
	)
	err = m.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		user, err := m.repo.Users().GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if !user.IsInvited() {
			already = true
			return nil
		}

		if err := m.passwords.Validate(input.Password, input.PasswordConfirmation); err != nil {
			return ValidationError(validationFields(err))
		}

		hash, err := HashPasswordWithCost(input.Password, m.bcryptCost)
		if err != nil {
			return err
		}

		accepted, err = m.states.Transition(ctx, tx,
			ActorRef{ID: id.String(), Type: ActorTypeInvitee},
			user,
			AccountStateActive,
			WithPasswordHash(hash),
			WithTransitionReason("invitation accepted"),
		)
		if errors.Is(err, ErrAlreadyAccepted) {
			already = true
			return nil
		}
		return err
	})
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	if already {
		return m.finish(op, Redirected(m.routes.Login, messageAlreadyAccepted), nil)
	}

	session, err := m.login(ctx, input.SessionID, accepted.ID, func() (*Session, error) {
		return m.sessions.Login(ctx, input.SessionID, accepted.ID)
	})
	if err != nil {
		return m.finish(op, Outcome{}, err)
	}

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventInvitationAccepted,
		Actor:     ActorRef{ID: accepted.ID.String(), Type: ActorTypeInvitee},
		UserID:    accepted.ID.String(),
		FromState: AccountStateInvited,
		ToState:   accepted.State(),
	})

	out := Redirected(m.routes.Dashboard, "Welcome "+accepted.Name)
	out.Payload = NewAccountView(accepted)
	out.Session = session
	return m.finish(op, out, nil)
}
