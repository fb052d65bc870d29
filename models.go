package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountState is derived from stored columns, it is never persisted.
type AccountState string

const (
	AccountStateInvited          AccountState = "invited"
	AccountStateActive           AccountState = "active"
	AccountStateActiveUnverified AccountState = "active_unverified"
)

// User is the account model
type User struct {
	bun.BaseModel   `bun:"table:users,alias:usr"`
	ID              uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Name            string     `bun:"name,notnull" json:"name"`
	Email           string     `bun:"email,notnull,unique" json:"email"`
	Role            RoleName   `bun:"role,notnull" json:"role"`
	PasswordHash    *string    `bun:"password_hash" json:"-"`
	EmailVerifiedAt *time.Time `bun:"email_verified_at" json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// State derives the lifecycle state of the account.
func (u *User) State() AccountState {
	switch {
	case u == nil:
		return ""
	case u.PasswordHash == nil:
		return AccountStateInvited
	case u.EmailVerifiedAt == nil:
		return AccountStateActiveUnverified
	default:
		return AccountStateActive
	}
}

// IsInvited reports whether the invitation is still pending.
func (u *User) IsInvited() bool {
	return u != nil && u.PasswordHash == nil
}

// IsVerified reports whether the email address was verified.
func (u *User) IsVerified() bool {
	return u != nil && u.EmailVerifiedAt != nil
}

// Touch moves UpdatedAt forward, it never moves it backwards.
func (u *User) Touch(now time.Time) {
	if now.After(u.UpdatedAt) {
		u.UpdatedAt = now
	}
}

// NormalizeEmail trims and lower cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Role is a named role.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rl"`
	Name          RoleName  `bun:"name,pk" json:"name"`
	Label         string    `bun:"label,notnull" json:"label"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

// RolePermission grants a permission to a role.
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`
	Role          RoleName   `bun:"role,pk" json:"role"`
	Permission    Permission `bun:"permission,pk" json:"permission"`
}

// Session is a server side session record.
// A nil UserID is an anonymous session.
type Session struct {
	bun.BaseModel  `bun:"table:sessions,alias:ses"`
	ID             string     `bun:"id,pk" json:"id"`
	UserID         *uuid.UUID `bun:"user_id,type:uuid" json:"user_id,omitempty"`
	ImpersonatorID *uuid.UUID `bun:"impersonator_id,type:uuid" json:"impersonator_id,omitempty"`
	CSRFToken      string     `bun:"csrf_token,notnull" json:"csrf_token"`
	CreatedAt      time.Time  `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt      time.Time  `bun:"expires_at,notnull" json:"expires_at"`
}

// IsAuthenticated reports whether the session is bound to an account.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.UserID != nil
}

// IsImpersonating reports whether the session was opened through impersonation.
func (s *Session) IsImpersonating() bool {
	return s != nil && s.ImpersonatorID != nil
}

// IsExpired reports whether the session is past its expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// BoundTo reports whether the session belongs to the given account.
func (s *Session) BoundTo(userID uuid.UUID) bool {
	return s.IsAuthenticated() && *s.UserID == userID
}
