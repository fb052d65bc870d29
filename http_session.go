package accounts

import (
	"context"
	"time"

	"github.com/goliatone/go-router"
)

const (
	// SessionIDKey is the locals key holding the current session id.
	SessionIDKey = "session_id"
	// UserIDKey is the locals key holding the authenticated account id.
	UserIDKey = "user_id"
	// SessionKey is the locals key holding the current *Session.
	SessionKey = "session"
)

type sessionCtxKey struct{}

// WithSessionContext sets the Session in the given context
func WithSessionContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// SessionFromContext finds the session from the context.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(*Session)
	return s, ok && s != nil
}

// SessionFromRouter returns the session loaded by SessionMiddleware.
func SessionFromRouter(ctx router.Context) (*Session, bool) {
	s, ok := ctx.Locals(SessionKey).(*Session)
	return s, ok && s != nil
}

// SessionCookie configures the session cookie.
type SessionCookie struct {
	Name     string
	Secure   bool
	SameSite string
}

func (c SessionCookie) withDefaults() SessionCookie {
	if c.Name == "" {
		c.Name = "accounts_session"
	}
	if c.SameSite == "" {
		c.SameSite = "Lax"
	}
	return c
}

// Write sets the cookie for s.
func (c SessionCookie) Write(ctx router.Context, s *Session) {
	c = c.withDefaults()
	ctx.Cookie(&router.Cookie{
		Name:     c.Name,
		Value:    s.ID,
		Expires:  s.ExpiresAt,
		HTTPOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// Clear expires the cookie.
func (c SessionCookie) Clear(ctx router.Context) {
	c = c.withDefaults()
	ctx.Cookie(&router.Cookie{
		Name:     c.Name,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// SessionMiddleware resumes the session named by the cookie, or starts an
// anonymous one, and exposes it through locals and the request context.
func SessionMiddleware(authority *SessionAuthority, cookie SessionCookie, logger Logger) router.MiddlewareFunc {
	cookie = cookie.withDefaults()
	if logger == nil {
		logger = defLogger{}
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			session, created, err := authority.ResumeOrStart(ctx.Context(), ctx.Cookies(cookie.Name))
			if err != nil {
				logger.Error("session middleware", "error", err)
				return ctx.Status(router.StatusInternalServerError).SendString("session unavailable")
			}

			if created {
				cookie.Write(ctx, session)
			}

			exposeSession(ctx, session)
			return ctx.Next()
		}
	}
}

func exposeSession(ctx router.Context, s *Session) {
	ctx.Locals(SessionKey, s)
	ctx.Locals(SessionIDKey, s.ID)
	if s.IsAuthenticated() {
		ctx.Locals(UserIDKey, s.UserID.String())
	} else {
		ctx.Locals(UserIDKey, "")
	}
	ctx.SetContext(WithSessionContext(ctx.Context(), s))
}
