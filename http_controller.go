package accounts

import (
	"net/http"
	"strconv"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Put(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPRoutes are the paths served by the HTTPController.
type HTTPRoutes struct {
	Users          string
	Invitations    string
	Login          string
	Logout         string
	Register       string
	VerifyEmail    string
	ForgotPassword string
	ResetPassword  string
	Account        string
}

// HTTPController exposes the Manager over go-router.
type HTTPController struct {
	Debug   bool
	Logger  Logger
	Manager *Manager
	Cookie  SessionCookie
	Routes  HTTPRoutes
}

// HTTPControllerOption customizes the controller.
type HTTPControllerOption func(*HTTPController)

// WithHTTPDebug dumps outcomes to the logger.
func WithHTTPDebug(debug bool) HTTPControllerOption {
	return func(c *HTTPController) {
		c.Debug = debug
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger Logger) HTTPControllerOption {
	return func(c *HTTPController) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithHTTPCookie configures the session cookie.
func WithHTTPCookie(cookie SessionCookie) HTTPControllerOption {
	return func(c *HTTPController) {
		c.Cookie = cookie.withDefaults()
	}
}

// WithHTTPRoutes overrides the default paths.
func WithHTTPRoutes(routes HTTPRoutes) HTTPControllerOption {
	return func(c *HTTPController) {
		c.Routes = routes
	}
}

// NewHTTPController returns a controller for m.
func NewHTTPController(m *Manager, opts ...HTTPControllerOption) *HTTPController {
	if m == nil {
		panic("accounts: http controller requires a Manager")
	}

	c := &HTTPController{
		Logger:  defLogger{},
		Manager: m,
		Cookie:  SessionCookie{}.withDefaults(),
		Routes: HTTPRoutes{
			Users:          "/users",
			Invitations:    m.routes.Invitations,
			Login:          m.routes.Login,
			Logout:         "/logout",
			Register:       "/register",
			VerifyEmail:    m.routes.EmailVerification,
			ForgotPassword: "/forgot-password",
			ResetPassword:  m.routes.PasswordReset,
			Account:        "/account",
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterRoutes registers the account routes. SessionMiddleware must run
// before every route, and the CSRF middleware before every unsafe one.
func (c *HTTPController) RegisterRoutes(app RouteRegistrar) {
	app.Get(c.Routes.Users, c.ListUsers).SetName("accounts.users.index")
	app.Post(c.Routes.Users, c.CreateUser).SetName("accounts.users.create")
	app.Get(c.Routes.Users+"/:id", c.GetUser).SetName("accounts.users.show")
	app.Put(c.Routes.Users+"/:id", c.UpdateUser).SetName("accounts.users.update")
	app.Put(c.Routes.Users+"/:id/role", c.ChangeRole).SetName("accounts.users.role")
	app.Delete(c.Routes.Users+"/:id", c.DeleteUser).SetName("accounts.users.delete")
	app.Post(c.Routes.Users+"/:id/resend-invitation", c.ResendInvitation).SetName("accounts.users.resend")
	app.Post(c.Routes.Users+"/:id/impersonate", c.Impersonate).SetName("accounts.users.impersonate")

	app.Get(c.Routes.Invitations+"/:id", c.ShowInvitation).SetName("accounts.invitations.show")
	app.Post(c.Routes.Invitations+"/:id", c.AcceptInvitation).SetName("accounts.invitations.accept")

	app.Post(c.Routes.Login, c.Login).SetName("accounts.login")
	app.Post(c.Routes.Logout, c.Logout).SetName("accounts.logout")
	app.Post(c.Routes.Register, c.Register).SetName("accounts.register")
	app.Get(c.Routes.VerifyEmail+"/:id", c.VerifyEmail).SetName("accounts.verify-email")
	app.Post(c.Routes.VerifyEmail, c.SendEmailVerification).SetName("accounts.verify-email.send")
	app.Post(c.Routes.ForgotPassword, c.RequestPasswordReset).SetName("accounts.password.email")
	app.Post(c.Routes.ResetPassword+"/:id", c.ResetPassword).SetName("accounts.password.reset")

	app.Put(c.Routes.Account+"/profile", c.UpdateProfile).SetName("accounts.account.profile")
	app.Put(c.Routes.Account+"/password", c.UpdatePassword).SetName("accounts.account.password")
	app.Delete(c.Routes.Account, c.CloseAccount).SetName("accounts.account.close")
}

// StatusFor maps an Outcome to the HTTP status returned to the client.
func StatusFor(out Outcome) int {
	switch out.Kind {
	case OutcomeSuccess:
		if out.Redirect != "" {
			return router.StatusSeeOther
		}
		return router.StatusOK
	case OutcomeValidationFailed:
		return http.StatusUnprocessableEntity
	case OutcomeForbidden, OutcomeTokenInvalidOrExpired:
		return router.StatusForbidden
	case OutcomeNotFound:
		return http.StatusNotFound
	case OutcomeConflict:
		return http.StatusConflict
	default:
		return router.StatusInternalServerError
	}
}

func (c *HTTPController) ListUsers(ctx router.Context) error {
	opts := ListOptions{
		Limit:  queryInt(ctx, "limit"),
		Offset: queryInt(ctx, "offset"),
	}
	out, err := c.Manager.ListAccounts(ctx.Context(), c.actorID(ctx), opts)
	return c.respond(ctx, out, err)
}

func (c *HTTPController) GetUser(ctx router.Context) error {
	out, err := c.Manager.GetAccount(ctx.Context(), c.actorID(ctx), c.subjectID(ctx))
	return c.respond(ctx, out, err)
}

func (c *HTTPController) CreateUser(ctx router.Context) error {
	payload := new(CreateAccountInput)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	out, err := c.Manager.CreateAccount(ctx.Context(), c.actorID(ctx), *payload)
	return c.respond(ctx, out, err)
}

func (c *HTTPController) UpdateUser(ctx router.Context) error {
	payload := new(UpdateAccountInput)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	out, err := c.Manager.UpdateUser(ctx.Context(), c.actorID(ctx), c.subjectID(ctx), *payload)
	return c.respond(ctx, out, err)
}

func (c *HTTPController) ChangeRole(ctx router.Context) error {
	payload := new(struct {
		Role RoleName `json:"role" form:"role"`
	})
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	out, err := c.Manager.ChangeRole(ctx.Context(), c.actorID(ctx), c.subjectID(ctx), payload.Role)
	return c.respond(ctx, out, err)
}

func (c *HTTPController) DeleteUser(ctx router.Context) error {
	out, err := c.Manager.DeleteAccount(ctx.Context(), c.actorID(ctx), c.subjectID(ctx))
	return c.respond(ctx, out, err)
}

// ResendInvitation answers 200 with a warning when the invitation was
// already accepted.
func (c *HTTPController) ResendInvitation(ctx router.Context) error {
	out, err := c.Manager.ResendInvitation(ctx.Context(), c.actorID(ctx), c.subjectID(ctx))
	if err == nil && out.Kind == OutcomeConflict && out.Reason == ConflictAlreadyAccepted {
		return ctx.JSON(router.StatusOK, map[string]any{
			"warning": out.Message,
			"reason":  out.Reason,
		})
	}
	return c.respond(ctx, out, err)
}

func (c *HTTPController) Impersonate(ctx router.Context) error {
	out, err := c.Manager.Impersonate(ctx.Context(), c.actorID(ctx), c.subjectID(ctx), c.sessionID(ctx))
	return c.respond(ctx, out, err)
}

func (c *HTTPController) ShowInvitation(ctx router.Context) error {
	out, err := c.Manager.ShowInvitation(ctx.Context(), ctx.Param("id"), ctx.Query("token"))
	return c.respond(ctx, out, err)
}

func (c *HTTPController) AcceptInvitation(ctx router.Context) error {
	payload := new(AcceptInvitationInput)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	payload.SubjectID = ctx.Param("id")
	if payload.Token == "" {
		payload.Token = ctx.Query("token")
	}
	payload.SessionID = c.sessionID(ctx)

	out, err := c.Manager.AcceptInvitation(ctx.Context(), *payload)
	return c.respond(ctx, out, err)
}

func (c *HTTPController) Login(ctx router.Context) error {
	payload := new(struct {
		Email    string `json:"email" form:"email"`
		Password string `json:"password" form:"password"`
	})
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	out, err := c.Manager.Authenticate(ctx.Context(), payload.Email, payload.Password, c.sessionID(ctx))
	return c.respond(ctx, out, err)
}

func (c *HTTPController) Logout(ctx router.Context) error {
	out, err := c.Manager.Logout(ctx.Context(), c.sessionID(ctx))
	return c.respond(ctx, out, err)
}

func (c *HTTPController) Register(ctx router.Context) error {
	payload := new(RegisterInput)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	out, err := c.Manager.Register(ctx.Context(), *payload, c.sessionID(ctx))
	return c.respond(ctx, out, err)
}

func (c *HTTPController) VerifyEmail(ctx router.Context) error {
	out, err := c.Manager.VerifyEmail(ctx.Context(), ctx.Param("id"), ctx.Query("token"))
	return c.respond(ctx, out, err)
}

func (c *HTTPController) SendEmailVerification(ctx router.Context) error {
	id, ok := c.currentUserID(ctx)
	if !ok {
		return c.forbidden(ctx)
	}

	out, err := c.Manager.SendEmailVerification(ctx.Context(), id)
	return c.respond(ctx, out, err)
}

func (c *HTTPController) RequestPasswordReset(ctx router.Context) error {
	payload := new(PasswordResetRequestInput)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	out, err := c.Manager.RequestPasswordReset(ctx.Context(), *payload)
	return c.respond(ctx, out, err)
}

func (c *HTTPController) ResetPassword(ctx router.Context) error {
	payload := new(PasswordResetInput)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	payload.SubjectID = ctx.Param("id")
	if payload.Token == "" {
		payload.Token = ctx.Query("token")
	}

	out, err := c.Manager.ResetPassword(ctx.Context(), *payload)
	return c.respond(ctx, out, err)
}

func (c *HTTPController) UpdateProfile(ctx router.Context) error {
	id, ok := c.currentUserID(ctx)
	if !ok {
		return c.forbidden(ctx)
	}

	payload := new(ProfileInput)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	out, err := c.Manager.UpdateProfile(ctx.Context(), id, id, *payload)
	return c.respond(ctx, out, err)
}

func (c *HTTPController) UpdatePassword(ctx router.Context) error {
	id, ok := c.currentUserID(ctx)
	if !ok {
		return c.forbidden(ctx)
	}

	payload := new(PasswordInput)
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	out, err := c.Manager.UpdatePassword(ctx.Context(), id, id, *payload)
	return c.respond(ctx, out, err)
}

func (c *HTTPController) CloseAccount(ctx router.Context) error {
	id, ok := c.currentUserID(ctx)
	if !ok {
		return c.forbidden(ctx)
	}

	payload := new(struct {
		Password string `json:"password" form:"password"`
	})
	if err := ctx.Bind(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	out, err := c.Manager.CloseOwnAccount(ctx.Context(), id, c.sessionID(ctx), payload.Password)
	return c.respond(ctx, out, err)
}

// respond writes out. A new session replaces the cookie and the locals so
// later middleware sees the rotated anti-forgery token.
func (c *HTTPController) respond(ctx router.Context, out Outcome, err error) error {
	if err != nil {
		c.Logger.Error("accounts request failed", "path", ctx.Path(), "error", err)
		return ctx.JSON(router.StatusInternalServerError, map[string]string{
			"error": "An unexpected server error occurred",
		})
	}

	if c.Debug {
		c.Logger.Debug("accounts outcome", "path", ctx.Path(), "outcome", print.MaybePrettyJSON(out))
	}

	if out.Session != nil {
		c.Cookie.Write(ctx, out.Session)
		exposeSession(ctx, out.Session)
	}

	status := StatusFor(out)
	if status == router.StatusSeeOther {
		return ctx.Redirect(out.Redirect, status)
	}
	return ctx.JSON(status, out)
}

func (c *HTTPController) badRequest(ctx router.Context, err error) error {
	c.Logger.Warn("accounts request bind failed", "path", ctx.Path(), "error", err)
	return ctx.JSON(router.StatusBadRequest, map[string]string{
		"error": "Failed to parse request",
	})
}

func (c *HTTPController) forbidden(ctx router.Context) error {
	return ctx.JSON(router.StatusForbidden, Outcome{Kind: OutcomeForbidden, Message: "Authentication required"})
}

func (c *HTTPController) sessionID(ctx router.Context) string {
	id, _ := ctx.Locals(SessionIDKey).(string)
	return id
}

// actorID is uuid.Nil for anonymous sessions, which the Gate denies.
func (c *HTTPController) actorID(ctx router.Context) uuid.UUID {
	id, _ := c.currentUserID(ctx)
	return id
}

func (c *HTTPController) currentUserID(ctx router.Context) (uuid.UUID, bool) {
	session, ok := SessionFromRouter(ctx)
	if !ok || !session.IsAuthenticated() {
		return uuid.Nil, false
	}
	return *session.UserID, true
}

func queryInt(ctx router.Context, name string) int {
	n, err := strconv.Atoi(ctx.Query(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// subjectID is uuid.Nil for malformed ids, which resolve to not found.
func (c *HTTPController) subjectID(ctx router.Context) uuid.UUID {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return uuid.Nil
	}
	return id
}
