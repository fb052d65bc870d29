package accounts

import (
	"context"
)

// Action is an administrative action checked by the Gate.
type Action string

const (
	ActionView        Action = "view"
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionDelete      Action = "delete"
	ActionImpersonate Action = "impersonate"
)

var actionPermissions = map[Action]Permission{
	ActionView:        PermissionViewUsers,
	ActionCreate:      PermissionCreateUsers,
	ActionUpdate:      PermissionUpdateUsers,
	ActionDelete:      PermissionDeleteUsers,
	ActionImpersonate: PermissionImpersonateUsers,
}

// PermissionFor returns the permission required by action.
func PermissionFor(action Action) (Permission, bool) {
	p, ok := actionPermissions[action]
	return p, ok
}

// excludesSelf reports whether action can never target the acting account.
func excludesSelf(action Action) bool {
	return action == ActionDelete || action == ActionImpersonate
}

// Gate answers whether a subject may perform an action on a target.
type Gate interface {
	Can(ctx context.Context, subject *User, action Action, target *User) bool
	// Authorize is Can returning ErrForbidden on denial.
	Authorize(ctx context.Context, subject *User, action Action, target *User) error
}

type gate struct {
	roles   RoleStore
	logger  Logger
	metrics *Metrics
}

var _ Gate = (*gate)(nil)

// GateOption customizes the Gate.
type GateOption func(*gate)

// WithGateLogger sets the logger for decisions.
func WithGateLogger(logger Logger) GateOption {
	return func(g *gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGateMetrics records decisions in m.
func WithGateMetrics(m *Metrics) GateOption {
	return func(g *gate) {
		g.metrics = m
	}
}

// NewGate returns a Gate that checks permissions through roles.
func NewGate(roles RoleStore, opts ...GateOption) Gate {
	g := &gate{
		roles:  roles,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func (g *gate) Can(ctx context.Context, subject *User, action Action, target *User) bool {
	allowed := g.decide(ctx, subject, action, target)
	g.metrics.observeGate(action, allowed)
	if !allowed {
		g.logger.Debug("gate denied", "action", string(action), "subject", subjectID(subject), "target", subjectID(target))
	}
	return allowed
}

func (g *gate) Authorize(ctx context.Context, subject *User, action Action, target *User) error {
	if g.Can(ctx, subject, action, target) {
		return nil
	}
	return ErrForbidden
}

func (g *gate) decide(ctx context.Context, subject *User, action Action, target *User) bool {
	if subject == nil {
		return false
	}

	perm, ok := PermissionFor(action)
	if !ok {
		return false
	}

	// self exclusion holds for the super role as well
	if excludesSelf(action) && target != nil && target.ID == subject.ID {
		return false
	}

	if IsSuperAdmin(subject) {
		return true
	}

	if g.roles == nil {
		return false
	}
	return g.roles.HasPermission(ctx, subject, perm)
}

func subjectID(u *User) string {
	if u == nil {
		return ""
	}
	return u.ID.String()
}
