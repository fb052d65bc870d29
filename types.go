package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is the structured logger used across the package.
// glog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// CapabilityLink is an out of band message carrying a capability token.
type CapabilityLink struct {
	Intent    Intent
	AccountID string
	Name      string
	Email     string
	Token     string
	URL       string
	ExpiresAt time.Time
}

// Notifier delivers capability links (invitations, email verification).
// Delivery failures are logged by the caller and never retried.
type Notifier interface {
	Send(ctx context.Context, link CapabilityLink) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, link CapabilityLink) error

// Send implements Notifier.
func (f NotifierFunc) Send(ctx context.Context, link CapabilityLink) error {
	if f == nil {
		return nil
	}
	return f(ctx, link)
}

type noopNotifier struct{}

func (noopNotifier) Send(context.Context, CapabilityLink) error {
	return nil
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Println("[DBG] ACCOUNTS " + format(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Println("[INF] ACCOUNTS " + format(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Println("[WRN] ACCOUNTS " + format(msg, args...))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Println("[ERR] ACCOUNTS " + format(msg, args...))
}

func format(msg string, args ...any) string {
	if len(args) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	return b.String()
}
