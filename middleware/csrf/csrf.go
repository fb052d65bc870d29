package csrf

import (
	"context"
	"crypto/subtle"
	"errors"
	"html"
	"slices"
	"strings"

	"github.com/goliatone/go-router"
)

var (
	ErrTokenMismatch  = errors.New("CSRF token mismatch")
	ErrTokenMissing   = errors.New("CSRF token missing")
	ErrSessionMissing = errors.New("CSRF session missing")
)

// DefaultContextKey is the default key for storing CSRF tokens in context
const DefaultContextKey = "csrf_token"

// DefaultSessionKey is the locals key holding the current session id
const DefaultSessionKey = "session_id"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// TokenSource resolves the anti-forgery token bound to a session.
type TokenSource interface {
	CSRFToken(ctx context.Context, sessionID string) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context, sessionID string) (string, error)

// CSRFToken implements TokenSource.
func (f TokenSourceFunc) CSRFToken(ctx context.Context, sessionID string) (string, error) {
	return f(ctx, sessionID)
}

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// Source returns the token of the current session. Required.
	Source TokenSource

	// SessionKey is the locals key where the session middleware stored
	// the current session id
	SessionKey string

	// ContextKey defines the key for storing the token in context
	ContextKey string

	// FormFieldName defines the name of the form field containing the token
	FormFieldName string

	// HeaderName defines the header name for the token
	HeaderName string

	// TokenLookup defines where to look for the token
	// Format: "form:_token,header:X-CSRF-Token"
	TokenLookup string

	// ErrorHandler defines the error handler
	ErrorHandler router.ErrorHandler

	// SuccessHandler defines the success handler
	SuccessHandler router.HandlerFunc

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string
}

// TokenExtractor defines a function to extract token from request
type TokenExtractor func(router.Context) string

// New creates a new CSRF middleware. Tokens are never generated here, the
// session owns them and rotates them on every identity change.
func New(config Config) router.MiddlewareFunc {
	cfg := configDefault(config)
	if cfg.Source == nil {
		panic("csrf: token source required")
	}

	extractors := getExtractors(cfg.TokenLookup, cfg.FormFieldName, cfg.HeaderName)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return ctx.Next()
			}

			sessionID, _ := ctx.Locals(cfg.SessionKey).(string)
			if sessionID == "" {
				return cfg.ErrorHandler(ctx, ErrSessionMissing)
			}

			expected, err := cfg.Source.CSRFToken(ctx.Context(), sessionID)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, expected)
			ctx.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
			ctx.Locals(cfg.ContextKey+"_header", cfg.HeaderName)

			if slices.Contains(cfg.SafeMethods, strings.ToUpper(ctx.Method())) {
				return cfg.SuccessHandler(ctx)
			}

			if err := validateToken(ctx, extractors, expected); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

func validateToken(ctx router.Context, extractors []TokenExtractor, expected string) error {
	received := extractToken(ctx, extractors)
	if received == "" {
		return ErrTokenMissing
	}

	if expected == "" || subtle.ConstantTimeCompare([]byte(received), []byte(expected)) != 1 {
		return ErrTokenMismatch
	}
	return nil
}

func extractToken(ctx router.Context, extractors []TokenExtractor) string {
	for _, extractor := range extractors {
		if token := extractor(ctx); token != "" {
			return token
		}
	}
	return ""
}

// getExtractors returns token extractors based on configuration
func getExtractors(tokenLookup, formField, header string) []TokenExtractor {
	if tokenLookup == "" {
		return []TokenExtractor{
			extractorFromForm(formField),
			extractorFromHeader(header),
		}
	}

	var extractors []TokenExtractor
	for _, part := range strings.Split(tokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || name == "" {
			continue
		}
		switch source {
		case "form":
			extractors = append(extractors, extractorFromForm(name))
		case "header":
			extractors = append(extractors, extractorFromHeader(name))
		}
	}
	return extractors
}

func extractorFromForm(fieldName string) TokenExtractor {
	return func(ctx router.Context) string {
		return ctx.FormValue(fieldName)
	}
}

func extractorFromHeader(headerName string) TokenExtractor {
	return func(ctx router.Context) string {
		return ctx.GetString(headerName, "")
	}
}

func configDefault(cfg Config) Config {
	if cfg.SessionKey == "" {
		cfg.SessionKey = DefaultSessionKey
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return ctx.Status(router.StatusBadRequest).SendString("CSRF token missing")
	case errors.Is(err, ErrTokenMismatch), errors.Is(err, ErrSessionMissing):
		return ctx.Status(router.StatusForbidden).SendString("CSRF token mismatch")
	default:
		return ctx.Status(router.StatusForbidden).SendString("CSRF validation error")
	}
}

// HiddenField renders the form input carrying token.
func HiddenField(token string) string {
	return `<input type="hidden" name="` + DefaultFormFieldName + `" value="` + html.EscapeString(token) + `">`
}

// MetaTag renders the meta tag scripts read the token from.
func MetaTag(token string) string {
	return `<meta name="csrf-token" content="` + html.EscapeString(token) + `">`
}
