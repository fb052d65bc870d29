package accounts

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Intent binds a capability token to a single purpose.
type Intent string

const (
	IntentInvitation        Intent = "invitation"
	IntentEmailVerification Intent = "email-verification"
	IntentPasswordReset     Intent = "password-reset"
)

// DefaultInvitationTTL is how long an invitation link stays valid.
const DefaultInvitationTTL = 48 * time.Hour

// DefaultEmailVerificationTTL is how long an email verification link stays valid.
const DefaultEmailVerificationTTL = 60 * time.Minute

// DefaultPasswordResetTTL is how long a password reset link stays valid.
const DefaultPasswordResetTTL = 60 * time.Minute

// TokenFailure describes why a capability token was rejected.
type TokenFailure string

const (
	TokenFailureInvalid TokenFailure = "invalid"
	TokenFailureExpired TokenFailure = "expired"
)

// TokenFailureOf maps a verification error to a TokenFailure.
func TokenFailureOf(err error) (TokenFailure, bool) {
	switch {
	case err == nil:
		return "", false
	case IsTokenExpired(err):
		return TokenFailureExpired, true
	case IsTokenInvalid(err):
		return TokenFailureInvalid, true
	default:
		return "", false
	}
}

// TokenService issues and verifies capability tokens. Tokens are self
// contained: verification needs no storage and has no side effects.
type TokenService interface {
	// Issue signs a token for subject and intent, valid until now+ttl. A
	// non positive ttl yields a token that is already expired.
	Issue(subject string, intent Intent, ttl time.Duration) (string, time.Time, error)
	// Verify returns the subject of an authentic, unexpired token minted for
	// the expected intent. Failures are ErrTokenInvalid or ErrTokenExpired.
	Verify(token string, expected Intent) (string, error)
	// VerifySubject is Verify plus a check that the token names subject.
	VerifySubject(token string, expected Intent, subject string) error
	// IssueBound is Issue plus a keyed digest of binding. The token is only
	// accepted by VerifyBound while the caller presents the same binding.
	IssueBound(subject string, intent Intent, binding string, ttl time.Duration) (string, time.Time, error)
	// VerifyBound is VerifySubject plus a check of the binding digest.
	VerifyBound(token string, expected Intent, subject, binding string) error
}

type capabilityClaims struct {
	Intent  Intent `json:"intent"`
	Binding string `json:"bnd,omitempty"`
	jwt.RegisteredClaims
}

type tokenService struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

var _ TokenService = (*tokenService)(nil)

// TokenServiceOption customizes the token service.
type TokenServiceOption func(*tokenService)

// WithTokenIssuer sets the iss claim, verification then requires it.
func WithTokenIssuer(issuer string) TokenServiceOption {
	return func(s *tokenService) {
		s.issuer = strings.TrimSpace(issuer)
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(s *tokenService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewTokenService returns a TokenService signing HS256 tokens with signingKey.
func NewTokenService(signingKey []byte, opts ...TokenServiceOption) (TokenService, error) {
	if len(signingKey) < 32 {
		return nil, goerrors.New("signing key must be at least 32 bytes", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	s := &tokenService{
		signingKey: append([]byte{}, signingKey...),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *tokenService) Issue(subject string, intent Intent, ttl time.Duration) (string, time.Time, error) {
	return s.issue(subject, intent, "", ttl)
}

func (s *tokenService) IssueBound(subject string, intent Intent, binding string, ttl time.Duration) (string, time.Time, error) {
	if binding == "" {
		return "", time.Time{}, goerrors.New("token binding is required", goerrors.CategoryBadInput)
	}
	return s.issue(subject, intent, s.digest(binding), ttl)
}

func (s *tokenService) issue(subject string, intent Intent, binding string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" || intent == "" {
		return "", time.Time{}, goerrors.New("token subject and intent are required", goerrors.CategoryBadInput)
	}

	issuedAt := s.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)

	claims := capabilityClaims{
		Intent:  intent,
		Binding: binding,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "sign capability token")
	}
	return signed, expiresAt, nil
}

func (s *tokenService) Verify(token string, expected Intent) (string, error) {
	claims, err := s.parse(token, expected)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *tokenService) parse(token string, expected Intent) (*capabilityClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	// Claims are checked below so that expiry is only reported for tokens
	// with a valid signature.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithoutClaimsValidation(),
	)

	claims := &capabilityClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil || parsed == nil || !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Intent != expected || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrTokenInvalid
	}

	if claims.ExpiresAt == nil {
		return nil, ErrTokenInvalid
	}

	if !s.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}

	return claims, nil
}

func (s *tokenService) VerifySubject(token string, expected Intent, subject string) error {
	_, err := s.verifySubject(token, expected, subject)
	return err
}

func (s *tokenService) VerifyBound(token string, expected Intent, subject, binding string) error {
	claims, err := s.verifySubject(token, expected, subject)
	if err != nil {
		return err
	}

	if binding == "" || claims.Binding == "" {
		return ErrTokenInvalid
	}

	if !hmac.Equal([]byte(claims.Binding), []byte(s.digest(binding))) {
		return ErrTokenInvalid
	}
	return nil
}

func (s *tokenService) verifySubject(token string, expected Intent, subject string) (*capabilityClaims, error) {
	claims, err := s.parse(token, expected)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(claims.Subject), []byte(subject)) != 1 {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// digest is the hex HMAC of binding under the signing key.
func (s *tokenService) digest(binding string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(binding))
	return hex.EncodeToString(mac.Sum(nil))
}

// CapabilityURL builds the link delivered to the account owner, the token
// travels as a query parameter and the subject in the path.
func CapabilityURL(base, path, subject, token string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path = "/" + strings.Trim(path, "/")
	q := url.Values{}
	q.Set("token", token)
	return fmt.Sprintf("%s%s/%s?%s", base, path, url.PathEscape(subject), q.Encode())
}

// InvitationURL builds the invitation acceptance link.
func InvitationURL(base, subject, token string) string {
	return CapabilityURL(base, "/invitations", subject, token)
}
