package accounts

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Config holds account options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAppURL() string
	GetInvitationTTL() time.Duration
	GetEmailVerificationTTL() time.Duration
	GetPasswordResetTTL() time.Duration
	GetSessionTTL() time.Duration
	GetMinPasswordLength() int
	GetBcryptCost() int
	GetAllowRegistration() bool
	GetOperationTimeout() time.Duration
}

// BaseConfig is a Config loadable from files and environment.
type BaseConfig struct {
	SigningKey                  string      `koanf:"signing_key" json:"-"`
	Issuer                      string      `koanf:"issuer" json:"issuer"`
	AppURL                      string      `koanf:"app_url" json:"app_url"`
	InvitationTTLHours          int         `koanf:"invitation_ttl_hours" json:"invitation_ttl_hours"`
	EmailVerificationTTLMinutes int         `koanf:"email_verification_ttl_minutes" json:"email_verification_ttl_minutes"`
	PasswordResetTTLMinutes     int         `koanf:"password_reset_ttl_minutes" json:"password_reset_ttl_minutes"`
	SessionTTLMinutes           int         `koanf:"session_ttl_minutes" json:"session_ttl_minutes"`
	MinPasswordLength           int         `koanf:"min_password_length" json:"min_password_length"`
	BcryptCost                  int         `koanf:"bcrypt_cost" json:"bcrypt_cost"`
	AllowRegistration           bool        `koanf:"allow_registration" json:"allow_registration"`
	OperationTimeoutSeconds     int         `koanf:"operation_timeout_seconds" json:"operation_timeout_seconds"`
	Persistence                 Persistence `koanf:"persistence" json:"persistence"`
	Sessions                    Sessions    `koanf:"sessions" json:"sessions"`
	Server                      Server      `koanf:"server" json:"server"`
}

// Persistence configures the database.
type Persistence struct {
	Driver string `koanf:"driver" json:"driver"`
	DSN    string `koanf:"dsn" json:"dsn"`
	Debug  bool   `koanf:"debug" json:"debug"`
}

// Sessions configures the session backend.
type Sessions struct {
	// Backend is "database" or "redis".
	Backend       string `koanf:"backend" json:"backend"`
	RedisAddr     string `koanf:"redis_addr" json:"redis_addr"`
	RedisPassword string `koanf:"redis_password" json:"-"`
	RedisDB       int    `koanf:"redis_db" json:"redis_db"`
	CookieName    string `koanf:"cookie_name" json:"cookie_name"`
	CookieSecure  bool   `koanf:"cookie_secure" json:"cookie_secure"`
}

// Server configures the HTTP listener.
type Server struct {
	Address string `koanf:"address" json:"address"`
	Metrics bool   `koanf:"metrics" json:"metrics"`
}

var _ Config = BaseConfig{}

// Validate implements validation.Validatable.
func (c BaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.AppURL, validation.Required, is.URL),
		validation.Field(&c.MinPasswordLength, validation.Min(0)),
		validation.Field(&c.BcryptCost, validation.Min(0), validation.Max(31)),
	)
}

func (c BaseConfig) GetSigningKey() string {
	return c.SigningKey
}

func (c BaseConfig) GetIssuer() string {
	return c.Issuer
}

func (c BaseConfig) GetAppURL() string {
	return c.AppURL
}

func (c BaseConfig) GetInvitationTTL() time.Duration {
	if c.InvitationTTLHours <= 0 {
		return DefaultInvitationTTL
	}
	return time.Duration(c.InvitationTTLHours) * time.Hour
}

func (c BaseConfig) GetEmailVerificationTTL() time.Duration {
	if c.EmailVerificationTTLMinutes <= 0 {
		return DefaultEmailVerificationTTL
	}
	return time.Duration(c.EmailVerificationTTLMinutes) * time.Minute
}

func (c BaseConfig) GetPasswordResetTTL() time.Duration {
	if c.PasswordResetTTLMinutes <= 0 {
		return DefaultPasswordResetTTL
	}
	return time.Duration(c.PasswordResetTTLMinutes) * time.Minute
}

func (c BaseConfig) GetSessionTTL() time.Duration {
	if c.SessionTTLMinutes <= 0 {
		return DefaultSessionTTL
	}
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func (c BaseConfig) GetMinPasswordLength() int {
	if c.MinPasswordLength <= 0 {
		return DefaultMinPasswordLength
	}
	return c.MinPasswordLength
}

func (c BaseConfig) GetBcryptCost() int {
	return c.BcryptCost
}

func (c BaseConfig) GetAllowRegistration() bool {
	return c.AllowRegistration
}

func (c BaseConfig) GetOperationTimeout() time.Duration {
	if c.OperationTimeoutSeconds <= 0 {
		return DefaultOperationTimeout
	}
	return time.Duration(c.OperationTimeoutSeconds) * time.Second
}
