package accounts

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// DefaultMinPasswordLength is the minimum password length.
const DefaultMinPasswordLength = 8

// bcrypt ignores input past 72 bytes
const maxPasswordLength = 72

// CreateAccountInput is the admin form used to invite an account.
type CreateAccountInput struct {
	Name  string   `json:"name" form:"name"`
	Email string   `json:"email" form:"email"`
	Role  RoleName `json:"role" form:"role"`
}

// Normalize trims fields and lower cases email and role.
func (i *CreateAccountInput) Normalize() {
	i.Name = trim(i.Name)
	i.Email = NormalizeEmail(i.Email)
	i.Role = NormalizeRole(i.Role)
	if i.Role == "" {
		i.Role = DefaultRole
	}
}

// Validate implements validation.Validatable.
func (i CreateAccountInput) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&i.Email, validation.Required, validation.Length(3, 255), is.Email),
		validation.Field(&i.Role, validation.Required, roleRule()),
	)
}

// UpdateAccountInput is the admin edit form.
type UpdateAccountInput struct {
	Name  string   `json:"name" form:"name"`
	Email string   `json:"email" form:"email"`
	Role  RoleName `json:"role" form:"role"`
}

// Normalize trims fields and lower cases email and role.
func (i *UpdateAccountInput) Normalize() {
	i.Name = trim(i.Name)
	i.Email = NormalizeEmail(i.Email)
	i.Role = NormalizeRole(i.Role)
}

// Validate implements validation.Validatable.
func (i UpdateAccountInput) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&i.Email, validation.Required, validation.Length(3, 255), is.Email),
		validation.Field(&i.Role, validation.Required, roleRule()),
	)
}

// ProfileInput is the self service profile form.
type ProfileInput struct {
	Name  string `json:"name" form:"name"`
	Email string `json:"email" form:"email"`
}

// Normalize trims fields and lower cases the email.
func (i *ProfileInput) Normalize() {
	i.Name = trim(i.Name)
	i.Email = NormalizeEmail(i.Email)
}

// Validate implements validation.Validatable.
func (i ProfileInput) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&i.Email, validation.Required, validation.Length(3, 255), is.Email),
	)
}

// PasswordInput is a new password with its confirmation.
type PasswordInput struct {
	CurrentPassword      string `json:"current_password" form:"current_password"`
	Password             string `json:"password" form:"password"`
	PasswordConfirmation string `json:"password_confirmation" form:"password_confirmation"`
}

// PasswordResetRequestInput is the forgot password form.
type PasswordResetRequestInput struct {
	Email string `json:"email" form:"email"`
}

// Normalize lower cases the email.
func (i *PasswordResetRequestInput) Normalize() {
	i.Email = NormalizeEmail(i.Email)
}

// Validate implements validation.Validatable.
func (i PasswordResetRequestInput) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Email, validation.Required, validation.Length(3, 255), is.Email),
	)
}

// RegisterInput is the self registration form.
type RegisterInput struct {
	Name                 string `json:"name" form:"name"`
	Email                string `json:"email" form:"email"`
	Password             string `json:"password" form:"password"`
	PasswordConfirmation string `json:"password_confirmation" form:"password_confirmation"`
}

// Normalize trims the name and lower cases the email.
func (i *RegisterInput) Normalize() {
	i.Name = trim(i.Name)
	i.Email = NormalizeEmail(i.Email)
}

// PasswordPolicy validates new passwords.
type PasswordPolicy struct {
	MinLength int
}

// Validate checks password against the policy and its confirmation.
func (p PasswordPolicy) Validate(password, confirmation string) error {
	minLength := p.MinLength
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}

	return validation.Errors{
		"password": validation.Validate(password,
			validation.Required,
			validation.Length(minLength, maxPasswordLength),
			validation.By(func(value interface{}) error {
				if value.(string) != confirmation {
					return errors.New("the password confirmation does not match")
				}
				return nil
			}),
		),
	}.Filter()
}

func roleRule() validation.Rule {
	return validation.In(RoleMember, RoleSuperAdmin).Error("must be a valid role")
}

// validationFields flattens ozzo errors into field messages.
func validationFields(err error) map[string]string {
	if err == nil {
		return nil
	}

	var errs validation.Errors
	if !errors.As(err, &errs) {
		return map[string]string{"_": err.Error()}
	}

	out := make(map[string]string, len(errs))
	for field, fieldErr := range errs {
		if fieldErr == nil {
			continue
		}
		out[field] = fieldErr.Error()
	}
	return out
}

// validate runs v and converts failures to ValidationError.
func validate(v validation.Validatable) error {
	if err := v.Validate(); err != nil {
		return ValidationError(validationFields(err))
	}
	return nil
}

// mergeFields combines validation results into one ValidationError.
func mergeFields(errs ...error) error {
	out := map[string]string{}
	for _, err := range errs {
		for k, v := range validationFields(err) {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return ValidationError(out)
}

func trim(s string) string {
	return strings.TrimSpace(s)
}
