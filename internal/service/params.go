package service

import (
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/lms-studio-api/internal/models"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
)

// Request parameter names checked by the account endpoints.
const (
	ParamUsername = "username"
	ParamEmail    = "email"
	ParamGender   = "gender"
	ParamUID      = "uid"
)

var paramMessages = map[string]string{
	ParamUsername: "Username is required parameter.",
	ParamEmail:    "Email is required parameter.",
	ParamGender:   "Gender parameter must contain 'm'(Male), 'f'(Female) or 'o'(Other. Default if parameter is missing)",
	ParamUID:      "Uid is required parameter.",
}

const (
	msgInvalidEmail  = "Enter a valid email address."
	msgWrongUsername = "Wrong username"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ParamValidator checks request parameters and reports failures with
// field-specific messages.
type ParamValidator struct {
	validate *validator.Validate
}

// NewParamValidator builds a validator; a nil validate instance gets a fresh one.
func NewParamValidator(validate *validator.Validate) *ParamValidator {
	if validate == nil {
		validate = validator.New()
	}
	return &ParamValidator{validate: validate}
}

// Require returns value when it is present and, if allowed is non-empty, one
// of the allowed values. Otherwise it fails with the field's message.
func (p *ParamValidator) Require(value, field string, allowed ...string) (string, error) {
	if value == "" || (len(allowed) > 0 && !slices.Contains(allowed, value)) {
		return "", paramError(field)
	}
	return value, nil
}

// Gender validates an optional gender value, defaulting to "o".
func (p *ParamValidator) Gender(value *string) (string, error) {
	if value == nil {
		return models.GenderOther, nil
	}
	return p.Require(*value, ParamGender, models.Genders...)
}

// Email checks the address format.
func (p *ParamValidator) Email(email string) error {
	if err := p.validate.Var(strings.TrimSpace(email), "required,email"); err != nil {
		return appErrors.WithField(appErrors.ErrValidation, msgInvalidEmail, ParamEmail, msgInvalidEmail)
	}
	return nil
}

// Username checks that the value only contains letters, digits and underscores.
func (p *ParamValidator) Username(username string) error {
	if !usernamePattern.MatchString(username) {
		return appErrors.WithField(appErrors.ErrValidation, msgWrongUsername, ParamUsername, msgWrongUsername)
	}
	return nil
}

func paramError(field string) error {
	msg, ok := paramMessages[field]
	if !ok {
		msg = field + " is required parameter."
	}
	return appErrors.WithField(appErrors.ErrValidation, msg, field, msg)
}
