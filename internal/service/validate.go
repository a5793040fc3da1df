package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/DukeRupert/quizauth/internal/domain"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// MaxPasswordLength is the bcrypt input limit in bytes.
	MaxPasswordLength = 72

	MaxEmailLength = 255
	MaxNameLength  = 100
)

var emailCaser = cases.Lower(language.Und)

// NormalizeEmail trims and lowercases an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return emailCaser.String(strings.TrimSpace(email))
}

func validateRegister(op string, p domain.RegisterParams, minPassword int) error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Email,
			validation.Required.Error("Email is required"),
			validation.Length(0, MaxEmailLength).Error(fmt.Sprintf("Email must be at most %d characters", MaxEmailLength)),
			is.Email.Error("Email should be valid"),
		),
		validation.Field(&p.Password,
			validation.Required.Error("Password is required"),
			validation.Length(minPassword, 0).Error(fmt.Sprintf("Password must be at least %d characters", minPassword)),
			validation.By(maxBytes(MaxPasswordLength, fmt.Sprintf("Password must be at most %d bytes", MaxPasswordLength))),
		),
		validation.Field(&p.FirstName,
			validation.Length(0, MaxNameLength).Error(fmt.Sprintf("First name must be at most %d characters", MaxNameLength)),
		),
		validation.Field(&p.LastName,
			validation.Length(0, MaxNameLength).Error(fmt.Sprintf("Last name must be at most %d characters", MaxNameLength)),
		),
	)
	return toValidationError(op, err)
}

func validateLogin(op string, p domain.LoginParams) error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Email,
			validation.Required.Error("Email is required"),
			is.Email.Error("Email should be valid"),
		),
		validation.Field(&p.Password,
			validation.Required.Error("Password is required"),
		),
	)
	return toValidationError(op, err)
}

func maxBytes(limit int, message string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if len(s) > limit {
			return errors.New(message)
		}
		return nil
	}
}

// toValidationError converts ozzo field errors, keyed by json tag, into a
// domain.ValidationError. Anything else is returned as an internal error.
func toValidationError(op string, err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return domain.Internal(err, op, "Failed to validate input")
	}
	ve := &domain.ValidationError{Op: op, Fields: make(map[string]string, len(fieldErrs))}
	for field, fe := range fieldErrs {
		if fe != nil {
			ve.Fields[field] = fe.Error()
		}
	}
	return ve
}
