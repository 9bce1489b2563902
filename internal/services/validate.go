// Package services – input validation
//
// Submissions and completed registrations are validated with
// go-playground/validator. Two custom tags are registered:
//
//   - servicetype: the value is one of domain.ServiceTypes
//   - phone:       a contact phone with 6 to 15 digits, optionally
//     prefixed with "+" and grouped with spaces, dashes or parentheses
//
// Validation failures are reported as ErrValidation wrapped with a short,
// field-level description.
package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

var phoneRE = regexp.MustCompile(`^\+?[0-9()\-\s]+$`)

// IsPhone reports whether s looks like a dialable contact phone.
func IsPhone(s string) bool {
	s = strings.TrimSpace(s)
	if !phoneRE.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 6 && digits <= 15
}

func newValidator() *validator.Validate {
	v := validator.New()

	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return IsPhone(fl.Field().String())
	})

	_ = v.RegisterValidation("servicetype", func(fl validator.FieldLevel) bool {
		return domain.ServiceType(fl.Field().String()).Valid()
	})

	return v
}

var validate = newValidator()

// validateStruct runs the validator on v and maps failures to ErrValidation.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}
