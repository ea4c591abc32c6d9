// Package validation runs struct-tag validation and turns failures into
// apperr validation errors with readable messages.
package validation

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"memoria/internal/apperr"
)

var validate = validator.New()

// Struct validates s. The error, if any, is an *apperr.ValidationError with
// code INVALID_INPUT.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Invalid(apperr.CodeInvalidInput, "%v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		param := fe.Param()

		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" must be at least "+param)
		case "max":
			msgs = append(msgs, field+" must be at most "+param)
		case "gt":
			msgs = append(msgs, field+" must be greater than "+param)
		case "gte":
			msgs = append(msgs, field+" must not be negative")
		case "email":
			msgs = append(msgs, field+" must be a valid email")
		case "oneof":
			msgs = append(msgs, field+" must be one of: "+param)
		case "url":
			msgs = append(msgs, field+" must be a valid URL")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return apperr.Invalid(apperr.CodeInvalidInput, "%s", strings.Join(msgs, ", "))
}
