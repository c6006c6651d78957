package model

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the validate tags of v and reports failures as ErrValidation.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make([]string, 0, len(validationErrors))
		for _, fe := range validationErrors {
			fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
		}
		return NewValidationError("invalid %s", strings.Join(fields, ", "))
	}

	return NewValidationError("%v", err)
}
