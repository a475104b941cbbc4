package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"marketplace-orders/internal/models"

	"github.com/go-playground/validator/v10"
)

var (
	zipCodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 \-]{2,9}$`)
	phonePattern   = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,18}[0-9]$`)
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("zipcode", func(fl validator.FieldLevel) bool {
		return zipCodePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// validationError converts the first validator failure into a models.ValidationError.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &models.ValidationError{Field: "request", Reason: err.Error()}
	}

	fe := fieldErrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "CreateOrderRequest.")
	reason := fe.Tag()
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "zipcode":
		reason = "is not a valid zip code"
	case "phone":
		reason = "is not a valid phone number"
	case "max":
		reason = fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return &models.ValidationError{Field: field, Reason: reason}
}
