package server

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerValidatorsOnce sync.Once

func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				name, _, _ = strings.Cut(fld.Tag.Get("form"), ",")
			}
			return name
		})
		_ = v.RegisterValidation("currency", validateCurrency)
	})
}

// validateCurrency accepts ISO 4217 codes regardless of case.
func validateCurrency(fl validator.FieldLevel) bool {
	code := strings.ToUpper(strings.TrimSpace(fl.Field().String()))
	if code == "" {
		return true
	}
	return validate.Var(code, "iso4217") == nil
}

var validate = validator.New()

// bindingError turns a ShouldBind failure into the field-level payload
// returned to clients.
func bindingError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := ValidationErrors{Errors: make([]ValidationError, 0, len(verrs))}
		for _, fe := range verrs {
			out.Errors = append(out.Errors, ValidationError{
				Field:   fe.Field(),
				Code:    fieldErrorCode(fe),
				Message: fieldErrorMessage(fe),
			})
		}
		return &out
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return newValidationError(typeErr.Field, "invalid_"+typeErr.Field, "invalid value")
	case errors.As(err, &syntaxErr):
		return invalidRequestError()
	default:
		return invalidRequestError()
	}
}

func fieldErrorCode(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "missing_" + fe.Field()
	case "currency":
		return "invalid_currency"
	default:
		return "invalid_" + fe.Field()
	}
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "currency":
		return fe.Field() + " must be an ISO 4217 currency code"
	case "max":
		return fe.Field() + " must be at most " + fe.Param()
	default:
		return "invalid value"
	}
}
