package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"bizledger/internal/models"

	"github.com/go-playground/validator/v10"
)

var ErrInvalid = errors.New("invalid request")

var phoneRegex = regexp.MustCompile(`^\+?[0-9][0-9 \-]{5,19}$`)

// Error lists the failing fields by their JSON names.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error {
	return ErrInvalid
}

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phoneRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("party_kind", func(fl validator.FieldLevel) bool {
		return models.PartyKind(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("direction", func(fl validator.FieldLevel) bool {
		return models.Direction(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("opening_direction", func(fl validator.FieldLevel) bool {
		return models.OpeningDirection(fl.Field().String()).Valid()
	})
	return v
}

// Struct validates request structs by their `validate` tags.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &Error{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "phone":
		return "must be a phone number"
	case "party_kind":
		return "must be customer or supplier"
	case "direction":
		return "must be gave or got"
	case "opening_direction":
		return "must be to_receive or to_pay"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}
