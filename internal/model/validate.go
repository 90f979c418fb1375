package model

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Violation describes one rejected payload field.
type Violation struct {
	Field string
	Rule  string
	Param string
}

// Message renders the violation for people.
func (v Violation) Message() string {
	switch v.Rule {
	case "notblank", "required":
		return v.Field + " is required"
	case "max":
		return v.Field + " must be at most " + v.Param + " characters"
	case "gt":
		return v.Field + " must be greater than " + v.Param
	default:
		return v.Field + " is invalid"
	}
}

// Violations is returned by Validate when a payload breaks its field rules.
type Violations []Violation

func (v Violations) Error() string {
	messages := make([]string, 0, len(v))
	for _, violation := range v {
		messages = append(messages, violation.Message())
	}
	return strings.Join(messages, "; ")
}

var (
	validatorOnce     sync.Once
	payloadValidation *validator.Validate
)

func payloadValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validate := validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
		if err := validate.RegisterValidation("notblank", notBlank); err != nil {
			panic(err)
		}
		payloadValidation = validate
	})
	return payloadValidation
}

func notBlank(fl validator.FieldLevel) bool {
	field := fl.Field()
	for field.Kind() == reflect.Pointer {
		if field.IsNil() {
			return false
		}
		field = field.Elem()
	}
	if field.Kind() != reflect.String {
		return !field.IsZero()
	}
	return strings.TrimSpace(field.String()) != ""
}

// Validate checks a create or patch payload against its field rules.
// It returns Violations when the payload is rejected and nil otherwise.
func Validate(payload any) error {
	err := payloadValidator().Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	violations := make(Violations, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		violations = append(violations, Violation{
			Field: fieldError.Field(),
			Rule:  fieldError.Tag(),
			Param: fieldError.Param(),
		})
	}
	return violations
}
