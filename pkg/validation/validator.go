// Package validation applies the catalog field rules using go-playground/validator.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrValidation matches any *Error with errors.Is.
var ErrValidation = errors.New("validation failed")

// BookInput carries the user-editable fields of a book record.
type BookInput struct {
	Title  string `json:"title" validate:"required,min=2,max=200"`
	Author string `json:"author" validate:"required,max=200"`
	Status string `json:"status" validate:"required,oneof=READING COMPLETED WISHLIST ABANDONED"`
	Rating int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Notes  string `json:"notes" validate:"max=1000"`
}

// FieldError is the first violated rule of one field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error groups every invalid field of one value, in struct field order.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *Error) Is(target error) bool {
	return target == ErrValidation
}

// Validator wraps go-playground/validator with json field naming.
type Validator struct {
	v *validator.Validate
}

// New creates a validator that reports fields by their json names.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return &Validator{v: v}
}

// Fields returns one FieldError per invalid field, or nil when s is valid.
func (v *Validator) Fields(s any) ([]FieldError, error) {
	err := v.v.Struct(s)
	if err == nil {
		return nil, nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return nil, err
	}
	out := make([]FieldError, 0, len(validationErrs))
	seen := make(map[string]bool, len(validationErrs))
	for _, e := range validationErrs {
		if seen[e.Field()] {
			continue
		}
		seen[e.Field()] = true
		out = append(out, FieldError{Field: e.Field(), Message: friendlyMessage(e)})
	}
	return out, nil
}

// Validate returns an *Error describing every invalid field.
func (v *Validator) Validate(s any) error {
	fields, err := v.Fields(s)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	return &Error{Fields: fields}
}

func friendlyMessage(e validator.FieldError) string {
	numeric := e.Kind() != reflect.String
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if numeric {
			return "must be at least " + e.Param()
		}
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		if numeric {
			return "must be at most " + e.Param()
		}
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(e.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}
