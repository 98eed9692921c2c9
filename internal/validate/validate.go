// Package validate wraps go-playground/validator with English messages keyed by JSON field names.
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// ErrValidation matches every *ValidationError with errors.Is.
var ErrValidation = errors.New("validation failed")

var (
	clockTag   = "clock"
	clockText  = "{0} must be a time of day in HH:MM format"
	clockRegex = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d(:[0-5]\d)?$`)

	dateTag   = "date"
	dateText  = "{0} must be a date in YYYY-MM-DD format"
	dateRegex = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])$`)

	requiredTag  = "required"
	requiredText = "{0} is required"
)

// FieldError names the offending field and the reason it was rejected.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError carries every field error of one validation pass.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is reports ErrValidation as a match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Field returns the message for one field, or "" when it passed.
func (e *ValidationError) Field(name string) string {
	for _, f := range e.Fields {
		if f.Field == name {
			return f.Error
		}
	}
	return ""
}

// Fields extracts field errors from err, or nil when err is not a validation failure.
func Fields(err error) []FieldError {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}

// Validator checks tagged structs. It is safe for concurrent use.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New builds a validator with the English translator and the custom clock and date tags.
func New() *Validator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New()
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(clockTag, func(fl validator.FieldLevel) bool {
		return clockRegex.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation(dateTag, func(fl validator.FieldLevel) bool {
		return dateRegex.MatchString(fl.Field().String())
	})

	registerTranslation(validate, translator, clockTag, clockText, false)
	registerTranslation(validate, translator, dateTag, dateText, false)
	registerTranslation(validate, translator, requiredTag, requiredText, true)

	return &Validator{validate: validate, translator: translator}
}

// Struct validates s. It never mutates s and returns a *ValidationError listing fields in
// declaration order.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Error: fe.Translate(v.translator)})
	}
	return out
}

// Var validates a single value against tag and reports it under field.
func (v *Validator) Var(field string, value any, tag string) error {
	err := v.validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		msg := fe.Translate(v.translator)
		// Var has no field name, so the translator renders an empty subject.
		msg = strings.TrimSpace(msg)
		out.Fields = append(out.Fields, FieldError{Field: field, Error: field + " " + msg})
	}
	return out
}

func registerTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override bool) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, override) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}
