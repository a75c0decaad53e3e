package platform

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Settings is the type-specific table of a platform entry.
type Settings map[string]any

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// Decode copies the settings into target, a pointer to a struct with toml
// tags, and enforces its validate tags. Unknown keys are rejected.
func (s Settings) Decode(target any) error {
	data, err := toml.Marshal(map[string]any(s))
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	decoder := toml.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validate settings: %w", err)
	}
	messages := make([]string, 0, len(errs))
	for _, fieldErr := range errs {
		messages = append(messages, fieldErr.Field()+" "+validationMessage(fieldErr))
	}
	sort.Strings(messages)
	return fmt.Errorf("invalid settings: %s", strings.Join(messages, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "url", "http_url":
		return "must be a valid URL"
	case "file":
		return "must be an existing file"
	case "dir":
		return "must be an existing directory"
	}
	return "is invalid"
}
