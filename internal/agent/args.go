package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

var ErrInvalidArgs = errors.New("invalid arguments")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// BindArgs decodes a tool call's JSON arguments into dst and validates them
// against its struct tags. Unknown fields are rejected.
func BindArgs(input string, dst any) error {
	dec := json.NewDecoder(strings.NewReader(input))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgs, describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs[i] = fmt.Sprintf("field %q is required", fe.Field())
		default:
			msgs[i] = fmt.Sprintf("field %q failed %q", fe.Field(), fe.Tag())
		}
	}
	return strings.Join(msgs, "; ")
}

var reflector = &jsonschema.Reflector{
	Anonymous:      true,
	DoNotReference: true,
	ExpandedStruct: true,
}

// SchemaOf builds the JSON schema of an argument struct in the shape the
// Responses API expects for function parameters.
func SchemaOf(v any) map[string]any {
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("tool schema: %v", err))
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		panic(fmt.Sprintf("tool schema: %v", err))
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema
}
