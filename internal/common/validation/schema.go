package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const rootContext = "(root)"

// ValidationResult is the outcome of checking a parameter map against a schema.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Summary renders an error as a short phrase such as "missing leadId".
func (e ValidationError) Summary() string {
	switch e.Code {
	case "required":
		return "missing " + e.Field
	case "invalid_type":
		return "invalid " + e.Field
	default:
		if e.Field == "" {
			return e.Message
		}
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
}

// First returns the first error in stable order, required fields first.
func (r *ValidationResult) First() (ValidationError, bool) {
	if r == nil || len(r.Errors) == 0 {
		return ValidationError{}, false
	}
	return r.Errors[0], true
}

// ValidateParameters checks input against a JSON schema document held as a Go
// map. A nil or empty schema accepts everything.
func ValidateParameters(schema map[string]interface{}, input map[string]interface{}) (*ValidationResult, error) {
	if len(schema) == 0 {
		return &ValidationResult{Valid: true}, nil
	}
	if input == nil {
		input = map[string]interface{}{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(input)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fieldName(desc),
			Message: desc.Description(),
			Code:    desc.Type(),
		})
	}
	sort.SliceStable(out.Errors, func(i, j int) bool {
		ri, rj := out.Errors[i].Code == "required", out.Errors[j].Code == "required"
		if ri != rj {
			return ri
		}
		return out.Errors[i].Field < out.Errors[j].Field
	})
	return out, nil
}

func fieldName(desc gojsonschema.ResultError) string {
	if desc.Type() == "required" {
		if p, ok := desc.Details()["property"].(string); ok {
			return p
		}
	}
	field := desc.Field()
	if field == rootContext {
		return ""
	}
	return strings.TrimPrefix(field, rootContext+".")
}
