package rules

import (
	"errors"
	"fmt"

	"github.com/getmockd/mockproxy/internal/document"
)

// ruleListSchema accepts only the exact field types a rule may carry. In
// particular "enabled" must be a JSON boolean: "true" or 1 fail the load.
const ruleListSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["method", "urlRegex", "enabled", "mockResponsePath"],
    "properties": {
      "method": {"type": "string", "minLength": 1},
      "urlRegex": {"type": "string"},
      "enabled": {"type": "boolean"},
      "mockResponsePath": {"type": "string", "minLength": 1}
    }
  }
}`

var ruleSchema = document.MustCompileSchema("rules.json", ruleListSchema)

// Format is the syntax of a rule document.
type Format = document.Format

// Rule document formats.
const (
	FormatJSON = document.FormatJSON
	FormatYAML = document.FormatYAML
)

// Parse decodes and validates a rule document. source is used in error messages
// and recorded on every rule.
func Parse(data []byte, format Format, source string) (*RuleSet, error) {
	list, err := decodeRules(data, format)
	if err != nil {
		return nil, &ConfigLoadError{Source: source, Err: err}
	}
	for i := range list {
		list[i].Source = source
	}

	set, errs := compile(list, source)
	if len(errs) > 0 {
		return nil, &ConfigLoadError{Source: source, Err: errs}
	}
	return set, nil
}

// decodeRules turns one document into rule records without compiling them.
func decodeRules(data []byte, format Format) ([]Rule, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	normalized, err := document.Normalize(data, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}

	violations, err := ruleSchema.Validate(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}
	if len(violations) > 0 {
		errs := make(ValidationErrors, len(violations))
		for i, v := range violations {
			errs[i] = ValidationError{Path: document.Path("rules", v.Pointer), Message: v.Message}
		}
		return nil, errs
	}

	var list []Rule
	if err := document.Decode(normalized, &list); err != nil {
		// The schema already guarantees the shape.
		return nil, errors.Join(ErrInvalidRules, err)
	}
	return list, nil
}
