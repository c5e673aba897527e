package document

import (
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON Schema.
type Schema struct {
	schema *jsonschema.Schema
}

// Violation is one schema failure at a location in the document.
type Violation struct {
	// Pointer is the JSON Pointer of the offending value ("" for the root).
	Pointer string
	Message string
}

// MustCompileSchema compiles an embedded schema. It panics on an invalid schema,
// which is a programming error.
func MustCompileSchema(name, source string) *Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		panic("document: adding schema " + name + ": " + err.Error())
	}
	return &Schema{schema: compiler.MustCompile(name)}
}

// Validate checks normalized JSON against the schema and returns the leaf
// violations in document order. A nil result means the document is valid.
func (s *Schema) Validate(data []byte) ([]Violation, error) {
	var v any
	if err := Decode(data, &v); err != nil {
		return nil, err
	}

	err := s.schema.Validate(v)
	if err == nil {
		return nil, nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Violation{{Message: err.Error()}}, nil
	}

	var out []Violation
	collectViolations(verr, &out)
	return out, nil
}

func collectViolations(err *jsonschema.ValidationError, out *[]Violation) {
	if len(err.Causes) == 0 {
		*out = append(*out, Violation{Pointer: err.InstanceLocation, Message: err.Message})
		return
	}
	for _, cause := range err.Causes {
		collectViolations(cause, out)
	}
}

// Path renders a JSON Pointer as a config path rooted at prefix,
// e.g. Path("rules", "/2/enabled") == "rules[2].enabled".
func Path(prefix, pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return prefix
	}

	var b strings.Builder
	b.WriteString(prefix)
	for _, seg := range strings.Split(pointer, "/") {
		seg = strings.NewReplacer("~1", "/", "~0", "~").Replace(seg)
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}
