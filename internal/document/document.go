// Package document decodes the JSON and YAML files mockproxy reads (rule lists and
// mock responses) into a normalized JSON form and checks them against JSON Schemas.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the on-disk syntax of a document.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrSyntax is returned when a document cannot be decoded in its format.
var ErrSyntax = errors.New("syntax error")

// FormatFromPath picks the format from the file extension.
// .yaml and .yml are YAML, everything else is JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Normalize converts a document to JSON bytes. JSON input is checked and returned
// as-is; YAML input is re-encoded as JSON with mapping keys in document order.
func Normalize(data []byte, format Format) ([]byte, error) {
	if format != FormatYAML {
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: invalid JSON", ErrSyntax)
		}
		return data, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	var buf bytes.Buffer
	if err := writeNode(&buf, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case 0:
		buf.WriteString("null")
		return nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeNode(buf, n.Content[0])
	case yaml.AliasNode:
		return writeNode(buf, n.Alias)
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if key.Kind != yaml.ScalarNode || key.ShortTag() != "!!str" {
				// Mappings with non-string keys have no JSON form.
				return fmt.Errorf("line %d: mapping key %q is not a string", key.Line, key.Value)
			}
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeScalar(buf, key.Value); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeNode(buf, value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		var v any
		switch n.ShortTag() {
		case "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return err
			}
			if math.IsInf(f, 0) || math.IsNaN(f) {
				return fmt.Errorf("line %d: %s has no JSON form", n.Line, n.Value)
			}
			s := strconv.FormatFloat(f, 'g', -1, 64)
			if !strings.ContainsAny(s, ".e") {
				s += ".0"
			}
			buf.WriteString(s)
			return nil
		case "!!null", "!!bool", "!!int":
			if err := n.Decode(&v); err != nil {
				return err
			}
		default:
			v = n.Value
		}
		return writeScalar(buf, v)
	}
}

func writeScalar(buf *bytes.Buffer, v any) error {
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(out)
	return nil
}

// Decode unmarshals normalized JSON into v, keeping numbers as json.Number so that
// values are re-encoded exactly as they were written.
func Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return nil
}
