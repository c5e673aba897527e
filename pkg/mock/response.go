// Package mock reads the canned responses served for matched requests.
//
// A mock response file is a JSON or YAML record:
//
//	{
//	  "code": 200,
//	  "headers": {"Content-Type": "application/json"},
//	  "body": {"id": 42, "name": "Ada"},
//	  "delayMillis": 1500
//	}
//
// All four fields are required. The body is any JSON value and is sent as
// written, re-serialized by Canonical.
//
// Mock files are read on every matching request, so edits take effect
// immediately.
package mock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/getmockd/mockproxy/internal/document"
)

// MaxDelayMillis is the largest delayMillis whose duration fits in a time.Duration.
const MaxDelayMillis = int64(math.MaxInt64 / time.Millisecond)

const responseSchemaSource = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["code", "headers", "body", "delayMillis"],
  "properties": {
    "code": {"type": "integer", "minimum": 200, "maximum": 999},
    "headers": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "body": true,
    "delayMillis": {"type": "integer", "minimum": 0, "maximum": %d}
  }
}`

var responseSchema = document.MustCompileSchema("mock.json", fmt.Sprintf(responseSchemaSource, MaxDelayMillis))

// Response is a mock response definition.
type Response struct {
	// Code is the HTTP status code.
	Code int `json:"code" yaml:"code"`
	// Headers are written as-is. Duplicate names are not supported.
	Headers map[string]string `json:"headers" yaml:"headers"`
	// Body is the JSON text of the body as written in the mock file; see Canonical.
	Body json.RawMessage `json:"body" yaml:"body"`
	// DelayMillis is the artificial latency applied before responding.
	DelayMillis int64 `json:"delayMillis" yaml:"delayMillis"`
}

// Delay returns DelayMillis as a duration.
func (r *Response) Delay() time.Duration {
	return time.Duration(r.DelayMillis) * time.Millisecond
}

// Parse decodes and validates a mock response document.
func Parse(data []byte, format document.Format) (*Response, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidSyntax)
	}

	normalized, err := document.Normalize(data, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}

	violations, err := responseSchema.Validate(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}
	if len(violations) > 0 {
		errs := make([]error, len(violations))
		for i, v := range violations {
			path := document.Path("", v.Pointer)
			if path == "" {
				path = "(root)"
			}
			errs[i] = fmt.Errorf("%s: %s", path, v.Message)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidMock, errors.Join(errs...))
	}

	var resp Response
	if err := document.Decode(normalized, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMock, err)
	}
	if err := resp.validateHeaders(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// validateHeaders rejects header names and values net/http cannot write.
func (r *Response) validateHeaders() error {
	for name, value := range r.Headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("%w: headers: invalid header name %q", ErrInvalidMock, name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return fmt.Errorf("%w: headers.%s: invalid header value", ErrInvalidMock, name)
		}
	}
	return nil
}
