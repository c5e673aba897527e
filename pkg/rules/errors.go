package rules

import (
	"errors"
	"fmt"
	"strings"
)

// Causes wrapped by ConfigLoadError.
var (
	ErrNotFound      = errors.New("rule file not found")
	ErrUnreadable    = errors.New("rule file unreadable")
	ErrEmpty         = errors.New("rule file is empty")
	ErrInvalidSyntax = errors.New("invalid rule file syntax")
	ErrInvalidRules  = errors.New("invalid rules")
)

// ConfigLoadError reports that the rule list could not be loaded.
// Request processing cannot continue without rules.
type ConfigLoadError struct {
	// Source describes where the rules were read from.
	Source string
	Err    error
}

func (e *ConfigLoadError) Error() string {
	if e.Source == "" {
		return "loading rules: " + e.Err.Error()
	}
	return fmt.Sprintf("loading rules from %s: %v", e.Source, e.Err)
}

func (e *ConfigLoadError) Unwrap() error {
	return e.Err
}

// ValidationError is a single problem with one rule record.
type ValidationError struct {
	Path    string // e.g. "rules[3].urlRegex"
	Message string
}

func (e ValidationError) Error() string {
	if e.Path != "" {
		return e.Path + ": " + e.Message
	}
	return e.Message
}

// ValidationErrors collects every problem found in a rule list.
// It matches ErrInvalidRules with errors.Is.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidRules
}

func (e *ValidationErrors) add(path, format string, args ...any) {
	*e = append(*e, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}
