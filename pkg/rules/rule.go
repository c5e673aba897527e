package rules

import (
	"fmt"
	"regexp"
)

// Rule is one entry of the rule list.
type Rule struct {
	// Method is compared to the request method exactly (case-sensitive).
	Method string `json:"method" yaml:"method"`
	// URLRegex is searched for anywhere in the fully-resolved request URL.
	URLRegex string `json:"urlRegex" yaml:"urlRegex"`
	// Enabled gates the rule. Disabled rules never match.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// MockResponsePath references the mock response served on a match.
	MockResponsePath string `json:"mockResponsePath" yaml:"mockResponsePath"`

	// Index is the rule's position in the combined rule list.
	Index int `json:"-" yaml:"-"`
	// Source is the file the rule was read from, if any.
	Source string `json:"-" yaml:"-"`

	pattern *regexp.Regexp
}

// Matches reports whether the rule selects a request with the given method and URL.
func (r *Rule) Matches(method, url string) bool {
	if !r.Enabled || r.Method != method || r.pattern == nil {
		return false
	}
	return r.pattern.MatchString(url)
}

// String identifies the rule in logs and CLI output.
func (r *Rule) String() string {
	return fmt.Sprintf("rules[%d] %s %s", r.Index, r.Method, r.URLRegex)
}

// RuleSet is an immutable ordered list of compiled rules.
type RuleSet struct {
	rules  []Rule
	source string
}

// New validates and compiles rules given in code. Rules keep the given order.
func New(rules ...Rule) (*RuleSet, error) {
	set, errs := compile(rules, "inline")
	if len(errs) > 0 {
		return nil, &ConfigLoadError{Source: "inline", Err: errs}
	}
	return set, nil
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// At returns the i-th rule. The returned rule must not be modified.
func (s *RuleSet) At(i int) *Rule {
	return &s.rules[i]
}

// Rules returns a copy of the rule list.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Source describes where the rules came from.
func (s *RuleSet) Source() string {
	if s == nil {
		return ""
	}
	return s.source
}

// compile checks every rule and compiles its pattern. All problems are
// collected so a broken file is reported in one pass.
func compile(in []Rule, source string) (*RuleSet, ValidationErrors) {
	var errs ValidationErrors
	out := make([]Rule, len(in))

	for i, r := range in {
		path := fmt.Sprintf("rules[%d]", i)
		if r.Method == "" {
			errs.add(path+".method", "required")
		}
		if r.MockResponsePath == "" {
			errs.add(path+".mockResponsePath", "required")
		}
		pattern, err := regexp.Compile(r.URLRegex)
		if err != nil {
			errs.add(path+".urlRegex", "invalid regular expression: %v", err)
		}

		r.Index = i
		if r.Source == "" {
			r.Source = source
		}
		r.pattern = pattern
		out[i] = r
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &RuleSet{rules: out, source: source}, nil
}
