package proxy

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter selects which hosts the proxy intercepts. Hosts that are not
// intercepted are forwarded (HTTP) or tunneled (HTTPS) without consulting
// the engine. Patterns are doublestar globs matched case-insensitively
// against the bare host name, e.g. "*.example.com" or "{api,auth}.test".
type Filter struct {
	IncludeHosts []string // intercept only these hosts (empty = all)
	ExcludeHosts []string // never intercept these hosts
}

// NewFilter creates a filter from include and exclude patterns.
func NewFilter(include, exclude []string) *Filter {
	return &Filter{IncludeHosts: include, ExcludeHosts: exclude}
}

// Validate reports the first malformed pattern.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	for _, p := range f.IncludeHosts {
		if !doublestar.ValidatePattern(strings.ToLower(p)) {
			return fmt.Errorf("invalid include host pattern %q", p)
		}
	}
	for _, p := range f.ExcludeHosts {
		if !doublestar.ValidatePattern(strings.ToLower(p)) {
			return fmt.Errorf("invalid exclude host pattern %q", p)
		}
	}
	return nil
}

// ShouldIntercept determines if requests to host go through the engine.
// Precedence:
// 1. If host matches ANY exclude pattern → not intercepted
// 2. If include patterns exist AND host matches NONE → not intercepted
// 3. Otherwise → intercepted
//
// A nil filter intercepts every host.
func (f *Filter) ShouldIntercept(host string) bool {
	if f == nil {
		return true
	}
	host = strings.ToLower(host)

	for _, pattern := range f.ExcludeHosts {
		if matchHost(pattern, host) {
			return false
		}
	}
	if len(f.IncludeHosts) == 0 {
		return true
	}
	for _, pattern := range f.IncludeHosts {
		if matchHost(pattern, host) {
			return true
		}
	}
	return false
}

func matchHost(pattern, host string) bool {
	ok, err := doublestar.Match(strings.ToLower(pattern), host)
	return err == nil && ok
}
