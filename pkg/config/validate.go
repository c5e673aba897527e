package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/getmockd/mockproxy/pkg/logging"
)

// FieldError is a single invalid setting.
type FieldError struct {
	Key     string
	Message string
}

func (e FieldError) Error() string {
	return e.Key + ": " + e.Message
}

// ValidationErrors collects every invalid setting found by Validate.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

func (v *ValidationErrors) add(key, format string, args ...any) {
	*v = append(*v, FieldError{Key: key, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the configuration and reports all problems.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Listen == "" {
		errs.add("listen", "must not be empty")
	} else if _, port, err := net.SplitHostPort(c.Listen); err != nil {
		errs.add("listen", "%q is not host:port", c.Listen)
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		errs.add("listen", "port %q is out of range", port)
	}

	if c.Rules == "" {
		errs.add("rules", "must not be empty")
	} else if !doublestar.ValidatePattern(c.Rules) {
		errs.add("rules", "%q is not a valid glob", c.Rules)
	}

	if c.UpstreamTimeout <= 0 {
		errs.add("upstreamTimeout", "must be positive, got %s", c.UpstreamTimeout)
	}

	for i, p := range c.Intercept.IncludeHosts {
		if !doublestar.ValidatePattern(strings.ToLower(p)) {
			errs.add(fmt.Sprintf("intercept.includeHosts[%d]", i), "%q is not a valid host pattern", p)
		}
	}
	for i, p := range c.Intercept.ExcludeHosts {
		if !doublestar.ValidatePattern(strings.ToLower(p)) {
			errs.add(fmt.Sprintf("intercept.excludeHosts[%d]", i), "%q is not a valid host pattern", p)
		}
	}

	if !logging.ValidLevel(c.Log.Level) {
		errs.add("log.level", "%q is not one of debug, info, warn, error", c.Log.Level)
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs.add("log.format", "%q is not one of text, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
