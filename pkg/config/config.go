// Package config provides process configuration for mockproxy.
//
// Configuration values can come from multiple sources with the following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables (MOCKPROXY_*)
//  3. Config file (--config, MOCKPROXY_CONFIG, or .mockproxy.yaml in the working directory)
//  4. Default values (lowest priority)
package config

import (
	"time"

	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/rules"
)

// Defaults.
const (
	DefaultListen          = ":8888"
	DefaultRules           = "matcher.json"
	DefaultUpstreamTimeout = 30 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Source identifies where a config value originated.
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceEnv     = "env"
	SourceFlag    = "flag"
	SourceDerived = "derived"
)

// Config is the complete process configuration.
type Config struct {
	// Listen is the proxy listen address.
	Listen string `yaml:"listen" json:"listen"`
	// Rules is the rule file path or glob.
	Rules string `yaml:"rules" json:"rules"`
	// MocksDir resolves relative mockResponsePath values. Empty means the
	// directory of the rule file.
	MocksDir string `yaml:"mocksDir,omitempty" json:"mocksDir,omitempty"`
	// CADir holds ca.crt and ca.key. Empty disables HTTPS interception.
	CADir string `yaml:"caDir,omitempty" json:"caDir,omitempty"`
	// UpstreamTimeout bounds upstream dials and response headers.
	UpstreamTimeout time.Duration `yaml:"upstreamTimeout" json:"upstreamTimeout"`

	Intercept InterceptConfig `yaml:"intercept" json:"intercept"`
	Log       LogConfig       `yaml:"log" json:"log"`

	// Sources tracks where each value came from, keyed by YAML key path.
	Sources map[string]string `yaml:"-" json:"-"`
}

// InterceptConfig selects the hosts that go through the rules.
type InterceptConfig struct {
	IncludeHosts []string `yaml:"includeHosts,omitempty" json:"includeHosts,omitempty"`
	ExcludeHosts []string `yaml:"excludeHosts,omitempty" json:"excludeHosts,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

// Default returns a Config holding the default values.
func Default() *Config {
	cfg := &Config{
		Listen:          DefaultListen,
		Rules:           DefaultRules,
		UpstreamTimeout: DefaultUpstreamTimeout,
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Sources: make(map[string]string),
	}
	for _, key := range []string{"listen", "rules", "upstreamTimeout", "log.level", "log.format"} {
		cfg.Sources[key] = SourceDefault
	}
	return cfg
}

// Source returns where key got its value, or "" if it was never set.
func (c *Config) Source(key string) string {
	return c.Sources[key]
}

func (c *Config) set(key, source string) {
	if c.Sources == nil {
		c.Sources = make(map[string]string)
	}
	c.Sources[key] = source
}

// Resolve fills values derived from others. MocksDir defaults to the
// directory of the rule file, or the static prefix of a rule glob.
func (c *Config) Resolve() {
	if c.MocksDir == "" {
		c.MocksDir = rules.BaseDir(c.Rules)
		c.set("mocksDir", SourceDerived)
	}
}

// Logging returns the logging configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.Log.Level)
	cfg.Format = logging.ParseFormat(c.Log.Format)
	cfg.File = c.Log.File
	return cfg
}
