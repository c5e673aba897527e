package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvConfig          = "MOCKPROXY_CONFIG"
	EnvListen          = "MOCKPROXY_LISTEN"
	EnvRules           = "MOCKPROXY_RULES"
	EnvMocksDir        = "MOCKPROXY_MOCKS_DIR"
	EnvCADir           = "MOCKPROXY_CA_DIR"
	EnvUpstreamTimeout = "MOCKPROXY_UPSTREAM_TIMEOUT"
	EnvIncludeHosts    = "MOCKPROXY_INCLUDE_HOSTS"
	EnvExcludeHosts    = "MOCKPROXY_EXCLUDE_HOSTS"
	EnvLogLevel        = "MOCKPROXY_LOG_LEVEL"
	EnvLogFormat       = "MOCKPROXY_LOG_FORMAT"
	EnvLogFile         = "MOCKPROXY_LOG_FILE"
)

// LocalConfigFileNames are the names searched for in the working directory (in order).
var LocalConfigFileNames = []string{".mockproxy.yaml", ".mockproxy.yml"}

// ConfigError represents a configuration file error with location info.
type ConfigError struct {
	Path    string
	Line    int
	Message string
}

func (e *ConfigError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d): %s", e.Path, e.Line, e.Message)
	}
	return e.Path + ": " + e.Message
}

// Load builds a Config from defaults, the config file and the environment.
// path overrides MOCKPROXY_CONFIG; when both are empty a local
// .mockproxy.yaml is used if present. Flags are applied separately with
// ApplyFlags.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		local, err := FindLocalConfig()
		if err != nil {
			return nil, err
		}
		path = local
	}

	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		Merge(cfg, fileCfg, SourceFile)
	}

	if err := LoadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindLocalConfig returns the first local config file in the working
// directory, or "" if none exists.
func FindLocalConfig() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for _, name := range LocalConfigFileNames {
		path := filepath.Join(cwd, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// LoadFile reads a YAML config file. Unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, yamlError(path, err)
	}
	cfg.Sources = make(map[string]string)
	return &cfg, nil
}

func yamlError(path string, err error) error {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return &ConfigError{Path: path, Message: strings.Join(typeErr.Errors, "; ")}
	}
	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	var line int
	if _, scanErr := fmt.Sscanf(msg, "line %d:", &line); scanErr == nil {
		if i := strings.Index(msg, ": "); i >= 0 {
			msg = msg[i+2:]
		}
	}
	return &ConfigError{Path: path, Line: line, Message: msg}
}

// Merge merges source config into target, updating sources tracking.
// Only non-zero values from source are applied.
func Merge(target, source *Config, sourceType string) {
	if source == nil {
		return
	}
	if source.Listen != "" {
		target.Listen = source.Listen
		target.set("listen", sourceType)
	}
	if source.Rules != "" {
		target.Rules = source.Rules
		target.set("rules", sourceType)
	}
	if source.MocksDir != "" {
		target.MocksDir = source.MocksDir
		target.set("mocksDir", sourceType)
	}
	if source.CADir != "" {
		target.CADir = source.CADir
		target.set("caDir", sourceType)
	}
	if source.UpstreamTimeout != 0 {
		target.UpstreamTimeout = source.UpstreamTimeout
		target.set("upstreamTimeout", sourceType)
	}
	if source.Intercept.IncludeHosts != nil {
		target.Intercept.IncludeHosts = source.Intercept.IncludeHosts
		target.set("intercept.includeHosts", sourceType)
	}
	if source.Intercept.ExcludeHosts != nil {
		target.Intercept.ExcludeHosts = source.Intercept.ExcludeHosts
		target.set("intercept.excludeHosts", sourceType)
	}
	if source.Log.Level != "" {
		target.Log.Level = source.Log.Level
		target.set("log.level", sourceType)
	}
	if source.Log.Format != "" {
		target.Log.Format = source.Log.Format
		target.set("log.format", sourceType)
	}
	if source.Log.File != "" {
		target.Log.File = source.Log.File
		target.set("log.file", sourceType)
	}
}

// LoadEnv applies MOCKPROXY_* environment variables that are set.
func LoadEnv(cfg *Config) error {
	var env Config

	env.Listen = os.Getenv(EnvListen)
	env.Rules = os.Getenv(EnvRules)
	env.MocksDir = os.Getenv(EnvMocksDir)
	env.CADir = os.Getenv(EnvCADir)
	env.Log.Level = os.Getenv(EnvLogLevel)
	env.Log.Format = os.Getenv(EnvLogFormat)
	env.Log.File = os.Getenv(EnvLogFile)
	env.Intercept.IncludeHosts = splitList(os.Getenv(EnvIncludeHosts))
	env.Intercept.ExcludeHosts = splitList(os.Getenv(EnvExcludeHosts))

	if v := os.Getenv(EnvUpstreamTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvUpstreamTimeout, err)
		}
		env.UpstreamTimeout = d
	}

	Merge(cfg, &env, SourceEnv)
	return nil
}

// splitList splits a comma-separated list, dropping empty items. An empty
// string yields nil.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Flag names understood by ApplyFlags.
const (
	FlagListen          = "listen"
	FlagRules           = "rules"
	FlagMocksDir        = "mocks-dir"
	FlagCADir           = "ca-dir"
	FlagUpstreamTimeout = "upstream-timeout"
	FlagIncludeHosts    = "include-hosts"
	FlagExcludeHosts    = "exclude-hosts"
	FlagLogLevel        = "log-level"
	FlagLogFormat       = "log-format"
	FlagLogFile         = "log-file"
)

// ApplyFlags applies the flags in fs that were set on the command line.
// Flags that are not defined in fs are skipped.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var errs []error
	fs.Visit(func(f *pflag.Flag) {
		if err := applyFlag(cfg, fs, f.Name); err != nil {
			errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func applyFlag(cfg *Config, fs *pflag.FlagSet, name string) error {
	var err error
	switch name {
	case FlagListen:
		cfg.Listen, err = fs.GetString(name)
		cfg.set("listen", SourceFlag)
	case FlagRules:
		cfg.Rules, err = fs.GetString(name)
		cfg.set("rules", SourceFlag)
	case FlagMocksDir:
		cfg.MocksDir, err = fs.GetString(name)
		cfg.set("mocksDir", SourceFlag)
	case FlagCADir:
		cfg.CADir, err = fs.GetString(name)
		cfg.set("caDir", SourceFlag)
	case FlagUpstreamTimeout:
		cfg.UpstreamTimeout, err = fs.GetDuration(name)
		cfg.set("upstreamTimeout", SourceFlag)
	case FlagIncludeHosts:
		cfg.Intercept.IncludeHosts, err = fs.GetStringSlice(name)
		cfg.set("intercept.includeHosts", SourceFlag)
	case FlagExcludeHosts:
		cfg.Intercept.ExcludeHosts, err = fs.GetStringSlice(name)
		cfg.set("intercept.excludeHosts", SourceFlag)
	case FlagLogLevel:
		cfg.Log.Level, err = fs.GetString(name)
		cfg.set("log.level", SourceFlag)
	case FlagLogFormat:
		cfg.Log.Format, err = fs.GetString(name)
		cfg.set("log.format", SourceFlag)
	case FlagLogFile:
		cfg.Log.File, err = fs.GetString(name)
		cfg.set("log.file", SourceFlag)
	}
	return err
}
