// Package cli implements the mockproxy command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockproxy/pkg/config"
)

var (
	// Persistent flags available to all subcommands
	configPath string
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// errSilent is returned when a command already reported its failure.
var errSilent = errors.New("")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mockproxy",
	Short: "mockproxy answers matching HTTP(S) requests with canned mock responses",
	Long: `mockproxy is an intercepting HTTP/HTTPS proxy. Requests matching a rule are
answered with the rule's mock response file; everything else is forwarded to the
real server untouched.

Configuration can be provided via flags, MOCKPROXY_* environment variables, or a
YAML configuration file (--config, MOCKPROXY_CONFIG, or .mockproxy.yaml).`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Main()
}

// Execute runs the root command and exits the process with its status.
// This is called by main.main().
func Execute() {
	os.Exit(Main())
}

// Main runs the root command with os.Args and returns the exit status.
func Main() int {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file path (default: $MOCKPROXY_CONFIG or ./.mockproxy.yaml)")
	pf.BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
	pf.StringP(config.FlagRules, "r", config.DefaultRules, "Rule file path or glob")
	pf.String(config.FlagMocksDir, "", "Directory for relative mock paths (default: the rule file's directory; use . for the working directory)")
	pf.String(config.FlagCADir, "", "Directory holding ca.crt and ca.key for HTTPS interception")
	pf.String(config.FlagLogLevel, config.DefaultLogLevel, "Log level: debug, info, warn, error")
	pf.String(config.FlagLogFormat, config.DefaultLogFormat, "Log format: text or json")
	pf.String(config.FlagLogFile, "", "Also append logs to this file")
}

// loadConfig resolves the configuration for cmd: defaults, file, environment,
// then the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyFlags(cfg, cmd.Flags()); err != nil {
		return nil, err
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
