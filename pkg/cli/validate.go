package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockproxy/pkg/cli/internal/output"
	"github.com/getmockd/mockproxy/pkg/mock"
	"github.com/getmockd/mockproxy/pkg/rules"
)

// Rule statuses reported by validate.
const (
	statusOK       = "ok"
	statusDisabled = "disabled"
	statusError    = "error"
)

// RuleReport is the validation result for one rule.
type RuleReport struct {
	Index    int    `json:"index"`
	Source   string `json:"source"`
	Method   string `json:"method"`
	URLRegex string `json:"urlRegex"`
	Enabled  bool   `json:"enabled"`
	Mock     string `json:"mockResponsePath"`
	Status   string `json:"status"`
	Code     int    `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ValidateOutput is the JSON output of validate.
type ValidateOutput struct {
	Valid  bool         `json:"valid"`
	Rules  string       `json:"rules"`
	Error  string       `json:"error,omitempty"`
	Report []RuleReport `json:"report"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the rule file and every enabled rule's mock response",
	Long: `Validate loads the rule file exactly as serve does, then reads and validates
the mock response of every enabled rule. Disabled rules are listed but their
mocks are not read. The exit status is non-zero if anything fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		result := validateRules(cmd.Context(), cfg.Rules, mock.NewFileReader(cfg.MocksDir))
		out := cmd.OutOrStdout()

		if jsonOutput {
			if err := output.JSON(out, result); err != nil {
				return err
			}
		} else {
			printValidation(cmd, result)
		}

		if !result.Valid {
			return errSilent
		}
		return nil
	},
}

func validateRules(ctx context.Context, source string, reader mock.Reader) ValidateOutput {
	result := ValidateOutput{Valid: true, Rules: source, Report: []RuleReport{}}

	set, err := rules.NewLoader(rules.FileSource(source)).RuleSet()
	if err != nil {
		result.Valid = false
		result.Error = err.Error()
		return result
	}

	for _, r := range set.Rules() {
		rep := RuleReport{
			Index:    r.Index,
			Source:   r.Source,
			Method:   r.Method,
			URLRegex: r.URLRegex,
			Enabled:  r.Enabled,
			Mock:     r.MockResponsePath,
			Status:   statusOK,
		}
		if !r.Enabled {
			rep.Status = statusDisabled
			result.Report = append(result.Report, rep)
			continue
		}

		resp, err := reader.Read(ctx, r.MockResponsePath)
		if err == nil {
			_, err = mock.Canonical(resp.Body)
		}
		if err != nil {
			rep.Status = statusError
			rep.Error = err.Error()
			result.Valid = false
		} else {
			rep.Code = resp.Code
		}
		result.Report = append(result.Report, rep)
	}
	return result
}

func printValidation(cmd *cobra.Command, result ValidateOutput) {
	out := cmd.OutOrStdout()
	if result.Error != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", result.Error)
		return
	}

	tw := output.Table(out)
	fmt.Fprintln(tw, "#\tMETHOD\tURL REGEX\tMOCK\tSTATUS")
	for _, r := range result.Report {
		status := r.Status
		switch r.Status {
		case statusOK:
			status = "ok (" + strconv.Itoa(r.Code) + ")"
		case statusError:
			status = "error: " + r.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Index, r.Method, r.URLRegex, r.Mock, status)
	}
	_ = tw.Flush()

	if result.Valid {
		fmt.Fprintf(out, "\n%d rule(s) valid\n", len(result.Report))
	} else {
		fmt.Fprintln(out, "\nValidation failed")
	}
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
