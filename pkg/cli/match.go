package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockproxy/pkg/cli/internal/output"
	"github.com/getmockd/mockproxy/pkg/engine"
	"github.com/getmockd/mockproxy/pkg/mock"
	"github.com/getmockd/mockproxy/pkg/rules"
)

var matchShowResponse bool

// MatchOutput is the JSON output of match.
type MatchOutput struct {
	Method   string         `json:"method"`
	URL      string         `json:"url"`
	Matched  bool           `json:"matched"`
	Rule     *RuleReport    `json:"rule,omitempty"`
	Response *MatchResponse `json:"response,omitempty"`
}

// MatchResponse is the mock response a match would produce.
type MatchResponse struct {
	Code        int               `json:"code"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body"`
	DelayMillis int64             `json:"delayMillis"`
}

var matchCmd = &cobra.Command{
	Use:   "match METHOD URL",
	Short: "Show which rule a request would match",
	Long: `Match runs a request through the rules without starting the proxy and prints
the winning rule, or "no match". With --response the winning rule's mock is
read and the response that would be sent is printed; the delay is reported,
not applied.`,
	Example: `  mockproxy match GET 'https://api.example.com/users/42'
  mockproxy match POST http://localhost/login --response --json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		loader := rules.NewLoader(rules.FileSource(cfg.Rules))
		eng := engine.New(loader, mock.NewFileReader(cfg.MocksDir), engine.WithSleeper(skipDelay))
		req := engine.Request{Method: args[0], URL: args[1]}

		result, err := runMatch(cmd.Context(), eng, req, matchShowResponse)
		if err != nil {
			return err
		}

		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), result)
		}
		printMatch(cmd, result)
		return nil
	},
}

// skipDelay reports delays without waiting for them.
func skipDelay(context.Context, time.Duration) error { return nil }

func runMatch(ctx context.Context, eng *engine.Engine, req engine.Request, withResponse bool) (MatchOutput, error) {
	result := MatchOutput{Method: req.Method, URL: req.URL}

	var rule *rules.Rule
	var resp *engine.Response
	if withResponse {
		d, err := eng.Decide(ctx, req)
		if err != nil {
			return result, err
		}
		rule, resp = d.Rule, d.Response
	} else {
		r, err := eng.Match(req)
		if err != nil {
			return result, err
		}
		rule = r
	}

	if rule == nil {
		return result, nil
	}
	result.Matched = true
	result.Rule = &RuleReport{
		Index:    rule.Index,
		Source:   rule.Source,
		Method:   rule.Method,
		URLRegex: rule.URLRegex,
		Enabled:  rule.Enabled,
		Mock:     rule.MockResponsePath,
		Status:   statusOK,
	}
	if resp != nil {
		result.Rule.Code = resp.StatusCode
		result.Response = &MatchResponse{
			Code:        resp.StatusCode,
			Headers:     resp.Headers,
			Body:        resp.Body,
			DelayMillis: resp.Delay.Milliseconds(),
		}
	}
	return result, nil
}

func printMatch(cmd *cobra.Command, result MatchOutput) {
	out := cmd.OutOrStdout()
	if !result.Matched {
		fmt.Fprintln(out, "no match")
		return
	}
	r := result.Rule
	fmt.Fprintf(out, "rule %d: %s %s -> %s\n", r.Index, r.Method, r.URLRegex, r.Mock)
	if result.Response == nil {
		return
	}
	resp := result.Response
	fmt.Fprintf(out, "status: %d\n", resp.Code)
	tw := output.Table(out)
	for _, name := range slices.Sorted(maps.Keys(resp.Headers)) {
		fmt.Fprintf(tw, "header:\t%s: %s\n", name, resp.Headers[name])
	}
	_ = tw.Flush()
	if resp.DelayMillis > 0 {
		fmt.Fprintf(out, "delay: %dms\n", resp.DelayMillis)
	}
	fmt.Fprintf(out, "body: %s\n", resp.Body)
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.Flags().BoolVar(&matchShowResponse, "response", false, "Also read the mock and print the response")
}
