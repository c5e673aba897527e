package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockproxy/pkg/cli/internal/output"
	"github.com/getmockd/mockproxy/pkg/proxy"
)

var (
	caPEM    bool
	caOutput string
)

// CAOutput is the JSON output of ca.
type CAOutput struct {
	CertPath    string `json:"certPath"`
	KeyPath     string `json:"keyPath"`
	Fingerprint string `json:"fingerprint"`
	NotAfter    string `json:"notAfter"`
	Created     bool   `json:"created"`
}

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Create or show the CA certificate used for HTTPS interception",
	Long: `Ca loads the CA in --ca-dir, generating it first if it does not exist, and
prints where it lives. Clients must trust ca.crt for intercepted HTTPS requests
to succeed.`,
	Example: `  mockproxy ca --ca-dir ~/.mockproxy
  mockproxy ca --ca-dir ~/.mockproxy --pem > mockproxy-ca.pem`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.CADir == "" {
			return errors.New("--ca-dir is required")
		}

		ca := proxy.NewCAManagerInDir(cfg.CADir)
		created := !ca.Exists()
		if err := ca.EnsureCA(); err != nil {
			return fmt.Errorf("initializing CA: %w", err)
		}

		if caPEM || caOutput != "" {
			certPEM, err := ca.CACertPEM()
			if err != nil {
				return err
			}
			if caOutput == "" {
				_, err = cmd.OutOrStdout().Write(certPEM)
				return err
			}
			if err := os.WriteFile(caOutput, certPEM, 0o644); err != nil {
				return fmt.Errorf("writing certificate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "CA certificate exported to: %s\n", caOutput)
			return nil
		}

		fp, err := ca.Fingerprint()
		if err != nil {
			return err
		}
		info := CAOutput{
			CertPath:    ca.CertPath(),
			KeyPath:     ca.KeyPath(),
			Fingerprint: fp,
			NotAfter:    ca.CACertificate().NotAfter.UTC().Format("2006-01-02"),
			Created:     created,
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), info)
		}

		out := cmd.OutOrStdout()
		if created {
			fmt.Fprintln(out, "CA certificate generated:")
		} else {
			fmt.Fprintln(out, "CA certificate:")
		}
		fmt.Fprintf(out, "  Certificate: %s\n", info.CertPath)
		fmt.Fprintf(out, "  Private key: %s\n", info.KeyPath)
		fmt.Fprintf(out, "  SHA-256:     %s\n", info.Fingerprint)
		fmt.Fprintf(out, "  Expires:     %s\n", info.NotAfter)
		fmt.Fprintln(out, "\nTo trust this CA on macOS:")
		fmt.Fprintf(out, "  sudo security add-trusted-cert -d -r trustRoot -k /Library/Keychains/System.keychain %s\n", info.CertPath)
		fmt.Fprintln(out, "\nTo trust this CA on Linux (Ubuntu/Debian):")
		fmt.Fprintf(out, "  sudo cp %s /usr/local/share/ca-certificates/mockproxy-ca.crt\n", info.CertPath)
		fmt.Fprintln(out, "  sudo update-ca-certificates")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(caCmd)
	caCmd.Flags().BoolVar(&caPEM, "pem", false, "Print the CA certificate in PEM format")
	caCmd.Flags().StringVarP(&caOutput, "output", "o", "", "Write the CA certificate PEM to this file")
}
