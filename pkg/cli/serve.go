package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockproxy/pkg/config"
	"github.com/getmockd/mockproxy/pkg/engine"
	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/mock"
	"github.com/getmockd/mockproxy/pkg/proxy"
	"github.com/getmockd/mockproxy/pkg/rules"
)

// shutdownTimeout bounds how long in-flight requests get to finish.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy (foreground, Ctrl+C to stop)",
	Long: `Run the intercepting proxy.

The rule file is loaded once at startup; a broken rule file stops the process
before it starts listening. Mock response files are read on every matching
request, so they can be edited while the proxy runs. Relative mockResponsePath
values resolve against the rule file's directory, not the working directory;
pass --mocks-dir . to resolve them against the working directory instead.

HTTPS requests are only visible to the rules when --ca-dir is set and clients
trust the generated CA (see 'mockproxy ca').`,
	Example: `  # Proxy on :8888 with rules from ./matcher.json
  mockproxy serve

  # Intercept HTTPS as well, only for one API
  mockproxy serve --ca-dir ~/.mockproxy --include-hosts 'api.example.com'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger, closer, err := logging.Open(cfg.Logging())
		if err != nil {
			return err
		}
		defer func() { _ = closer.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		return Serve(ctx, cfg, logger, func(addr net.Addr, ca *proxy.CAManager) {
			fmt.Fprintf(out, "Proxy listening on %s\n", addr)
			if ca != nil {
				fmt.Fprintf(out, "HTTPS interception CA: %s\n", ca.CertPath())
			}
			fmt.Fprintln(out, "Press Ctrl+C to stop")
		})
	},
}

// Serve loads the rules, starts the proxy on cfg.Listen and blocks until ctx
// is done, then shuts down gracefully. ready, if not nil, is called once the
// listener is open.
func Serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready func(net.Addr, *proxy.CAManager)) error {
	logger = logging.OrNop(logger)

	loader := rules.NewLoader(rules.FileSource(cfg.Rules), rules.WithLogger(logger))
	if _, err := loader.RuleSet(); err != nil {
		return err
	}

	var ca *proxy.CAManager
	if cfg.CADir != "" {
		ca = proxy.NewCAManagerInDir(cfg.CADir)
		if err := ca.EnsureCA(); err != nil {
			return fmt.Errorf("initializing CA: %w", err)
		}
	}

	eng := engine.New(loader, mock.NewFileReader(cfg.MocksDir), engine.WithLogger(logger))
	p := proxy.New(proxy.Options{
		Engine:          eng,
		CAManager:       ca,
		Filter:          proxy.NewFilter(cfg.Intercept.IncludeHosts, cfg.Intercept.ExcludeHosts),
		Logger:          logger,
		UpstreamTimeout: cfg.UpstreamTimeout,
	})

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}

	server := &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
	}

	logger.Info("proxy started",
		slog.String("addr", listener.Addr().String()),
		slog.String("mocks_dir", cfg.MocksDir),
		slog.Bool("https_interception", ca != nil),
	)
	if ready != nil {
		ready(listener.Addr(), ca)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringP(config.FlagListen, "l", config.DefaultListen, "Proxy listen address")
	f.Duration(config.FlagUpstreamTimeout, config.DefaultUpstreamTimeout, "Upstream dial and response header timeout")
	f.StringSlice(config.FlagIncludeHosts, nil, "Only intercept these host patterns (comma-separated globs)")
	f.StringSlice(config.FlagExcludeHosts, nil, "Never intercept these host patterns (comma-separated globs)")
}
