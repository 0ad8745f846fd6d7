// Package cmd contains all CLI commands for cfmctl
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/circlesfundme/cfmctl/internal/apiclient"
	"github.com/circlesfundme/cfmctl/internal/config"
	"github.com/circlesfundme/cfmctl/internal/endpoints"
	"github.com/circlesfundme/cfmctl/internal/metrics"
	"github.com/circlesfundme/cfmctl/internal/output"
	"github.com/circlesfundme/cfmctl/internal/refresh"
	"github.com/circlesfundme/cfmctl/internal/session"
)

var version = "dev"

// SetVersion sets the version string for the CLI
func SetVersion(v string) {
	version = v
}

// app carries global flags and the lazily built API stack for one invocation.
type app struct {
	cfgFile     string
	baseURL     string
	colorMode   string
	logFormat   string
	verbose     bool
	jsonOut     bool
	showMetrics bool

	cfg     *config.Config
	logger  *slog.Logger
	printer *output.Printer
	now     func() time.Time

	repo        *session.Repository
	teardown    session.Teardown
	coordinator *refresh.Coordinator
	client      *apiclient.Client
	closers     []func() error
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func newApp() *app {
	return &app{now: time.Now}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cfmctl",
		Short: "CirclesFundMe API command-line client",
		Long: `cfmctl talks to the CirclesFundMe backend with a persisted login session.

Expired access tokens are refreshed automatically and the failed request is
retried once with the new token.

Example usage:
  cfmctl login --email ada@example.com     # Log in and store the session
  cfmctl dashboard                         # Profile, wallets and loan eligibility
  cfmctl notifications --page 2            # Page through notifications
  cfmctl request users/me --auth           # Call any endpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.finish(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is .cfmctl.yaml)")
	flags.StringVar(&a.baseURL, "base-url", "", "API base URL (overrides api.base_url)")
	flags.StringVar(&a.colorMode, "color", "auto", "color output: auto, always, never")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	flags.BoolVar(&a.jsonOut, "json", false, "output as JSON")
	flags.BoolVar(&a.showMetrics, "show-metrics", false, "print request metrics after the command")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newSessionCmd(a),
		newMeCmd(a),
		newDashboardCmd(a),
		newLoansCmd(a),
		newNotificationsCmd(a),
		newUploadCmd(a),
		newRequestCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI until completion or interrupt and reports any error on stderr.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := newApp()
	root := a.rootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil {
		a.reportError(root.ErrOrStderr(), err)
	}
	return err
}

// reportError prints err with its cause and suggestion when it is a *output.CLIError.
func (a *app) reportError(w io.Writer, err error) {
	p := a.printer
	if p == nil {
		p = output.NewPrinter(w, w, output.ResolveColors(output.ColorAuto, true))
	}
	var cliErr *output.CLIError
	if !errors.As(err, &cliErr) {
		cliErr = &output.CLIError{Summary: err.Error()}
	}
	p.FormatError(cliErr)
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	var cliErr *output.CLIError
	switch {
	case err == nil:
		return output.ExitSuccess
	case errors.As(err, &cliErr):
		return cliErr.ExitCode
	case apiclient.IsUnauthorized(err), errors.Is(err, refresh.ErrRefreshFailed):
		return output.ExitAuthError
	case apiclient.IsNetwork(err):
		return output.ExitNetworkError
	default:
		return output.ExitGeneral
	}
}

// initConfig reads in config file and ENV variables and sets up logging.
func (a *app) initConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return &output.CLIError{Summary: "loading config", Detail: err.Error(), ExitCode: output.ExitConfigError}
	}
	if a.baseURL != "" {
		cfg.API.BaseURL = a.baseURL
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	a.cfg = cfg

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	if a.verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	}
	a.logger = slog.New(handler)

	mode, err := output.ParseColorMode(a.colorMode)
	if err != nil {
		return &output.CLIError{Summary: err.Error(), ExitCode: output.ExitUsageError}
	}
	a.printer = output.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.ResolveColors(mode, cfg.Output.Colors))

	a.logger.Debug("configuration loaded",
		"base_url", cfg.API.BaseURL,
		"session_backend", cfg.Session.Backend,
		"refresh_cache_ttl", cfg.Refresh.CacheTTL,
	)
	return nil
}

// connect builds the session store, refresh coordinator and API client.
func (a *app) connect(ctx context.Context) error {
	if a.client != nil {
		return nil
	}
	if err := a.cfg.RequireBaseURL(); err != nil {
		return &output.CLIError{
			Summary:    "no API base URL configured",
			Detail:     err.Error(),
			Suggestion: "set api.base_url in .cfmctl.yaml or export CFMCTL_API_BASE_URL",
			ExitCode:   output.ExitConfigError,
		}
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return &output.CLIError{Summary: "opening session store", Detail: err.Error(), ExitCode: output.ExitConfigError}
	}

	cfg := a.cfg
	a.repo = session.NewRepository(store, cfg.Session.Key)
	a.teardown = session.NewTeardown(a.repo, a.logger)

	table := endpoints.Default().WithOverrides(cfg.Endpoints)
	userAgent := cfg.API.UserAgent
	if userAgent == "" {
		userAgent = "cfmctl/" + version
	}
	httpClient := &http.Client{Timeout: cfg.API.Timeout}

	refreshPath := cfg.Refresh.Path
	if refreshPath == "" {
		refreshPath = table.Join(endpoints.Auth, "refresh-token")
	}
	refresher := refresh.NewHTTPRefresher(cfg.API.BaseURL, refreshPath, httpClient, userAgent, a.logger)
	a.coordinator = refresh.NewCoordinatorWithTTL(a.repo, refresher, a.teardown, a.logger, cfg.Refresh.CacheTTL)

	var limiter *rate.Limiter
	if cfg.API.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.API.RateLimit), max(1, cfg.API.RateBurst))
	}

	a.client, err = apiclient.New(apiclient.Options{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: httpClient,
		Endpoints:  table,
		Sessions:   a.repo,
		Refresher:  a.coordinator,
		Teardown:   a.teardown,
		Limiter:    limiter,
		UserAgent:  userAgent,
		Logger:     a.logger,
	})
	if err != nil {
		return &output.CLIError{Summary: "invalid API configuration", Detail: err.Error(), ExitCode: output.ExitConfigError}
	}
	return nil
}

func (a *app) openStore(ctx context.Context) (session.Store, error) {
	switch a.cfg.Session.Backend {
	case config.BackendMemory:
		return session.NewMemoryStore(), nil
	case config.BackendRedis:
		store, err := session.NewRedisStore(a.cfg.Session.RedisURL, a.cfg.Session.RedisPrefix, 0)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return store, nil
	default:
		return session.NewFileStore(a.cfg.Session.File, a.logger), nil
	}
}

// requireSession loads the stored session and applies the login gate:
// no session or an idle-expired one is an auth error.
func (a *app) requireSession(ctx context.Context) (*session.Session, error) {
	if err := a.connect(ctx); err != nil {
		return nil, err
	}

	s, err := a.repo.Load(ctx)
	if errors.Is(err, session.ErrNotFound) || (err == nil && !s.HasToken()) {
		lastErr, _ := a.repo.LastError(ctx)
		return nil, &output.CLIError{
			Summary:    "not logged in",
			Detail:     lastErr,
			Suggestion: "run 'cfmctl login'",
			ExitCode:   output.ExitAuthError,
		}
	}
	if err != nil {
		return nil, err
	}

	if s.IdleExpired(a.now(), a.cfg.Session.IdleTimeout) {
		a.teardown(ctx, session.ReasonIdleTimeout, "")
		return nil, &output.CLIError{
			Summary:    "session expired",
			Detail:     fmt.Sprintf("logged in at %s, idle limit %s", s.LoginAt().Format(time.RFC3339), a.cfg.Session.IdleTimeout),
			Suggestion: "run 'cfmctl login'",
			ExitCode:   output.ExitAuthError,
		}
	}

	switch s.NextStep() {
	case session.StepOnboarding:
		a.printer.Warning("Onboarding is still in progress for this account")
	case session.StepKYC:
		a.printer.Warning("KYC is not complete for this account")
	}
	return s, nil
}

func (a *app) finish(cmd *cobra.Command) error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil

	if a.showMetrics {
		snap, err := metrics.Snapshot()
		if err != nil {
			errs = append(errs, err)
		} else {
			t := output.NewTable(cmd.ErrOrStderr(), []string{"METRIC", "VALUE"})
			for _, k := range slices.Sorted(maps.Keys(snap)) {
				if !strings.HasPrefix(k, "cfmctl_") {
					continue
				}
				t.AddRow(k, output.Cell(snap[k]))
			}
			errs = append(errs, t.Render())
		}
	}
	return errors.Join(errs...)
}
