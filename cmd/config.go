package cmd

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/circlesfundme/cfmctl/internal/config"
	"github.com/circlesfundme/cfmctl/internal/endpoints"
	"github.com/circlesfundme/cfmctl/internal/output"
)

func newConfigCmd(a *app) *cobra.Command {
	var showPath bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		Long: `Display the current cfmctl configuration.

Examples:
  cfmctl config                # Show all config
  cfmctl config --path         # Show config file path
  cfmctl config --json         # Output as JSON`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg

			if showPath {
				if file := config.ConfigFileUsed(a.cfgFile); file != "" {
					a.printer.Info("Config file: %s", file)
				} else {
					a.printer.Info("No config file found (using defaults)")
				}
				return nil
			}

			if a.jsonOut {
				return a.printer.JSON(cfg)
			}

			a.printer.Header("Current Configuration")
			table := output.NewTable(a.printer.Out(), []string{"KEY", "VALUE"})
			table.AddRow("api.base_url", cfg.API.BaseURL)
			table.AddRow("api.timeout", cfg.API.Timeout.String())
			table.AddRow("api.rate_limit", fmt.Sprintf("%v", cfg.API.RateLimit))
			table.AddRow("session.backend", cfg.Session.Backend)
			switch cfg.Session.Backend {
			case config.BackendFile:
				table.AddRow("session.file", cfg.Session.File)
			case config.BackendRedis:
				table.AddRow("session.redis_prefix", cfg.Session.RedisPrefix)
			}
			table.AddRow("session.key", cfg.Session.Key)
			table.AddRow("session.idle_timeout", cfg.Session.IdleTimeout.String())
			table.AddRow("refresh.cache_ttl", cfg.Refresh.CacheTTL.String())
			table.AddRow("logging.level", cfg.Logging.Level)
			table.AddRow("logging.format", cfg.Logging.Format)
			table.AddRow("output.colors", fmt.Sprintf("%v", cfg.Output.Colors))
			if err := table.Render(); err != nil {
				return err
			}

			a.printer.Header("Endpoints")
			resolved := endpoints.Default().WithOverrides(cfg.Endpoints)
			ep := output.NewTable(a.printer.Out(), []string{"NAME", "PATH"})
			for _, name := range slices.Sorted(maps.Keys(resolved)) {
				ep.AddRow(name, resolved[name])
			}
			return ep.Render()
		},
	}

	cmd.Flags().BoolVar(&showPath, "path", false, "show config file path")
	return cmd
}
