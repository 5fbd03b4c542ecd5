package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "debridarr",
		Short:         "Fetch wanted movies and episodes through a debrid provider",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVerifyCmd(), newAuthCmd(), newPurgeCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the queue, the periodic jobs and the status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	// 1. Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 2. Wire the application
	app, cleanup, err := initializeApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	logger := app.Logger
	logger.Info().Str("config_dir", cfg.ConfigDir).Str("provider", cfg.DebridProvider).Msg("Starting debridarr")

	// 3. Notifications
	go app.Notifier.Run(ctx)

	// 4. Periodic jobs
	if err := app.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer app.Scheduler.Stop()

	// 5. Queue loop and HTTP server
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Scheduler.Run(gctx)
	})
	g.Go(func() error {
		return app.Server.Start(gctx)
	})

	logger.Info().Msg("debridarr is running")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("debridarr stopped with error")
		return err
	}
	logger.Info().Msg("debridarr stopped")
	return nil
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check collected files against the mount and the library once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, cleanup, err := initializeApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := app.Pipeline.Verifier.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("verifier failed: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to Trakt with a device code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := provideTrakt(cfg, provideLogger(cfg))
			if err := client.Authenticate(cmd.Context(), cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("failed to authenticate with Trakt: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Trakt authorization saved to", cfg.TokenFile)
			return nil
		},
	}
}

func newPurgeCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "purge [item-id...]",
		Short: "Delete items by id, or every item in a state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if state == "" && len(args) == 0 {
				return fmt.Errorf("give item ids or --state")
			}
			var ids []uint64
			for _, a := range args {
				id, err := strconv.ParseUint(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid item id %q", a)
				}
				ids = append(ids, id)
			}
			var st models.State
			if state != "" {
				parsed, err := models.ParseState(state)
				if err != nil {
					return err
				}
				st = parsed
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, cleanup, err := initializeApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			purged := 0
			for _, id := range ids {
				if err := app.Admin.Purge(ctx, id); err != nil {
					return fmt.Errorf("failed to purge item %d: %w", id, err)
				}
				purged++
			}
			if st != "" {
				n, err := app.Admin.PurgeState(ctx, st)
				purged += n
				if err != nil {
					return fmt.Errorf("failed to purge %s items: %w", st, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d item(s)\n", purged)
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "purge every item in this state (e.g. Blacklisted)")
	return cmd
}
