package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/config"
	"github.com/marmos91/plevy/pkg/server"
)

var (
	serveConfigPath string
	serveDBPath     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Mount the projection and start the management API",
	Long: `Load the configuration, open the entry store and content source, then
start every enabled adapter: the FUSE mount, the management API and the
optional NFS export. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "configuration file (default: user config directory)")
	serveCmd.Flags().StringVar(&serveDBPath, "db-path", "", "badger entry store directory (overrides entries.badger.db_path)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	if serveDBPath != "" {
		if cfg.Entries.Type != "badger" {
			return fmt.Errorf("--db-path requires the badger entry store (configured: %s)", cfg.Entries.Type)
		}
		cfg.Entries.Badger["db_path"] = serveDBPath
	}

	if err := setupLogging(cfg.Logging); err != nil {
		return err
	}

	if cfg.Server.LockFile != "" {
		lock, err := server.AcquireLock(cfg.Server.LockFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Warn("Failed to release lock %s: %v", lock.Path(), err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := config.InitializeMetrics(cfg)

	reg, err := config.InitializeRegistry(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("Failed to close registry: %v", err)
		}
	}()

	config.TrackMounts(m, cfg, reg)

	adapters, err := config.CreateAdapters(cfg, m.API)
	if err != nil {
		return err
	}

	srv := server.New(reg, server.Options{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}

	if m.Server != nil {
		go func() {
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	printSummary(cmd.OutOrStdout(), cfg)

	err = srv.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Shutdown complete")
		return nil
	}
	return err
}

// setupLogging applies the logging section.
func setupLogging(cfg config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	if err := logger.SetFormat(cfg.Format); err != nil {
		return err
	}
	return logger.SetOutput(cfg.Output)
}

// printSummary shows where the projection is reachable.
func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "plevy %s\n", version)
	if cfg.Adapters.FUSE.Enabled {
		fmt.Fprintf(w, "  mount:  %s\n", cfg.Adapters.FUSE.MountPoint)
	}
	if cfg.Adapters.API.Enabled {
		fmt.Fprintf(w, "  api:    http://%s:%d\n", cfg.Adapters.API.Address, cfg.Adapters.API.Port)
	}
	if cfg.Adapters.NFS.Enabled {
		fmt.Fprintf(w, "  nfs:    port %d\n", cfg.Adapters.NFS.Port)
	}
	if cfg.Integrations.BevyURL != "" {
		fmt.Fprintf(w, "  bevy:   %s\n", cfg.Integrations.BevyURL)
	}
	if cfg.Integrations.PlexURL != "" {
		fmt.Fprintf(w, "  plex:   %s\n", cfg.Integrations.PlexURL)
	}
}
