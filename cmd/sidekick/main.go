// Package main provides the sidekick CLI: the daemon that supervises the
// llm, memory, bot and tts sidecars, and one-shot commands against each
// sidecar.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/alexsjones/sidekick/internal/config"
	"github.com/alexsjones/sidekick/internal/daemon"
	"github.com/alexsjones/sidekick/internal/eventbus"
	"github.com/alexsjones/sidekick/internal/logging"
	"github.com/alexsjones/sidekick/internal/observability"
)

var version = "v0.1.0-dev"

var (
	configPath string
	logLevel   string

	cfg *config.Config
	log logr.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sidekick",
		Short: "Sidekick - supervised helper processes for a local assistant",
		Long: `Sidekick runs the inference, memory, voice bot and speech sidecars as
child processes, restarting and restoring them when they crash.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SIDEKICK_CONFIG"), "Path to sidekick.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, error)")

	rootCmd.AddCommand(
		newServeCmd(),
		newLLMCmd(),
		newMemoryCmd(),
		newBotCmd(),
		newTTSCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initConfig() error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	cfg = c
	log = logging.New("sidekick", cfg.LogLevel)
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			_, shutdownOTel := observability.Init(ctx, "sidekick", log)
			defer func() {
				if err := shutdownOTel(context.Background()); err != nil {
					log.Error(err, "failed to flush telemetry")
				}
			}()

			bus, err := eventbus.Open(cfg.EventBus.URL)
			if err != nil {
				return fmt.Errorf("opening event bus: %w", err)
			}
			defer bus.Close()

			var reloads <-chan *config.Config
			if configPath != "" {
				w, err := config.NewWatcher(configPath, log.WithName("config"))
				if err != nil {
					return fmt.Errorf("watching config: %w", err)
				}
				defer w.Close()
				reloads = w.Watch(ctx)
			}

			d := daemon.New(cfg, bus, log)
			log.Info("sidekick starting", "version", version, "addr", cfg.HTTP.Addr)
			return d.Run(ctx, reloads)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("sidekick " + version)
		},
	}
}

// oneShot runs fn with a signal-aware context and stops the sidecar
// afterwards.
func oneShot(cmd *cobra.Command, stop func(context.Context) error, fn func(ctx context.Context) error) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() {
		if err := stop(context.Background()); err != nil {
			log.Error(err, "failed to stop sidecar")
		}
	}()
	return fn(ctx)
}
