package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omochice/framechat/internal/config"
	"github.com/omochice/framechat/internal/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath    string
		listen        string
		metricsListen string
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:          "framechat-server",
		Short:        "Relay server for framechat over TCP and WebSocket on one port",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Server.Listen = listen
			}
			if flags.Changed("metrics-listen") {
				cfg.Server.MetricsListen = metricsListen
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "configuration file (default: user config dir)")
	flags.StringVarP(&listen, "listen", "l", "", "address to accept TCP and WebSocket clients on (default :7000)")
	flags.StringVar(&metricsListen, "metrics-listen", "", "address to serve /metrics on")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Options{
		Address:        cfg.Server.Listen,
		MetricsAddress: cfg.Server.MetricsListen,
		MaxFrameSize:   cfg.Server.MaxFrameSize,
		Greeting:       cfg.Server.Greeting,
		OutgoingBuffer: cfg.Server.OutgoingBuffer,
		Logger:         logger,
	})
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	return nil
}
