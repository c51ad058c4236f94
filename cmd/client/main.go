package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omochice/framechat/internal/client"
	"github.com/omochice/framechat/internal/config"
	"github.com/omochice/framechat/internal/console"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		connect    string
		username   string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "framechat",
		Short: "Interactive framechat client",
		Long: `Interactive framechat client.

Commands:
  /connect <host:port>   connect to a server (or ws://host:port/path)
  /register <name>       register a username
  /disconnect            close the current connection
  /quit                  exit
Any other line is sent as a chat message.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("connect") {
				cfg.Client.Connect = connect
			}
			if flags.Changed("username") {
				cfg.Client.Username = username
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
	flags.StringVar(&connect, "connect", "", "server to connect to on startup")
	flags.StringVarP(&username, "username", "u", "", "username to register after connecting")
	flags.StringVar(&logLevel, "log-level", "", "diagnostic log level (debug, info, warn, error)")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		return err
	}

	input := console.Open("> ", cfg.Client.HistoryFile)
	defer input.Close()

	out := console.NewPrinter(os.Stdout)
	manager := client.NewManager(out,
		client.WithDialer(client.Dialer{Timeout: cfg.Client.DialTimeout}),
		client.WithMaxFrameSize(cfg.Client.MaxFrameSize),
		client.WithStopTimeout(cfg.Client.StopTimeout),
		client.WithLogger(logger),
	)

	var startup []client.Command
	if cfg.Client.Connect != "" {
		startup = append(startup, client.Command{Kind: client.CommandConnect, Arg: cfg.Client.Connect})
		if cfg.Client.Username != "" {
			startup = append(startup, client.Command{Kind: client.CommandRegister, Arg: cfg.Client.Username})
		}
	}

	session := client.NewSession(input, out, manager, client.WithStartup(startup...))
	if err := session.Run(ctx); err != nil {
		return fmt.Errorf("session ended: %w", err)
	}
	return nil
}
