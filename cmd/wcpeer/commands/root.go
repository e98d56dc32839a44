// Package commands implements the wcpeer command line: a peer that talks
// to a relay, a local development relay, and helpers for keys and stored
// sessions.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wc-rpc/config"
	"wc-rpc/kms"
	"wc-rpc/logging"
)

// app carries what the persistent flags resolve to, for the subcommands.
type app struct {
	cfgPath string
	keyHex  string

	cfg    config.Config
	logger *zap.Logger
	keys   *kms.Service
	topic  string // derived from --key, empty without one
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "wcpeer",
		Short:        "WalletConnect style JSON-RPC peer over a relay",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "TOML config file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&a.keyHex, "key", "", "hex symmetric key; seals peer traffic and names the default topic")

	root.AddCommand(
		a.listenCmd(),
		a.subscribeCmd(),
		a.publishCmd(),
		a.updateMethodsCmd(),
		a.updateEventsCmd(),
		a.pingCmd(),
		a.sessionsCmd(),
		a.deriveTopicCmd(),
		a.devrelayCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg := config.Default()
	if a.cfgPath != "" {
		loaded, err := config.Load(a.cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.logger = logger

	if a.keyHex != "" {
		key, err := kms.ParseKey(a.keyHex)
		if err != nil {
			return fmt.Errorf("--key: %w", err)
		}
		a.keys = kms.NewService()
		a.topic = a.keys.SetSymKey(key)
	}
	return nil
}

// resolveTopic returns topic, or the --key topic when topic is empty.
func (a *app) resolveTopic(topic string) (string, error) {
	if topic != "" {
		return topic, nil
	}
	if a.topic != "" {
		return a.topic, nil
	}
	return "", fmt.Errorf("no topic: pass --topic or set --key")
}
