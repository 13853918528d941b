package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"wedding-rsvp/internal/app"
	"wedding-rsvp/internal/config"
)

// cli carries the configuration loaded before every command.
type cli struct {
	cfg *config.Config
	log zerolog.Logger
}

func (c *cli) backends(ctx context.Context) (*app.Backends, error) {
	return app.OpenBackends(ctx, c.cfg, c.log)
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "rsvp-admin",
		Short:         "Wedding RSVP administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = cfg.NewLogger(os.Stderr)
			return nil
		},
	}
	root.AddCommand(
		newTokensCmd(c),
		newGuestsCmd(c),
		newRSVPsCmd(c),
		newWhatsAppCmd(c),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		stop()
		os.Exit(1)
	}
}
