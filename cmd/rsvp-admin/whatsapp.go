package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wedding-rsvp/internal/models"
	"wedding-rsvp/internal/whatsapp"
)

// inviteDelay spaces out invitations so WhatsApp does not flag the account.
const inviteDelay = 3 * time.Second

func (c *cli) whatsapp(ctx context.Context) (*whatsapp.Service, error) {
	return whatsapp.NewService(ctx, whatsapp.Config{
		DataDir:         c.cfg.WhatsApp.DataDir,
		OrganizerPhones: c.cfg.OrganizerPhones,
	}, c.log)
}

func newWhatsAppCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whatsapp",
		Short: "WhatsApp device linking and invitations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "link",
		Short: "Link this server as a WhatsApp device",
		RunE: func(cmd *cobra.Command, args []string) error {
			wa, err := c.whatsapp(cmd.Context())
			if err != nil {
				return err
			}
			defer wa.Disconnect()

			if wa.Linked() {
				fmt.Fprintln(cmd.OutOrStdout(), "✅ Already linked")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Connecting to WhatsApp...")
			if err := wa.Connect(cmd.Context(), cmd.OutOrStdout()); err != nil {
				return err
			}
			if !wa.Linked() {
				return whatsapp.ErrNotLinked
			}
			fmt.Fprintln(cmd.OutOrStdout(), "\n✅ Connected to WhatsApp!")
			return nil
		},
	})

	var all bool
	invite := &cobra.Command{
		Use:   "invite [token...]",
		Short: "Send guests their personal RSVP link",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("give at least one token or --all")
			}
			ctx := cmd.Context()

			b, err := c.backends(ctx)
			if err != nil {
				return err
			}
			defer b.Close()
			reg := b.Registry(c.cfg, c.log)

			var guests []models.Guest
			if all {
				if guests, err = reg.All(ctx); err != nil {
					return err
				}
			} else {
				for _, tok := range args {
					g, ok, err := reg.Lookup(ctx, tok)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("no guest with token %s", tok)
					}
					guests = append(guests, *g)
				}
			}

			wa, err := c.whatsapp(ctx)
			if err != nil {
				return err
			}
			if !wa.Linked() {
				return fmt.Errorf("%w, run rsvp-admin whatsapp link first", whatsapp.ErrNotLinked)
			}
			if err := wa.Connect(ctx, cmd.OutOrStdout()); err != nil {
				return err
			}
			defer wa.Disconnect()

			var errs []error
			sent := 0
			for i, g := range guests {
				if g.PhoneNumber == "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %s has no phone number, skipped\n", g.FullName())
					continue
				}
				if i > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(inviteDelay):
					}
				}
				err := wa.SendInvitation(ctx, whatsapp.Invitation{
					Phone:    g.PhoneNumber,
					Name:     g.FullName(),
					RSVPLink: c.cfg.GuestLink(g.Token),
					Wedding:  c.cfg.Wedding(),
				})
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "❌ %s: %v\n", g.FullName(), err)
					errs = append(errs, fmt.Errorf("%s: %w", g.Token, err))
					continue
				}
				sent++
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Invitation sent to %s\n", g.FullName())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d invitations sent\n", sent, len(guests))
			return errors.Join(errs...)
		},
	}
	invite.Flags().BoolVar(&all, "all", false, "invite every guest with a phone number")
	cmd.AddCommand(invite)

	return cmd
}
