package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"wedding-rsvp/internal/app"
	"wedding-rsvp/internal/token"
)

func newGuestsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guests",
		Short: "Guest list management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <guests.json|guests.csv>",
		Short: "Upsert a guest list into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := c.backends(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			if b.GuestDB == nil {
				return fmt.Errorf("the %s backend has no guest table, set GUESTS_FILE instead", c.cfg.Backend)
			}

			path := args[0]
			if strings.EqualFold(filepath.Ext(path), ".csv") {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open guest list: %w", err)
				}
				defer f.Close()
				guests, err := token.ReadGuestCSV(f)
				if err != nil {
					return err
				}
				for _, g := range guests {
					if g.Token == "" {
						return fmt.Errorf("%s has no token, run tokens generate first", g.FullName())
					}
				}
				if err := b.GuestDB.UpsertGuests(cmd.Context(), guests); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Imported %d guests\n", len(guests))
				return nil
			}

			if err := app.ImportGuests(cmd.Context(), b.GuestDB, path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Guests imported")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show guest list statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := c.backends(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			stats, err := b.Registry(c.cfg, c.log).Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n📋 Guests: %d\n", stats.Total)
			fmt.Fprintf(out, "Tokens used: %d\n", stats.TokensUsed)
			fmt.Fprintf(out, "Plus-one eligible: %d (named: %d)\n", stats.PlusOneEligible, stats.PlusOneNamed)

			groups := make([]string, 0, len(stats.ByGroup))
			for g := range stats.ByGroup {
				groups = append(groups, g)
			}
			sort.Strings(groups)
			fmt.Fprintln(out, strings.Repeat("-", 40))
			for _, g := range groups {
				fmt.Fprintf(out, "%-30s %d\n", g, stats.ByGroup[g])
			}
			return nil
		},
	})

	return cmd
}
