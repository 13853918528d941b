package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"wedding-rsvp/internal/registry"
	"wedding-rsvp/internal/token"
)

func newTokensCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Guest token tooling",
	}

	var (
		in      string
		outDir  string
		pkgName string
		retries int
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Assign unique tokens to a CSV guest list",
		Long: `Reads a CSV guest list (first_name required; last_name, email, phone,
invitation_group, plus_one_eligible and token optional) and gives every guest
without a token a unique one. Writes guests.go, guests.csv and guests.json to
the output directory. Nothing is written when any guest is left without a token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(in)
			if err != nil {
				return fmt.Errorf("failed to open guest list: %w", err)
			}
			guests, err := token.ReadGuestCSV(f)
			f.Close()
			if err != nil {
				return err
			}

			report := token.GenerateBatch(&token.Generator{MaxAttempts: retries}, guests)
			for _, w := range report.Weak {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  weak token kept: %s\n", w)
			}
			if err := report.Err(); err != nil {
				return fmt.Errorf("%d guest(s) without a token: %w", len(report.Failed), err)
			}

			if err := os.MkdirAll(outDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			src, err := os.Create(filepath.Join(outDir, "guests.go"))
			if err != nil {
				return err
			}
			defer src.Close()
			if err := token.WriteGoSource(src, pkgName, guests); err != nil {
				return err
			}
			list, err := os.Create(filepath.Join(outDir, "guests.csv"))
			if err != nil {
				return err
			}
			defer list.Close()
			if err := token.WriteGuestCSV(list, guests); err != nil {
				return err
			}
			if err := registry.WriteSeedFile(filepath.Join(outDir, "guests.json"), guests); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ %d generated, %d kept, %d total → %s\n",
				report.Generated, report.Kept, len(guests), outDir)
			return nil
		},
	}
	generate.Flags().StringVar(&in, "in", "guests.csv", "CSV guest list")
	generate.Flags().StringVar(&outDir, "out", "generated", "output directory")
	generate.Flags().StringVar(&pkgName, "package", "guests", "package name of the generated Go file")
	generate.Flags().IntVar(&retries, "retries", token.DefaultMaxAttempts, "attempts per guest before giving up")

	cmd.AddCommand(generate)
	return cmd
}
