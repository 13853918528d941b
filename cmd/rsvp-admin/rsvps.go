package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"wedding-rsvp/internal/handler"
)

func newRSVPsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rsvps",
		Short: "Stored RSVP responses",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every stored RSVP",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := c.backends(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			subs, err := b.Store.List(cmd.Context())
			if err != nil {
				return err
			}
			if pending := b.Local.Pending(); len(pending) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %d submission(s) queued locally, not yet stored\n", len(pending))
			}
			if len(subs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No RSVPs yet.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SUBMITTED\tNAME\tATTENDING\tMEAL\tPLUS ONE\tTOKEN\tID")
			for _, s := range subs {
				attending := "no"
				if s.IsAttending {
					attending = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					s.SubmittedAt.Local().Format("2006-01-02 15:04"), s.GuestName, attending,
					dash(s.MealChoice), dash(s.PlusOneName), s.Token, s.SubmissionID)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			sum := handler.Summarize(subs)
			fmt.Fprintln(cmd.OutOrStdout(), strings.Repeat("-", 60))
			fmt.Fprintf(cmd.OutOrStdout(), "Total: %d  Attending: %d  Declined: %d  Headcount: %d\n",
				sum.Total, sum.Attending, sum.Declined, sum.Headcount)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <submission-id>",
		Short: "Delete one RSVP so the guest can answer again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := c.backends(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			tok, err := handler.TokenForSubmission(cmd.Context(), b.Store, args[0])
			if err != nil {
				return fmt.Errorf("failed to find %s: %w", args[0], err)
			}
			if err := b.Store.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete %s: %w", args[0], err)
			}
			if err := b.Local.DeleteDraft(tok); err != nil {
				c.log.Warn().Err(err).Str("token", tok).Msg("Failed to delete draft")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Deleted %s (%s)\n", args[0], tok)
			return nil
		},
	})

	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
