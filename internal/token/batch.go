package token

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"go/format"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"wedding-rsvp/internal/models"
)

// csvColumns is the guest list layout written by WriteGuestCSV and accepted
// by ReadGuestCSV. Only first_name is required on input.
var csvColumns = []string{"first_name", "last_name", "email", "phone", "invitation_group", "plus_one_eligible", "token"}

// BatchReport summarizes a GenerateBatch run.
type BatchReport struct {
	Generated int
	Kept      int
	// Weak lists kept tokens that fail the weak-suffix check.
	Weak []string
	// Failed holds one error per guest left without a token.
	Failed []error
}

// Err joins the per-guest failures.
func (r BatchReport) Err() error {
	return errors.Join(r.Failed...)
}

// ReadGuestCSV parses a guest list with a header row. Column order is free
// and unknown columns are ignored.
func ReadGuestCSV(r io.Reader) ([]models.Guest, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["first_name"]; !ok {
		return nil, fmt.Errorf("csv header has no first_name column")
	}

	var guests []models.Guest
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}
		col := func(name string) string {
			i, ok := idx[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		g := models.Guest{
			FirstName:       col("first_name"),
			LastName:        col("last_name"),
			Email:           col("email"),
			PhoneNumber:     col("phone"),
			InvitationGroup: col("invitation_group"),
			Token:           strings.ToLower(col("token")),
		}
		if g.FirstName == "" && g.LastName == "" {
			continue
		}
		if v := col("plus_one_eligible"); v != "" {
			g.PlusOneEligible = parseYes(v)
		}
		guests = append(guests, g)
	}
	return guests, nil
}

func parseYes(v string) bool {
	switch strings.ToLower(v) {
	case "y", "yes", "x":
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// GenerateBatch gives every guest without a token a unique one. Existing
// tokens are kept and reported when weak. Guests whose generation ran out of
// retries are left without a token and listed in the report.
func GenerateBatch(g *Generator, guests []models.Guest) BatchReport {
	var report BatchReport
	taken := make(map[string]bool, len(guests))
	for _, guest := range guests {
		if guest.Token != "" {
			taken[guest.Token] = true
		}
	}

	for i := range guests {
		guest := &guests[i]
		if guest.ID == "" {
			guest.ID = uuid.NewString()
		}
		if guest.Token != "" {
			report.Kept++
			if reason, weak := WeakSuffix(guest.Token); weak || !ValidFormat(guest.Token) {
				if !weak {
					reason = "malformed token"
				}
				report.Weak = append(report.Weak, fmt.Sprintf("%s: %s", guest.Token, reason))
			}
			continue
		}

		tok, err := g.Unique(guest.FirstName, guest.LastName, func(s string) bool { return taken[s] })
		if err != nil {
			report.Failed = append(report.Failed, fmt.Errorf("%s: %w", guest.FullName(), err))
			continue
		}
		guest.Token = tok
		taken[tok] = true
		report.Generated++
	}
	return report
}

// WriteGuestCSV writes guests in the csvColumns layout.
func WriteGuestCSV(w io.Writer, guests []models.Guest) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, g := range guests {
		if err := cw.Write([]string{
			g.FirstName, g.LastName, g.Email, g.PhoneNumber, g.InvitationGroup,
			strconv.FormatBool(g.PlusOneEligible), g.Token,
		}); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteGoSource writes guests as a gofmt'd Go file in package pkg.
func WriteGoSource(w io.Writer, pkg string, guests []models.Guest) error {
	var buf bytes.Buffer
	buf.WriteString("// Code generated by rsvp-admin tokens generate. DO NOT EDIT.\n\n")
	fmt.Fprintf(&buf, "package %s\n\n", pkg)
	buf.WriteString("// Guest is one invited guest and their RSVP token.\n")
	buf.WriteString("type Guest struct {\nFirstName string\nLastName string\nToken string\nPlusOneEligible bool\nInvitationGroup string\n}\n\n")
	buf.WriteString("// Guests is the invitation list.\nvar Guests = []Guest{\n")
	for _, g := range guests {
		fmt.Fprintf(&buf, "{FirstName: %q, LastName: %q, Token: %q, PlusOneEligible: %t, InvitationGroup: %q},\n",
			g.FirstName, g.LastName, g.Token, g.PlusOneEligible, g.InvitationGroup)
	}
	buf.WriteString("}\n")

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to format generated source: %w", err)
	}
	_, err = w.Write(src)
	return err
}
