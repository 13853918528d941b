package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"wedding-rsvp/internal/models"
)

// SheetColumns is the fixed header row of the RSVP spreadsheet.
var SheetColumns = []string{
	"Timestamp", "Token", "Name", "Attending", "Meal", "Dietary",
	"Plus One Name", "Plus One Meal", "Plus One Dietary",
	"Email", "WhatsApp", "Email Sent", "WhatsApp Sent", "Submission ID",
}

const (
	colTimestamp = iota
	colToken
	colName
	colAttending
	colMeal
	colDietary
	colPlusOneName
	colPlusOneMeal
	colPlusOneDietary
	colEmail
	colWhatsApp
	colEmailSent
	colWhatsAppSent
	colSubmissionID
	sheetWidth
)

// valuesAPI is the part of the Sheets values service the backend uses.
type valuesAPI interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error
	Update(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error
	Clear(ctx context.Context, spreadsheetID, rng string) error
}

type googleValues struct {
	svc *sheets.Service
}

func (g googleValues) Get(ctx context.Context, id, rng string) ([][]interface{}, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(id, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (g googleValues) Append(ctx context.Context, id, rng string, rows [][]interface{}) error {
	_, err := g.svc.Spreadsheets.Values.Append(id, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

func (g googleValues) Update(ctx context.Context, id, rng string, rows [][]interface{}) error {
	_, err := g.svc.Spreadsheets.Values.Update(id, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (g googleValues) Clear(ctx context.Context, id, rng string) error {
	_, err := g.svc.Spreadsheets.Values.Clear(id, rng, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

// Sheets stores submissions as rows of a Google spreadsheet tab. Row 1 is
// the header; a token's row is found by scanning the token column.
type Sheets struct {
	values        valuesAPI
	spreadsheetID string
	tab           string
	now           func() time.Time
	log           zerolog.Logger
}

// OpenSheets connects with a service account credentials file.
func OpenSheets(ctx context.Context, credentialsFile, spreadsheetID, tab string, log zerolog.Logger) (*Sheets, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return newSheets(googleValues{svc: svc}, spreadsheetID, tab, log), nil
}

func newSheets(values valuesAPI, spreadsheetID, tab string, log zerolog.Logger) *Sheets {
	if tab == "" {
		tab = "RSVPs"
	}
	return &Sheets{
		values:        values,
		spreadsheetID: spreadsheetID,
		tab:           tab,
		now:           time.Now,
		log:           log.With().Str("component", "Sheets").Logger(),
	}
}

// EnsureHeader writes the header row when the sheet is empty.
func (s *Sheets) EnsureHeader(ctx context.Context) error {
	rows, err := s.values.Get(ctx, s.spreadsheetID, s.tab+"!A1:N1")
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		return nil
	}
	header := make([]interface{}, len(SheetColumns))
	for i, c := range SheetColumns {
		header[i] = c
	}
	if err := s.values.Update(ctx, s.spreadsheetID, s.tab+"!A1:N1", [][]interface{}{header}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

func (s *Sheets) rowRange(row int) string {
	return fmt.Sprintf("%s!A%d:N%d", s.tab, row, row)
}

// rows reads all data rows. The returned slice index i is sheet row i+2.
func (s *Sheets) rows(ctx context.Context) ([][]interface{}, error) {
	rows, err := s.values.Get(ctx, s.spreadsheetID, s.tab+"!A2:N")
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	return rows, nil
}

func (s *Sheets) findRow(ctx context.Context, match func(models.Submission) bool) (int, *models.Submission, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return 0, nil, err
	}
	for i, r := range rows {
		sub, ok := fromRow(r)
		if !ok {
			continue
		}
		if match(sub) {
			sub.ID = int64(i + 2)
			return i + 2, &sub, nil
		}
	}
	return 0, nil, ErrNotFound
}

// FindByToken implements RSVPStore.
func (s *Sheets) FindByToken(ctx context.Context, token string) (*models.Submission, error) {
	_, sub, err := s.findRow(ctx, func(sub models.Submission) bool { return sub.Token == token })
	return sub, err
}

// Insert implements RSVPStore. A token that already has a row is refused
// with ErrDuplicate; callers switch to Update.
func (s *Sheets) Insert(ctx context.Context, sub *models.Submission) error {
	_, _, err := s.findRow(ctx, func(existing models.Submission) bool { return existing.Token == sub.Token })
	if err == nil {
		return ErrDuplicate
	}
	if err != ErrNotFound {
		return err
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now().UTC()
	}
	if err := s.values.Append(ctx, s.spreadsheetID, s.tab+"!A:N", [][]interface{}{toRow(*sub)}); err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}
	s.log.Debug().Str("token", sub.Token).Msg("RSVP row appended")
	return nil
}

// InsertStandalone implements RSVPStore. Sheet rows never reference a guest
// table, so this is Insert.
func (s *Sheets) InsertStandalone(ctx context.Context, sub *models.Submission) error {
	sub.Standalone = true
	return s.Insert(ctx, sub)
}

// Update implements RSVPStore by rewriting the token's row in place.
func (s *Sheets) Update(ctx context.Context, sub *models.Submission) error {
	row, _, err := s.findRow(ctx, func(existing models.Submission) bool { return existing.Token == sub.Token })
	if err != nil {
		return err
	}
	sub.UpdatedAt = s.now().UTC()
	if err := s.values.Update(ctx, s.spreadsheetID, s.rowRange(row), [][]interface{}{toRow(*sub)}); err != nil {
		return fmt.Errorf("failed to update row %d: %w", row, err)
	}
	return nil
}

// Delete implements RSVPStore by clearing the row.
func (s *Sheets) Delete(ctx context.Context, submissionID string) error {
	row, _, err := s.findRow(ctx, func(existing models.Submission) bool { return existing.SubmissionID == submissionID })
	if err != nil {
		return err
	}
	if err := s.values.Clear(ctx, s.spreadsheetID, s.rowRange(row)); err != nil {
		return fmt.Errorf("failed to clear row %d: %w", row, err)
	}
	return nil
}

// List implements RSVPStore in sheet order.
func (s *Sheets) List(ctx context.Context) ([]models.Submission, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	var subs []models.Submission
	for i, r := range rows {
		if sub, ok := fromRow(r); ok {
			sub.ID = int64(i + 2)
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func toRow(sub models.Submission) []interface{} {
	row := make([]interface{}, sheetWidth)
	row[colTimestamp] = sub.SubmittedAt.UTC().Format(time.RFC3339)
	row[colToken] = sub.Token
	row[colName] = sub.GuestName
	row[colAttending] = yesNo(sub.IsAttending)
	row[colMeal] = sub.MealChoice
	row[colDietary] = sub.DietaryRestrictions
	row[colPlusOneName] = sub.PlusOneName
	row[colPlusOneMeal] = sub.PlusOneMealChoice
	row[colPlusOneDietary] = sub.PlusOneDietaryRestrictions
	row[colEmail] = sub.Email
	row[colWhatsApp] = sub.WhatsAppNumber
	row[colEmailSent] = yesNo(sub.EmailSent)
	row[colWhatsAppSent] = yesNo(sub.WhatsAppSent)
	row[colSubmissionID] = sub.SubmissionID
	return row
}

// fromRow parses a sheet row. Cleared or token-less rows are skipped.
func fromRow(row []interface{}) (models.Submission, bool) {
	cell := func(i int) string {
		if i >= len(row) || row[i] == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(row[i]))
	}
	isYes := func(i int) bool {
		switch strings.ToLower(cell(i)) {
		case "yes", "true", "1":
			return true
		}
		return false
	}

	sub := models.Submission{
		Token:                      cell(colToken),
		GuestName:                  cell(colName),
		IsAttending:                isYes(colAttending),
		MealChoice:                 cell(colMeal),
		DietaryRestrictions:        cell(colDietary),
		PlusOneName:                cell(colPlusOneName),
		PlusOneMealChoice:          cell(colPlusOneMeal),
		PlusOneDietaryRestrictions: cell(colPlusOneDietary),
		Email:                      cell(colEmail),
		WhatsAppNumber:             cell(colWhatsApp),
		EmailSent:                  isYes(colEmailSent),
		WhatsAppSent:               isYes(colWhatsAppSent),
		SubmissionID:               cell(colSubmissionID),
	}
	if sub.Token == "" {
		return sub, false
	}
	if ts, err := time.Parse(time.RFC3339, cell(colTimestamp)); err == nil {
		sub.SubmittedAt = ts
	}
	sub.WantsEmailConfirmation = sub.Email != ""
	sub.WantsWhatsAppConfirmation = sub.WhatsAppNumber != ""
	return sub, true
}
