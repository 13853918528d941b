package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"wedding-rsvp/internal/models"
)

// SQLite is the database backend. Each token has at most one rsvps row,
// enforced by a unique constraint on guest_token.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// OpenSQLite opens the database file at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{
		db:  db,
		now: time.Now,
		log: log.With().Str("component", "SQLite").Logger(),
	}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const rsvpColumns = `id, submission_id, guest_token, guest_id IS NULL, guest_name, email_address,
	whatsapp_number, attending, meal_choice, dietary_restrictions, plus_one_name,
	plus_one_meal_choice, plus_one_dietary_restrictions, wants_email_confirmation,
	wants_whatsapp_confirmation, special_requests, email_sent, whatsapp_sent,
	submitted_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var (
		sub                  models.Submission
		submitted, updatedAt int64
	)
	err := row.Scan(
		&sub.ID, &sub.SubmissionID, &sub.Token, &sub.Standalone, &sub.GuestName, &sub.Email,
		&sub.WhatsAppNumber, &sub.IsAttending, &sub.MealChoice, &sub.DietaryRestrictions, &sub.PlusOneName,
		&sub.PlusOneMealChoice, &sub.PlusOneDietaryRestrictions, &sub.WantsEmailConfirmation,
		&sub.WantsWhatsAppConfirmation, &sub.SpecialRequests, &sub.EmailSent, &sub.WhatsAppSent,
		&submitted, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.SubmittedAt = time.UnixMilli(submitted).UTC()
	sub.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &sub, nil
}

// FindByToken implements RSVPStore.
func (s *SQLite) FindByToken(ctx context.Context, token string) (*models.Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rsvpColumns+` FROM rsvps WHERE guest_token = ?`, token)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rsvp: %w", err)
	}
	return sub, nil
}

// Insert implements RSVPStore. It links the row to the guest holding the
// token and fails with ErrGuestNotFound when there is none.
func (s *SQLite) Insert(ctx context.Context, sub *models.Submission) error {
	var guestID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM guests WHERE token = ?`, sub.Token).Scan(&guestID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrGuestNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query guest: %w", err)
	}
	return s.insert(ctx, sub, sql.NullString{String: guestID, Valid: true})
}

// InsertStandalone implements RSVPStore.
func (s *SQLite) InsertStandalone(ctx context.Context, sub *models.Submission) error {
	sub.Standalone = true
	return s.insert(ctx, sub, sql.NullString{})
}

func (s *SQLite) insert(ctx context.Context, sub *models.Submission, guestID sql.NullString) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now().UTC()
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = sub.SubmittedAt
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO rsvps (
		submission_id, guest_token, guest_id, guest_name, email_address, whatsapp_number,
		attending, meal_choice, dietary_restrictions, plus_one_name, plus_one_meal_choice,
		plus_one_dietary_restrictions, wants_email_confirmation, wants_whatsapp_confirmation,
		special_requests, email_sent, whatsapp_sent, submitted_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.SubmissionID, sub.Token, guestID, sub.GuestName, sub.Email, sub.WhatsAppNumber,
		sub.IsAttending, sub.MealChoice, sub.DietaryRestrictions, sub.PlusOneName, sub.PlusOneMealChoice,
		sub.PlusOneDietaryRestrictions, sub.WantsEmailConfirmation, sub.WantsWhatsAppConfirmation,
		sub.SpecialRequests, sub.EmailSent, sub.WhatsAppSent,
		sub.SubmittedAt.UnixMilli(), sub.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert rsvp: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		sub.ID = id
	}
	s.log.Debug().Str("token", sub.Token).Bool("standalone", !guestID.Valid).Msg("RSVP inserted")
	return nil
}

// Update implements RSVPStore. The row is matched by token.
func (s *SQLite) Update(ctx context.Context, sub *models.Submission) error {
	sub.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE rsvps SET
		submission_id = ?, guest_name = ?, email_address = ?, whatsapp_number = ?, attending = ?,
		meal_choice = ?, dietary_restrictions = ?, plus_one_name = ?, plus_one_meal_choice = ?,
		plus_one_dietary_restrictions = ?, wants_email_confirmation = ?, wants_whatsapp_confirmation = ?,
		special_requests = ?, email_sent = ?, whatsapp_sent = ?, updated_at = ?
		WHERE guest_token = ?`,
		sub.SubmissionID, sub.GuestName, sub.Email, sub.WhatsAppNumber, sub.IsAttending,
		sub.MealChoice, sub.DietaryRestrictions, sub.PlusOneName, sub.PlusOneMealChoice,
		sub.PlusOneDietaryRestrictions, sub.WantsEmailConfirmation, sub.WantsWhatsAppConfirmation,
		sub.SpecialRequests, sub.EmailSent, sub.WhatsAppSent, sub.UpdatedAt.UnixMilli(),
		sub.Token,
	)
	if err != nil {
		return fmt.Errorf("failed to update rsvp: %w", err)
	}
	return expectOneRow(res)
}

// Delete implements RSVPStore.
func (s *SQLite) Delete(ctx context.Context, submissionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rsvps WHERE submission_id = ?`, submissionID)
	if err != nil {
		return fmt.Errorf("failed to delete rsvp: %w", err)
	}
	return expectOneRow(res)
}

// List implements RSVPStore, newest first.
func (s *SQLite) List(ctx context.Context) ([]models.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+rsvpColumns+` FROM rsvps ORDER BY submitted_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rsvps: %w", err)
	}
	defer rows.Close()

	var subs []models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rsvp: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ListGuests implements GuestStore.
func (s *SQLite) ListGuests(ctx context.Context) ([]models.Guest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, token, first_name, last_name, full_name, email, phone,
		has_used_token, plus_one_eligible, plus_one_name, plus_one_email, invitation_group,
		dietary_restrictions, special_notes, created_at, last_accessed
		FROM guests ORDER BY last_name, first_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list guests: %w", err)
	}
	defer rows.Close()

	var guests []models.Guest
	for rows.Next() {
		var (
			g            models.Guest
			dietary      string
			createdAt    int64
			lastAccessed sql.NullInt64
		)
		if err := rows.Scan(&g.ID, &g.Token, &g.FirstName, &g.LastName, &g.Name, &g.Email, &g.PhoneNumber,
			&g.HasUsedToken, &g.PlusOneEligible, &g.PlusOneName, &g.PlusOneEmail, &g.InvitationGroup,
			&dietary, &g.SpecialNotes, &createdAt, &lastAccessed); err != nil {
			return nil, fmt.Errorf("failed to scan guest: %w", err)
		}
		if err := json.Unmarshal([]byte(dietary), &g.DietaryRestrictions); err != nil {
			s.log.Warn().Err(err).Str("token", g.Token).Msg("Bad dietary restrictions column")
		}
		g.CreatedAt = time.UnixMilli(createdAt).UTC()
		if lastAccessed.Valid {
			t := time.UnixMilli(lastAccessed.Int64).UTC()
			g.LastAccessed = &t
		}
		guests = append(guests, g)
	}
	return guests, rows.Err()
}

// UpsertGuests implements GuestStore. Access tracking on existing rows is
// preserved.
func (s *SQLite) UpsertGuests(ctx context.Context, guests []models.Guest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO guests (
		id, token, first_name, last_name, full_name, email, phone, plus_one_eligible,
		plus_one_name, plus_one_email, invitation_group, dietary_restrictions, special_notes, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(token) DO UPDATE SET
		first_name = excluded.first_name, last_name = excluded.last_name, full_name = excluded.full_name,
		email = excluded.email, phone = excluded.phone, plus_one_eligible = excluded.plus_one_eligible,
		plus_one_name = excluded.plus_one_name, plus_one_email = excluded.plus_one_email,
		invitation_group = excluded.invitation_group, dietary_restrictions = excluded.dietary_restrictions,
		special_notes = excluded.special_notes`)
	if err != nil {
		return fmt.Errorf("failed to prepare guest upsert: %w", err)
	}
	defer stmt.Close()

	for _, g := range guests {
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		if g.CreatedAt.IsZero() {
			g.CreatedAt = s.now()
		}
		dietary := g.DietaryRestrictions
		if dietary == nil {
			dietary = []string{}
		}
		dietaryJSON, err := json.Marshal(dietary)
		if err != nil {
			return fmt.Errorf("failed to marshal dietary restrictions: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, g.ID, g.Token, g.FirstName, g.LastName, g.FullName(), g.Email,
			g.PhoneNumber, g.PlusOneEligible, g.PlusOneName, g.PlusOneEmail, g.InvitationGroup,
			string(dietaryJSON), g.SpecialNotes, g.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to upsert guest %s: %w", g.Token, err)
		}
	}
	return tx.Commit()
}

// TouchGuest implements GuestStore.
func (s *SQLite) TouchGuest(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE guests SET has_used_token = 1, last_accessed = ? WHERE token = ?`,
		at.UnixMilli(), token)
	if err != nil {
		return fmt.Errorf("failed to touch guest: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
