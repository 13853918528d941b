// Package storage persists RSVP submissions and guests. The remote backends
// (SQLite database, Google Sheets) are the system of record; Local is the
// on-disk cache of drafts and of submissions waiting to reach a backend.
package storage

import (
	"context"
	"errors"
	"time"

	"wedding-rsvp/internal/models"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when the token already has a submission.
	ErrDuplicate = errors.New("submission already exists for token")
	// ErrGuestNotFound is returned by Insert when the token is not linked to
	// a guest row.
	ErrGuestNotFound = errors.New("no guest row for token")
	// ErrQueueChanged is returned by Local.Remove when the queued entry was
	// replaced after it was read.
	ErrQueueChanged = errors.New("queued submission changed")
)

// RSVPStore reads and writes submissions.
type RSVPStore interface {
	FindByToken(ctx context.Context, token string) (*models.Submission, error)
	Insert(ctx context.Context, sub *models.Submission) error
	// InsertStandalone stores sub without a guest reference.
	InsertStandalone(ctx context.Context, sub *models.Submission) error
	Update(ctx context.Context, sub *models.Submission) error
	Delete(ctx context.Context, submissionID string) error
	List(ctx context.Context) ([]models.Submission, error)
}

// GuestStore reads and writes guests.
type GuestStore interface {
	ListGuests(ctx context.Context) ([]models.Guest, error)
	UpsertGuests(ctx context.Context, guests []models.Guest) error
	TouchGuest(ctx context.Context, token string, at time.Time) error
}

// DraftKey is the cache key for a token's form snapshot.
func DraftKey(token string) string {
	return "rsvp_form_" + token
}
