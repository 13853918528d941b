package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-rsvp/internal/models"
)

// fakeValues is an in-memory sheet. grid[0] is sheet row 1.
type fakeValues struct {
	grid [][]interface{}
}

func parseRow(rng string) int {
	cells := rng[strings.Index(rng, "!")+1:]
	var row int
	fmt.Sscanf(cells, "A%d", &row)
	return row
}

func (f *fakeValues) Get(_ context.Context, _, rng string) ([][]interface{}, error) {
	start := parseRow(rng)
	if start == 1 && strings.HasSuffix(rng, "N1") {
		if len(f.grid) == 0 {
			return nil, nil
		}
		return f.grid[:1], nil
	}
	if start-1 >= len(f.grid) {
		return nil, nil
	}
	return f.grid[start-1:], nil
}

func (f *fakeValues) Append(_ context.Context, _, _ string, rows [][]interface{}) error {
	if len(f.grid) == 0 {
		f.grid = append(f.grid, []interface{}{})
	}
	f.grid = append(f.grid, rows...)
	return nil
}

func (f *fakeValues) Update(_ context.Context, _, rng string, rows [][]interface{}) error {
	row := parseRow(rng)
	for len(f.grid) < row {
		f.grid = append(f.grid, []interface{}{})
	}
	f.grid[row-1] = rows[0]
	return nil
}

func (f *fakeValues) Clear(_ context.Context, _, rng string) error {
	f.grid[parseRow(rng)-1] = []interface{}{}
	return nil
}

func TestSheetsLifecycle(t *testing.T) {
	ctx := context.Background()
	values := &fakeValues{}
	s := newSheets(values, "sheet-id", "", zerolog.Nop())

	require.NoError(t, s.EnsureHeader(ctx))
	require.Len(t, values.grid, 1)
	assert.Len(t, values.grid[0], 14)
	require.NoError(t, s.EnsureHeader(ctx))
	require.Len(t, values.grid, 1)

	sub := &models.Submission{
		SubmissionID: "sub-1",
		Token:        "john-doe-k3x9p2ma",
		GuestName:    "John Doe",
		IsAttending:  true,
		MealChoice:   "fish",
		PlusOneName:  "Jane Doe",
		Email:        "john@example.com",
		SubmittedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Insert(ctx, sub))
	require.Len(t, values.grid, 2)
	assert.Len(t, values.grid[1], 14)

	assert.ErrorIs(t, s.Insert(ctx, sub), ErrDuplicate)

	got, err := s.FindByToken(ctx, "john-doe-k3x9p2ma")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
	assert.True(t, got.IsAttending)
	assert.Equal(t, "Jane Doe", got.PlusOneName)
	assert.True(t, got.WantsEmailConfirmation)
	assert.True(t, sub.SubmittedAt.Equal(got.SubmittedAt))

	sub.MealChoice = "beef"
	sub.EmailSent = true
	require.NoError(t, s.Update(ctx, sub))
	assert.Equal(t, "beef", values.grid[1][colMeal])
	assert.Equal(t, "Yes", values.grid[1][colEmailSent])

	require.NoError(t, s.InsertStandalone(ctx, &models.Submission{SubmissionID: "sub-2", Token: "public-1700000000000"}))
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.Delete(ctx, "sub-1"))
	_, err = s.FindByToken(ctx, "john-doe-k3x9p2ma")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "sub-1"), ErrNotFound)

	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(3), list[0].ID)
}

func TestUpdateMissingRow(t *testing.T) {
	s := newSheets(&fakeValues{}, "id", "RSVPs", zerolog.Nop())
	err := s.Update(context.Background(), &models.Submission{Token: "nobody-x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFromRowShortRow(t *testing.T) {
	sub, ok := fromRow([]interface{}{"", "tok-en", "Ana", "yes"})
	require.True(t, ok)
	assert.Equal(t, "Ana", sub.GuestName)
	assert.True(t, sub.IsAttending)
	assert.Empty(t, sub.SubmissionID)

	_, ok = fromRow([]interface{}{})
	assert.False(t, ok)
}
