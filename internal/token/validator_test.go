package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-rsvp/internal/models"
	"wedding-rsvp/internal/ratelimit"
)

type fakeGuests struct {
	guests  map[string]models.Guest
	lookups int
	touched map[string]time.Time
	err     error
}

func newFakeGuests(gs ...models.Guest) *fakeGuests {
	f := &fakeGuests{guests: map[string]models.Guest{}, touched: map[string]time.Time{}}
	for _, g := range gs {
		f.guests[g.Token] = g
	}
	return f
}

func (f *fakeGuests) Lookup(_ context.Context, tok string) (*models.Guest, bool, error) {
	f.lookups++
	if f.err != nil {
		return nil, false, f.err
	}
	g, ok := f.guests[tok]
	if !ok {
		return nil, false, nil
	}
	return &g, true, nil
}

func (f *fakeGuests) Touch(_ context.Context, tok string, at time.Time) error {
	f.touched[tok] = at
	return nil
}

func newTestValidator(guests GuestLookup, opts ValidatorOptions) *Validator {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(nil), ratelimit.DefaultConfig(), zerolog.Nop())
	return NewValidator(limiter, guests, opts, zerolog.Nop())
}

func TestValidateKnownGuest(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	guests := newFakeGuests(models.Guest{Token: "john-doe-k3x9p2ma", FirstName: "John", LastName: "Doe"})
	v := newTestValidator(guests, ValidatorOptions{RequireKnownGuest: true, Now: func() time.Time { return now }})

	out := v.Validate(context.Background(), "1.2.3.4", "John-Doe-K3X9P2MA")
	require.True(t, out.OK())
	assert.False(t, out.Public)
	require.NotNil(t, out.Guest)
	assert.Equal(t, "John Doe", out.Guest.FullName())
	assert.Equal(t, "john-doe-k3x9p2ma", out.Token)
	assert.Equal(t, now, guests.touched["john-doe-k3x9p2ma"])
}

func TestValidatePublicTimestampBypass(t *testing.T) {
	guests := newFakeGuests()
	v := newTestValidator(guests, ValidatorOptions{RequireKnownGuest: true})

	out := v.Validate(context.Background(), "1.2.3.4", "JOHN-1700000000000-ab12cd34")
	require.True(t, out.OK())
	assert.True(t, out.Public)
	assert.Nil(t, out.Guest)
	assert.Zero(t, guests.lookups, "public tokens never reach the guest list")
}

func TestValidatePublicPrefix(t *testing.T) {
	guests := newFakeGuests()
	v := newTestValidator(guests, ValidatorOptions{RequireKnownGuest: true})

	out := v.Validate(context.Background(), "1.2.3.4", "public-garden-party")
	require.True(t, out.OK())
	assert.True(t, out.Public)
	assert.Zero(t, guests.lookups)
}

func TestValidateLongUnknownTokenIsPublic(t *testing.T) {
	v := newTestValidator(newFakeGuests(), ValidatorOptions{RequireKnownGuest: true})

	out := v.Validate(context.Background(), "1.2.3.4", "someone-unexpected-abcd1234")
	require.True(t, out.OK())
	assert.True(t, out.Public)
}

func TestValidateLongMalformedTokenIsPublic(t *testing.T) {
	guests := newFakeGuests()
	v := newTestValidator(guests, ValidatorOptions{RequireKnownGuest: true})

	out := v.Validate(context.Background(), "1.1.1.1", "Open_Invitation_For_Everyone")
	require.True(t, out.OK())
	assert.True(t, out.Public)
	assert.Empty(t, out.Reason)
	assert.Zero(t, guests.lookups)
}

func TestValidateLongGuestTokenKeepsGuest(t *testing.T) {
	long := "alexandria-montgomery-k3x9p2ma"
	guests := newFakeGuests(models.Guest{Token: long, FirstName: "Alexandria", LastName: "Montgomery"})
	v := newTestValidator(guests, ValidatorOptions{RequireKnownGuest: true})

	out := v.Validate(context.Background(), "1.2.3.4", long)
	require.True(t, out.OK())
	assert.False(t, out.Public)
	require.NotNil(t, out.Guest)
	assert.Equal(t, "Alexandria Montgomery", out.Guest.FullName())
}

func TestValidateRejectsMalformed(t *testing.T) {
	v := newTestValidator(newFakeGuests(), ValidatorOptions{})

	for _, tok := range []string{"", "ab", "nohyphen", "9abc-def", "bad token-x"} {
		out := v.Validate(context.Background(), tok, tok)
		assert.Equal(t, StatusInvalid, out.Status, tok)
		assert.Equal(t, "malformed token", out.Reason)
	}
}

func TestValidateUnknownGuest(t *testing.T) {
	strict := newTestValidator(newFakeGuests(), ValidatorOptions{RequireKnownGuest: true})
	out := strict.Validate(context.Background(), "1.2.3.4", "jane-doe-k3x9p2ma")
	assert.Equal(t, StatusInvalid, out.Status)
	assert.Equal(t, "unknown token", out.Reason)

	loose := newTestValidator(newFakeGuests(), ValidatorOptions{})
	out = loose.Validate(context.Background(), "1.2.3.4", "jane-doe-k3x9p2ma")
	assert.True(t, out.OK())
	assert.Nil(t, out.Guest)
}

func TestValidateLookupErrorFailsOpen(t *testing.T) {
	guests := newFakeGuests()
	guests.err = errors.New("database is down")
	v := newTestValidator(guests, ValidatorOptions{RequireKnownGuest: true})

	out := v.Validate(context.Background(), "1.2.3.4", "jane-doe-k3x9p2ma")
	assert.True(t, out.OK())
}

func TestValidateRateLimitsAfterThreeFailures(t *testing.T) {
	v := newTestValidator(newFakeGuests(), ValidatorOptions{RequireKnownGuest: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out := v.Validate(ctx, "6.6.6.6", "bogus")
		require.Equal(t, StatusInvalid, out.Status)
	}

	out := v.Validate(ctx, "6.6.6.6", "bogus")
	assert.Equal(t, StatusRateLimited, out.Status)
	assert.Equal(t, "too many attempts", out.Reason)
	assert.Greater(t, out.RetryAfter, time.Duration(0))

	// even a good token is refused during the lockout
	out = v.Validate(ctx, "6.6.6.6", "public-anyone")
	assert.Equal(t, StatusRateLimited, out.Status)

	// another client is fine
	out = v.Validate(ctx, "7.7.7.7", "bogus")
	assert.Equal(t, StatusInvalid, out.Status)
}

func TestValidateSuccessResetsAttempts(t *testing.T) {
	guests := newFakeGuests(models.Guest{Token: "john-doe-k3x9p2ma"})
	v := newTestValidator(guests, ValidatorOptions{RequireKnownGuest: true})
	ctx := context.Background()

	v.Validate(ctx, "ip", "bogus")
	v.Validate(ctx, "ip", "bogus")
	require.True(t, v.Validate(ctx, "ip", "john-doe-k3x9p2ma").OK())
	v.Validate(ctx, "ip", "bogus")
	v.Validate(ctx, "ip", "bogus")

	out := v.Validate(ctx, "ip", "john-doe-k3x9p2ma")
	assert.True(t, out.OK())
}

func TestValidatePublicTokensDoNotClearFailures(t *testing.T) {
	v := newTestValidator(newFakeGuests(), ValidatorOptions{RequireKnownGuest: true})
	ctx := context.Background()

	require.Equal(t, StatusInvalid, v.Validate(ctx, "6.6.6.6", "bogus").Status)
	require.Equal(t, StatusInvalid, v.Validate(ctx, "6.6.6.6", "bogus").Status)
	require.True(t, v.Validate(ctx, "6.6.6.6", "public-x").OK())
	require.True(t, v.Validate(ctx, "6.6.6.6", "Open_Invitation_For_Everyone").OK())

	out := v.Validate(ctx, "6.6.6.6", "bogus")
	require.Equal(t, StatusInvalid, out.Status)
	assert.Greater(t, out.RetryAfter, time.Duration(0))

	assert.Equal(t, StatusRateLimited, v.Validate(ctx, "6.6.6.6", "public-x").Status)
}

func TestValidateBlockedClient(t *testing.T) {
	v := newTestValidator(newFakeGuests(), ValidatorOptions{Blocked: []string{"9.9.9.9"}})

	out := v.Validate(context.Background(), "9.9.9.9", "public-anyone")
	assert.Equal(t, StatusBlocked, out.Status)
}
