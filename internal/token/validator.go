package token

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wedding-rsvp/internal/models"
	"wedding-rsvp/internal/ratelimit"
)

// Status is the outcome class of a validation.
type Status string

const (
	StatusValid       Status = "valid"
	StatusInvalid     Status = "invalid"
	StatusRateLimited Status = "rate_limited"
	StatusBlocked     Status = "blocked"
)

// DefaultPublicPrefix marks tokens for open, uninvited RSVPs.
const DefaultPublicPrefix = "public-"

// longTokenLength is the length above which an unknown token is accepted as
// public.
const longTokenLength = 20

var timestampRun = regexp.MustCompile(`\d{13}`)

// Outcome is the result of validating a token.
type Outcome struct {
	Status     Status
	Token      string
	Public     bool
	Guest      *models.Guest
	Reason     string
	RetryAfter time.Duration
}

// OK reports a valid token.
func (o Outcome) OK() bool { return o.Status == StatusValid }

// GuestLookup resolves tokens to guests.
type GuestLookup interface {
	Lookup(ctx context.Context, token string) (*models.Guest, bool, error)
	Touch(ctx context.Context, token string, at time.Time) error
}

// ValidatorOptions tune a Validator.
type ValidatorOptions struct {
	PublicPrefix string
	// RequireKnownGuest rejects well-formed tokens missing from the guest list.
	RequireKnownGuest bool
	// Blocked lists client ids rejected outright.
	Blocked []string
	Now     func() time.Time
}

// Validator checks token shape, guest membership and per-client attempts.
type Validator struct {
	limiter *ratelimit.Limiter
	guests  GuestLookup
	opts    ValidatorOptions
	blocked map[string]struct{}
	log     zerolog.Logger
}

// NewValidator creates a validator. guests may be nil, in which case every
// well-formed token is accepted without a guest record.
func NewValidator(limiter *ratelimit.Limiter, guests GuestLookup, opts ValidatorOptions, log zerolog.Logger) *Validator {
	if opts.PublicPrefix == "" {
		opts.PublicPrefix = DefaultPublicPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	blocked := make(map[string]struct{}, len(opts.Blocked))
	for _, c := range opts.Blocked {
		if c = strings.TrimSpace(c); c != "" {
			blocked[c] = struct{}{}
		}
	}
	return &Validator{
		limiter: limiter,
		guests:  guests,
		opts:    opts,
		blocked: blocked,
		log:     log.With().Str("component", "TokenValidator").Logger(),
	}
}

// IsPublic reports whether tok bypasses guest checks by its shape alone: it
// carries the public prefix or a 13-digit millisecond timestamp.
func (v *Validator) IsPublic(tok string) bool {
	if strings.HasPrefix(strings.ToLower(tok), v.opts.PublicPrefix) {
		return true
	}
	return timestampRun.MatchString(tok)
}

// Validate decides whether clientID may use tok.
func (v *Validator) Validate(ctx context.Context, clientID, tok string) Outcome {
	tok = strings.TrimSpace(tok)
	out := Outcome{Token: tok}

	if _, ok := v.blocked[clientID]; ok {
		out.Status = StatusBlocked
		out.Reason = "client is blocked"
		return out
	}

	if v.limiter != nil {
		retry, ok, err := v.limiter.Check(ctx, clientID)
		if err != nil {
			// fail open when the store is unreachable
			v.log.Error().Err(err).Str("client", clientID).Msg("Rate limit check failed")
		} else if !ok {
			out.Status = StatusRateLimited
			out.Reason = "too many attempts"
			out.RetryAfter = retry
			return out
		}
	}

	if v.IsPublic(tok) {
		return v.succeed(ctx, clientID, out, nil, true)
	}

	wellFormed := ValidFormat(tok)
	var (
		guest     *models.Guest
		found     bool
		lookupErr error
	)
	if wellFormed {
		out.Token = strings.ToLower(tok)
		if v.guests != nil {
			guest, found, lookupErr = v.guests.Lookup(ctx, out.Token)
			if lookupErr != nil {
				v.log.Error().Err(lookupErr).Str("token", out.Token).Msg("Guest lookup failed")
			}
		}
	}

	switch {
	case found:
		return v.succeed(ctx, clientID, out, guest, false)
	case len(tok) > longTokenLength:
		// long links are open invitations, whatever their shape
		return v.succeed(ctx, clientID, out, nil, true)
	case !wellFormed:
		return v.fail(ctx, clientID, out, "malformed token")
	case v.guests == nil || lookupErr != nil || !v.opts.RequireKnownGuest:
		return v.succeed(ctx, clientID, out, nil, false)
	default:
		return v.fail(ctx, clientID, out, "unknown token")
	}
}

func (v *Validator) succeed(ctx context.Context, clientID string, out Outcome, guest *models.Guest, public bool) Outcome {
	out.Status = StatusValid
	out.Public = public
	out.Guest = guest

	// only a matched guest clears the failure count
	if guest != nil && v.limiter != nil {
		if err := v.limiter.Succeed(ctx, clientID); err != nil {
			v.log.Error().Err(err).Str("client", clientID).Msg("Failed to reset attempts")
		}
	}
	if guest != nil && v.guests != nil {
		if err := v.guests.Touch(ctx, guest.Token, v.opts.Now()); err != nil {
			v.log.Warn().Err(err).Str("token", guest.Token).Msg("Failed to update last access")
		}
	}
	return out
}

func (v *Validator) fail(ctx context.Context, clientID string, out Outcome, reason string) Outcome {
	out.Status = StatusInvalid
	out.Reason = reason

	if v.limiter == nil {
		return out
	}
	locked, retry, err := v.limiter.Fail(ctx, clientID)
	if err != nil {
		v.log.Error().Err(err).Str("client", clientID).Msg("Failed to record attempt")
		return out
	}
	if locked {
		out.RetryAfter = retry
	}
	v.log.Info().Str("client", clientID).Str("token", out.Token).Str("reason", reason).Msg("Rejected token")
	return out
}
