// Package pipeline turns a completed RSVP form into a stored submission and
// sends the confirmations the guest asked for.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wedding-rsvp/internal/models"
	"wedding-rsvp/internal/notify"
	"wedding-rsvp/internal/storage"
	"wedding-rsvp/internal/token"
	"wedding-rsvp/internal/validate"
)

// Persistence says where a submission ended up.
type Persistence string

const (
	PersistedRemotely    Persistence = "persisted_remotely"
	PersistedLocallyOnly Persistence = "persisted_locally_only"
	Failed               Persistence = "failed"
)

// Email recipients.
const (
	RecipientGuest      = "guest"
	RecipientOrganizers = "organizers"
)

// TokenChecker validates a token for a client.
type TokenChecker interface {
	Validate(ctx context.Context, clientID, tok string) token.Outcome
}

// LocalStore keeps drafts and the queue of submissions not yet stored
// remotely.
type LocalStore interface {
	Enqueue(sub models.Submission) error
	SaveDraft(token string, draft models.Draft) error
}

// Options tune a Pipeline.
type Options struct {
	// AllowUpdates lets a token replace its earlier submission.
	AllowUpdates bool
	Wedding      notify.WeddingDetails
	Now          func() time.Time
	NewID        func() string
}

// Request is one submit attempt.
type Request struct {
	ClientID string
	Token    string
	Data     models.FormData
	// Guest is the registry record, when the caller already resolved it.
	Guest *models.Guest
}

// EmailResult reports the confirmation email step.
type EmailResult struct {
	Attempted bool
	Recipient string
	Sent      bool
	Err       error
}

// Result is a stored submission and what happened around it.
type Result struct {
	Submission   models.Submission
	Persistence  Persistence
	Updated      bool
	Email        EmailResult
	WhatsAppLink string
	Warnings     []string
}

// Pipeline runs submissions. Steps are sequential and a later failure never
// undoes an earlier step.
type Pipeline struct {
	store      storage.RSVPStore
	local      LocalStore
	tokens     TokenChecker
	mailer     notify.Mailer
	organizers notify.OrganizerNotifier
	opts       Options
	log        zerolog.Logger
}

// New creates a pipeline. mailer and organizers may be nil when email is not
// configured.
func New(store storage.RSVPStore, local LocalStore, tokens TokenChecker, mailer notify.Mailer, organizers notify.OrganizerNotifier, opts Options, log zerolog.Logger) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Pipeline{
		store:      store,
		local:      local,
		tokens:     tokens,
		mailer:     mailer,
		organizers: organizers,
		opts:       opts,
		log:        log.With().Str("component", "Pipeline").Logger(),
	}
}

// AllowUpdates reports whether resubmission replaces the stored answer.
func (p *Pipeline) AllowUpdates() bool {
	return p.opts.AllowUpdates
}

// BuildSubmission converts form data into a submission record. Meal and
// plus-one fields are dropped for guests who are not attending.
func BuildSubmission(tok string, f models.FormData) models.Submission {
	sub := models.Submission{
		Token:                     tok,
		GuestName:                 strings.TrimSpace(f.GuestName),
		IsAttending:               f.Attending(),
		WantsEmailConfirmation:    f.WantsEmailConfirmation,
		WantsWhatsAppConfirmation: f.WantsWhatsAppConfirmation,
		Email:                     strings.TrimSpace(f.Email),
		WhatsAppNumber:            strings.TrimSpace(f.WhatsAppNumber),
		SpecialRequests:           strings.TrimSpace(f.SpecialRequests),
	}
	if sub.IsAttending {
		sub.MealChoice = strings.TrimSpace(f.MealChoice)
		sub.DietaryRestrictions = strings.TrimSpace(f.DietaryRestrictions)
		sub.PlusOneName = strings.TrimSpace(f.PlusOneName)
		if sub.PlusOneName != "" {
			sub.PlusOneMealChoice = strings.TrimSpace(f.PlusOneMealChoice)
			sub.PlusOneDietaryRestrictions = strings.TrimSpace(f.PlusOneDietaryRestrictions)
		}
	}
	return sub
}

// OutcomeError converts a rejected token into a guest-facing error. It
// returns nil for a valid token.
func OutcomeError(o token.Outcome) error {
	switch o.Status {
	case token.StatusValid:
		return nil
	case token.StatusRateLimited:
		return &Error{Code: CodeRateLimited, Message: "Too many attempts, please try again later", RetryAfter: o.RetryAfter}
	case token.StatusBlocked:
		return &Error{Code: CodeRateLimited, Message: "Access from this network is blocked"}
	default:
		return &Error{Code: CodeInvalidToken, Message: "This RSVP link is not valid", RetryAfter: o.RetryAfter}
	}
}

// Submit validates, stores and confirms one RSVP.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*Result, error) {
	outcome := p.tokens.Validate(ctx, req.ClientID, req.Token)
	if err := OutcomeError(outcome); err != nil {
		return nil, err
	}

	if errs := validate.Submit(req.Data); !errs.Empty() {
		return nil, &Error{Code: CodeMissingRequiredField, Message: "Please complete the required fields", Fields: errs}
	}

	guest := req.Guest
	if guest == nil {
		guest = outcome.Guest
	}
	log := p.log.With().Str("token", outcome.Token).Logger()

	sub := BuildSubmission(outcome.Token, req.Data)
	sub.SubmissionID = p.opts.NewID()
	sub.SubmittedAt = p.opts.Now().UTC()
	res := &Result{}

	if err := p.persist(ctx, &sub, guest, res); err != nil {
		res.Persistence = Failed
		res.Submission = sub
		log.Error().Err(err).Msg("Submission could not be stored")
		return res, err
	}
	res.Submission = sub
	log.Info().Str("persistence", string(res.Persistence)).Bool("updated", res.Updated).Msg("RSVP stored")

	p.sendEmail(ctx, res)

	if sub.WantsWhatsAppConfirmation && sub.WhatsAppNumber != "" {
		link, err := notify.WhatsAppLink(sub.WhatsAppNumber, notify.ConfirmationMessage(res.Submission, p.opts.Wedding))
		if err != nil {
			res.Warnings = append(res.Warnings, "RSVP saved, but the WhatsApp number looks invalid")
		} else {
			res.WhatsAppLink = link
		}
	}

	if res.Submission.EmailSent {
		p.recordSentFlags(ctx, res)
	}

	draft := models.Draft{
		Data:         req.Data,
		Submitted:    true,
		SubmissionID: res.Submission.SubmissionID,
		SavedAt:      p.opts.Now(),
	}
	if err := p.local.SaveDraft(outcome.Token, draft); err != nil {
		log.Warn().Err(err).Msg("Failed to save local snapshot")
	}

	return res, nil
}

// persist stores sub remotely, updating an existing answer when allowed,
// and queues it locally when the remote store cannot be reached.
func (p *Pipeline) persist(ctx context.Context, sub *models.Submission, guest *models.Guest, res *Result) error {
	existing, err := p.store.FindByToken(ctx, sub.Token)
	switch {
	case err == nil:
		if !p.opts.AllowUpdates {
			return &Error{Code: CodeDuplicateSubmission, Message: "An RSVP was already submitted for this invitation"}
		}
		return p.update(ctx, sub, existing, res)
	case errors.Is(err, storage.ErrNotFound):
	default:
		return p.queue(sub, res, err)
	}

	if guest == nil {
		err = p.store.InsertStandalone(ctx, sub)
	} else {
		err = p.store.Insert(ctx, sub)
		if errors.Is(err, storage.ErrGuestNotFound) {
			p.log.Info().Str("token", sub.Token).Msg("No guest row, storing standalone")
			err = p.store.InsertStandalone(ctx, sub)
		}
	}
	switch {
	case err == nil:
		res.Persistence = PersistedRemotely
		return nil
	case errors.Is(err, storage.ErrDuplicate):
		if !p.opts.AllowUpdates {
			return &Error{Code: CodeDuplicateSubmission, Message: "An RSVP was already submitted for this invitation", Cause: err}
		}
		existing, ferr := p.store.FindByToken(ctx, sub.Token)
		if ferr != nil {
			return p.queue(sub, res, ferr)
		}
		return p.update(ctx, sub, existing, res)
	default:
		return p.queue(sub, res, err)
	}
}

func (p *Pipeline) update(ctx context.Context, sub *models.Submission, existing *models.Submission, res *Result) error {
	sub.ID = existing.ID
	sub.SubmissionID = existing.SubmissionID
	sub.SubmittedAt = existing.SubmittedAt
	sub.Standalone = existing.Standalone
	if err := p.store.Update(ctx, sub); err != nil {
		return p.queue(sub, res, err)
	}
	res.Persistence = PersistedRemotely
	res.Updated = true
	return nil
}

func (p *Pipeline) queue(sub *models.Submission, res *Result, cause error) error {
	p.log.Warn().Err(cause).Str("token", sub.Token).Msg("Remote store unavailable, queueing submission")
	if err := p.local.Enqueue(*sub); err != nil {
		return &Error{
			Code:    CodeBackendUnavailable,
			Message: "We could not save your RSVP, please try again shortly",
			Cause:   errors.Join(cause, err),
		}
	}
	res.Persistence = PersistedLocallyOnly
	res.Warnings = append(res.Warnings, "RSVP received and will be saved once our records are reachable")
	return nil
}

func (p *Pipeline) sendEmail(ctx context.Context, res *Result) {
	sub := &res.Submission
	if !sub.WantsEmailConfirmation {
		return
	}
	res.Email.Attempted = true

	if sub.Email != "" {
		res.Email.Recipient = RecipientGuest
		if p.mailer == nil {
			res.Email.Err = fmt.Errorf("email is not configured")
		} else {
			res.Email.Err = p.mailer.SendConfirmation(ctx, notify.Confirmation{
				To:         sub.Email,
				Submission: *sub,
				Wedding:    p.opts.Wedding,
			})
		}
		if res.Email.Err == nil {
			res.Email.Sent = true
			sub.EmailSent = true
		}
	} else {
		res.Email.Recipient = RecipientOrganizers
		if p.organizers == nil {
			res.Email.Err = fmt.Errorf("no organizer channel configured")
		} else {
			res.Email.Err = p.organizers.NotifyOrganizers(ctx, notify.Notice{
				Subject:    "RSVP confirmation requested without an email address",
				Body:       fmt.Sprintf("%s asked for an email confirmation but left no address (token %s).", sub.GuestName, sub.Token),
				Submission: *sub,
			})
		}
		res.Email.Sent = res.Email.Err == nil
	}

	if res.Email.Err != nil {
		p.log.Warn().Err(res.Email.Err).Str("token", sub.Token).Str("recipient", res.Email.Recipient).Msg("Confirmation email failed")
		res.Warnings = append(res.Warnings, "RSVP saved, but the confirmation email failed")
	}
}

func (p *Pipeline) recordSentFlags(ctx context.Context, res *Result) {
	var err error
	switch res.Persistence {
	case PersistedRemotely:
		err = p.store.Update(ctx, &res.Submission)
	case PersistedLocallyOnly:
		err = p.local.Enqueue(res.Submission)
	}
	if err != nil {
		p.log.Warn().Err(err).Str("token", res.Submission.Token).Msg("Failed to record email status")
	}
}
