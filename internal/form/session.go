// Package form tracks each guest's in-progress RSVP from the first page load
// to a stored submission.
package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"

	"wedding-rsvp/internal/models"
	"wedding-rsvp/internal/pipeline"
	"wedding-rsvp/internal/storage"
	tokens "wedding-rsvp/internal/token"
	"wedding-rsvp/internal/validate"
)

// State is a step of the form lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateLoadingExisting State = "loadingExisting"
	StatePrefilled       State = "prefilled"
	StateEmpty           State = "empty"
	StateEditing         State = "editing"
	StateValidating      State = "validating"
	StateSubmitting      State = "submitting"
	StateSuccess         State = "success"
	StateError           State = "error"
)

// DefaultAutosaveDelay is the debounce between the last edit and the draft
// write.
const DefaultAutosaveDelay = time.Second

var (
	// ErrLocked is returned when editing a form whose answer is final.
	ErrLocked = errors.New("rsvp already submitted")
	// ErrBusy is returned while a submission is in flight.
	ErrBusy = errors.New("submission in progress")
)

// SubmissionStore finds a token's stored answer.
type SubmissionStore interface {
	FindByToken(ctx context.Context, token string) (*models.Submission, error)
}

// DraftStore keeps form snapshots between visits.
type DraftStore interface {
	LoadDraft(token string) (*models.Draft, error)
	SaveDraft(token string, draft models.Draft) error
	DeleteDraft(token string) error
}

// Submitter runs the submission pipeline.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	AllowUpdates() bool
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Store     SubmissionStore
	Drafts    DraftStore
	Submitter Submitter
	// AutosaveDelay of zero writes the draft on every edit.
	AutosaveDelay time.Duration
	Log           zerolog.Logger
}

// SubmitView is the outcome of the last successful submit.
type SubmitView struct {
	SubmissionID   string               `json:"submissionId"`
	Persistence    pipeline.Persistence `json:"persistence"`
	Updated        bool                 `json:"updated"`
	EmailAttempted bool                 `json:"emailAttempted"`
	EmailRecipient string               `json:"emailRecipient,omitempty"`
	EmailSent      bool                 `json:"emailSent"`
	WhatsAppLink   string               `json:"whatsappLink,omitempty"`
	Warnings       []string             `json:"warnings,omitempty"`
}

// ErrorView is the banner for a failed submit.
type ErrorView struct {
	Code    pipeline.Code `json:"code"`
	Message string        `json:"message"`
}

// View is a read-only snapshot of a session.
type View struct {
	Token                 string               `json:"token"`
	State                 State                `json:"state"`
	Data                  models.FormData      `json:"data"`
	Errors                validate.FieldErrors `json:"errors"`
	Progress              int                  `json:"progress"`
	CanSubmit             bool                 `json:"canSubmit"`
	HasExistingSubmission bool                 `json:"hasExistingSubmission"`
	Locked                bool                 `json:"locked"`
	PlusOneEligible       bool                 `json:"plusOneEligible"`
	Result                *SubmitView          `json:"result,omitempty"`
	Error                 *ErrorView           `json:"error,omitempty"`
}

// Session is one token's form.
type Session struct {
	mu sync.Mutex

	token string
	guest *models.Guest
	deps  Deps
	log   zerolog.Logger

	state     State
	data      models.FormData
	errors    validate.FieldErrors
	existing  bool
	locked    bool
	result    *pipeline.Result
	submitErr *pipeline.Error

	timer    *time.Timer
	dirty    bool
	lastUsed time.Time
}

// NewSession creates an idle session. guest is nil for public tokens.
func NewSession(token string, guest *models.Guest, deps Deps) *Session {
	if deps.AutosaveDelay < 0 {
		deps.AutosaveDelay = 0
	}
	return &Session{
		token:    token,
		guest:    guest,
		deps:     deps,
		log:      deps.Log.With().Str("component", "Form").Str("token", token).Logger(),
		state:    StateIdle,
		data:     models.DefaultFormData(),
		errors:   validate.FieldErrors{},
		lastUsed: time.Now(),
	}
}

// NameFromToken derives a display name from a personal token by dropping
// the random suffix: "john-doe-k3x9p2ma" gives "John Doe".
func NameFromToken(token string) string {
	parts := strings.Split(strings.ToLower(token), "-")
	if len(parts) < 2 || len(parts[len(parts)-1]) != tokens.SuffixLength {
		return ""
	}
	var words []string
	for _, p := range parts[:len(parts)-1] {
		if p == "" || strings.ContainsAny(p, "0123456789") {
			return ""
		}
		words = append(words, strings.ToUpper(p[:1])+p[1:])
	}
	return strings.Join(words, " ")
}

// Load fills the form from the stored answer, or else from the guest list
// and any saved draft.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateLoadingExisting
	s.lastUsed = time.Now()

	existing, err := s.deps.Store.FindByToken(ctx, s.token)
	switch {
	case err == nil:
		data := models.DefaultFormData()
		if err := copier.Copy(&data, existing); err != nil {
			s.state = StateError
			return fmt.Errorf("failed to copy submission: %w", err)
		}
		attending := existing.IsAttending
		data.IsAttending = &attending
		s.data = data
		s.existing = true
		s.locked = !s.deps.Submitter.AllowUpdates()
		s.state = StatePrefilled
		return nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		s.log.Warn().Err(err).Msg("Could not check for an existing RSVP, using local snapshot")
	}

	var registryName string
	if s.guest != nil {
		registryName = s.guest.FullName()
	}

	data := models.DefaultFormData()
	prefilled := false

	draft, derr := s.deps.Drafts.LoadDraft(s.token)
	if derr != nil && !errors.Is(derr, storage.ErrNotFound) {
		s.log.Warn().Err(derr).Msg("Failed to read draft")
	}
	if derr == nil {
		data = draft.Data
		prefilled = true
		if draft.Submitted {
			s.existing = true
			s.locked = !s.deps.Submitter.AllowUpdates()
		}
	}

	switch {
	case registryName != "":
		data.GuestName = registryName
	case data.GuestName == "":
		data.GuestName = NameFromToken(s.token)
	}
	if data.GuestName != "" {
		prefilled = true
	}

	s.data = data
	if prefilled {
		s.state = StatePrefilled
	} else {
		s.state = StateEmpty
	}
	return nil
}

// Apply edits the form, runs inline validation and schedules an autosave.
func (s *Session) Apply(patch models.FormPatch) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastUsed = time.Now()
	if s.state == StateSubmitting {
		return s.view(), ErrBusy
	}
	if s.locked {
		return s.view(), ErrLocked
	}

	patch.ApplyTo(&s.data)
	s.errors = validate.Realtime(s.data)
	s.submitErr = nil
	s.state = StateEditing
	s.dirty = true
	s.scheduleAutosave()

	return s.view(), nil
}

// scheduleAutosave restarts the debounce timer. Callers hold the lock.
func (s *Session) scheduleAutosave() {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.deps.AutosaveDelay == 0 {
		if err := s.saveDraft(); err != nil {
			s.log.Warn().Err(err).Msg("Autosave failed")
		}
		return
	}
	s.timer = time.AfterFunc(s.deps.AutosaveDelay, func() {
		if err := s.FlushDraft(); err != nil {
			s.log.Warn().Err(err).Msg("Autosave failed")
		}
	})
}

// FlushDraft writes pending edits now.
func (s *Session) FlushDraft() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveDraft()
}

func (s *Session) saveDraft() error {
	if !s.dirty {
		return nil
	}
	if err := s.deps.Drafts.SaveDraft(s.token, models.Draft{Data: s.data}); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// Submit runs strict validation and then the pipeline. On failure the
// session is left in StateError with the edits intact.
func (s *Session) Submit(ctx context.Context, clientID string) (View, error) {
	s.mu.Lock()
	s.lastUsed = time.Now()
	if s.state == StateSubmitting {
		defer s.mu.Unlock()
		return s.view(), ErrBusy
	}
	if s.locked {
		defer s.mu.Unlock()
		return s.view(), &pipeline.Error{Code: pipeline.CodeDuplicateSubmission, Message: "An RSVP was already submitted for this invitation"}
	}

	s.state = StateValidating
	if errs := validate.Submit(s.data); !errs.Empty() {
		defer s.mu.Unlock()
		s.errors = errs
		s.state = StateError
		perr := &pipeline.Error{Code: pipeline.CodeMissingRequiredField, Message: "Please complete the required fields", Fields: errs}
		s.submitErr = perr
		return s.view(), perr
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	// an autosave that already fired must not overwrite the submitted snapshot
	pendingEdits := s.dirty
	s.dirty = false
	s.state = StateSubmitting
	req := pipeline.Request{ClientID: clientID, Token: s.token, Data: s.data, Guest: s.guest}
	s.mu.Unlock()

	res, err := s.deps.Submitter.Submit(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = StateError
		var perr *pipeline.Error
		if !errors.As(err, &perr) {
			perr = &pipeline.Error{Code: pipeline.CodeUnknown, Message: "Something went wrong, please try again", Cause: err}
		}
		s.submitErr = perr
		if perr.Fields != nil {
			s.errors = perr.Fields
		}
		if perr.Code == pipeline.CodeDuplicateSubmission {
			s.existing = true
			s.locked = true
		}
		if pendingEdits && !s.locked {
			s.dirty = true
			s.scheduleAutosave()
		}
		return s.view(), perr
	}

	s.state = StateSuccess
	s.result = res
	s.submitErr = nil
	s.errors = validate.FieldErrors{}
	s.existing = true
	s.locked = !s.deps.Submitter.AllowUpdates()
	s.dirty = false
	return s.view(), nil
}

// Reset clears the form to its defaults and removes the saved draft. A
// stored submission stays stored.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSubmitting {
		return ErrBusy
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.data = models.DefaultFormData()
	s.errors = validate.FieldErrors{}
	s.result = nil
	s.submitErr = nil
	s.dirty = false
	s.state = StateEmpty
	s.lastUsed = time.Now()

	if err := s.deps.Drafts.DeleteDraft(s.token); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

func (s *Session) view() View {
	data := s.data
	if s.data.IsAttending != nil {
		v := *s.data.IsAttending
		data.IsAttending = &v
	}
	errs := make(validate.FieldErrors, len(s.errors))
	for k, v := range s.errors {
		errs[k] = v
	}

	v := View{
		Token:                 s.token,
		State:                 s.state,
		Data:                  data,
		Errors:                errs,
		Progress:              validate.Progress(s.data),
		CanSubmit:             !s.locked && validate.CanSubmit(s.data),
		HasExistingSubmission: s.existing,
		Locked:                s.locked,
		PlusOneEligible:       s.guest != nil && s.guest.PlusOneEligible,
	}
	if s.result != nil {
		v.Result = &SubmitView{
			SubmissionID:   s.result.Submission.SubmissionID,
			Persistence:    s.result.Persistence,
			Updated:        s.result.Updated,
			EmailAttempted: s.result.Email.Attempted,
			EmailRecipient: s.result.Email.Recipient,
			EmailSent:      s.result.Email.Sent,
			WhatsAppLink:   s.result.WhatsAppLink,
			Warnings:       append([]string(nil), s.result.Warnings...),
		}
	}
	if s.submitErr != nil {
		v.Error = &ErrorView{Code: s.submitErr.Code, Message: s.submitErr.Message}
	}
	return v
}

// idleSince reports the last time the session was used.
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}
