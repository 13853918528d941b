package form

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-rsvp/internal/models"
	"wedding-rsvp/internal/notify"
	"wedding-rsvp/internal/pipeline"
	"wedding-rsvp/internal/storage"
	"wedding-rsvp/internal/token"
)

const johnToken = "john-doe-k3x9p2ma"

// memStore is an in-memory RSVPStore keyed by token.
type memStore struct {
	mu      sync.Mutex
	byToken map[string]models.Submission
	down    bool
}

func newMemStore() *memStore {
	return &memStore{byToken: map[string]models.Submission{}}
}

func (m *memStore) FindByToken(_ context.Context, tok string) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, errors.New("connection refused")
	}
	sub, ok := m.byToken[tok]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sub, nil
}

func (m *memStore) Insert(_ context.Context, sub *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("connection refused")
	}
	if _, ok := m.byToken[sub.Token]; ok {
		return storage.ErrDuplicate
	}
	m.byToken[sub.Token] = *sub
	return nil
}

func (m *memStore) InsertStandalone(ctx context.Context, sub *models.Submission) error {
	sub.Standalone = true
	return m.Insert(ctx, sub)
}

func (m *memStore) Update(_ context.Context, sub *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byToken[sub.Token]; !ok {
		return storage.ErrNotFound
	}
	m.byToken[sub.Token] = *sub
	return nil
}

func (m *memStore) Delete(context.Context, string) error { return nil }

func (m *memStore) List(context.Context) ([]models.Submission, error) { return nil, nil }

type recordingMailer struct {
	sent []notify.Confirmation
}

func (r *recordingMailer) SendConfirmation(_ context.Context, c notify.Confirmation) error {
	r.sent = append(r.sent, c)
	return nil
}

type recordingOrganizers struct {
	notices []notify.Notice
}

func (r *recordingOrganizers) NotifyOrganizers(_ context.Context, n notify.Notice) error {
	r.notices = append(r.notices, n)
	return nil
}

type harness struct {
	store      *memStore
	local      *storage.Local
	mailer     *recordingMailer
	organizers *recordingOrganizers
	deps       Deps
}

func newHarness(t *testing.T, allowUpdates bool) *harness {
	t.Helper()
	local, err := storage.NewLocal(filepath.Join(t.TempDir(), "local.json"))
	require.NoError(t, err)

	h := &harness{
		store:      newMemStore(),
		local:      local,
		mailer:     &recordingMailer{},
		organizers: &recordingOrganizers{},
	}
	validator := token.NewValidator(nil, nil, token.ValidatorOptions{}, zerolog.Nop())
	p := pipeline.New(h.store, local, validator, h.mailer, h.organizers, pipeline.Options{AllowUpdates: allowUpdates}, zerolog.Nop())
	h.deps = Deps{Store: h.store, Drafts: local, Submitter: p, Log: zerolog.Nop()}
	return h
}

func (h *harness) open(t *testing.T, guest *models.Guest) *Session {
	t.Helper()
	s := NewSession(johnToken, guest, h.deps)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func str(s string) *string { return &s }
func flag(b bool) *bool     { return &b }

func TestNameFromToken(t *testing.T) {
	assert.Equal(t, "John Doe", NameFromToken("john-doe-k3x9p2ma"))
	assert.Equal(t, "Cher", NameFromToken("cher-a1b2c3d4"))
	assert.Equal(t, "", NameFromToken("public-1700000000000"))
	assert.Equal(t, "", NameFromToken("nohyphen"))
}

func TestScenarioAttendingWithoutEmail(t *testing.T) {
	h := newHarness(t, false)
	s := h.open(t, nil)

	v := s.View()
	assert.Equal(t, StatePrefilled, v.State)
	assert.Equal(t, "John Doe", v.Data.GuestName)
	assert.False(t, v.HasExistingSubmission)

	_, err := s.Apply(models.FormPatch{IsAttending: flag(true), MealChoice: str("fish")})
	require.NoError(t, err)

	v, err = s.Submit(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, v.State)
	assert.True(t, v.HasExistingSubmission)
	assert.True(t, v.Locked)
	require.NotNil(t, v.Result)
	assert.Equal(t, pipeline.PersistedRemotely, v.Result.Persistence)
	assert.False(t, v.Result.EmailAttempted)
	assert.Empty(t, h.mailer.sent)
	assert.Empty(t, h.organizers.notices)

	stored, err := h.store.FindByToken(context.Background(), johnToken)
	require.NoError(t, err)
	assert.Equal(t, "fish", stored.MealChoice)
}

func TestScenarioEmailWithoutAddress(t *testing.T) {
	h := newHarness(t, false)
	s := h.open(t, nil)

	v, err := s.Apply(models.FormPatch{
		IsAttending:            flag(true),
		MealChoice:             str("fish"),
		WantsEmailConfirmation: flag(true),
	})
	require.NoError(t, err)
	assert.Contains(t, v.Errors, "email")

	v, err = s.Submit(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, v.Result)
	assert.True(t, v.Result.EmailAttempted)
	assert.Equal(t, pipeline.RecipientOrganizers, v.Result.EmailRecipient)
	assert.Empty(t, h.mailer.sent)
	require.Len(t, h.organizers.notices, 1)
	assert.Equal(t, "John Doe", h.organizers.notices[0].Submission.GuestName)
}

func TestScenarioRevisitIsLocked(t *testing.T) {
	h := newHarness(t, false)
	first := h.open(t, nil)
	_, err := first.Apply(models.FormPatch{IsAttending: flag(true), MealChoice: str("fish"), DietaryRestrictions: str("no nuts")})
	require.NoError(t, err)
	_, err = first.Submit(context.Background(), "10.0.0.1")
	require.NoError(t, err)

	again := h.open(t, nil)
	v := again.View()
	assert.Equal(t, StatePrefilled, v.State)
	assert.True(t, v.HasExistingSubmission)
	assert.True(t, v.Locked)
	assert.False(t, v.CanSubmit)
	require.NotNil(t, v.Data.IsAttending)
	assert.True(t, *v.Data.IsAttending)
	assert.Equal(t, "fish", v.Data.MealChoice)
	assert.Equal(t, "no nuts", v.Data.DietaryRestrictions)

	_, err = again.Apply(models.FormPatch{MealChoice: str("beef")})
	assert.ErrorIs(t, err, ErrLocked)

	_, err = again.Submit(context.Background(), "10.0.0.1")
	assert.Equal(t, pipeline.CodeDuplicateSubmission, pipeline.CodeOf(err))
}

func TestRevisitWithUpdatesAllowed(t *testing.T) {
	h := newHarness(t, true)
	first := h.open(t, nil)
	_, err := first.Apply(models.FormPatch{IsAttending: flag(true), MealChoice: str("fish")})
	require.NoError(t, err)
	_, err = first.Submit(context.Background(), "10.0.0.1")
	require.NoError(t, err)

	again := h.open(t, nil)
	assert.False(t, again.View().Locked)
	_, err = again.Apply(models.FormPatch{MealChoice: str("beef")})
	require.NoError(t, err)
	v, err := again.Submit(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, v.Result.Updated)

	stored, err := h.store.FindByToken(context.Background(), johnToken)
	require.NoError(t, err)
	assert.Equal(t, "beef", stored.MealChoice)
}

func TestSubmitRequiresMealAndPlusOneMeal(t *testing.T) {
	h := newHarness(t, false)
	s := h.open(t, nil)

	_, err := s.Apply(models.FormPatch{IsAttending: flag(true), PlusOneName: str("Jane Doe")})
	require.NoError(t, err)

	v, err := s.Submit(context.Background(), "10.0.0.1")
	require.Error(t, err)
	assert.Equal(t, StateError, v.State)
	assert.Contains(t, v.Errors, "mealChoice")
	assert.Contains(t, v.Errors, "plusOneMealChoice")
	require.NotNil(t, v.Error)
	assert.Equal(t, pipeline.CodeMissingRequiredField, v.Error.Code)

	v, err = s.Apply(models.FormPatch{MealChoice: str("fish"), PlusOneName: str("")})
	require.NoError(t, err)
	assert.Equal(t, StateEditing, v.State)
	assert.Nil(t, v.Error)

	v, err = s.Submit(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, v.State)
}

func TestDraftMergePrefersRegistryName(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.local.SaveDraft(johnToken, models.Draft{Data: models.FormData{
		GuestName:  "Johnny",
		MealChoice: "veg",
	}}))

	s := h.open(t, &models.Guest{Token: johnToken, FirstName: "John", LastName: "Doe-Smith", PlusOneEligible: true})
	v := s.View()
	assert.Equal(t, StatePrefilled, v.State)
	assert.Equal(t, "John Doe-Smith", v.Data.GuestName)
	assert.Equal(t, "veg", v.Data.MealChoice)
	assert.True(t, v.PlusOneEligible)
}

func TestDraftNameKeptWithoutRegistry(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.local.SaveDraft(johnToken, models.Draft{Data: models.FormData{GuestName: "Johnny"}}))

	s := h.open(t, nil)
	assert.Equal(t, "Johnny", s.View().Data.GuestName)
}

func TestPublicTokenStartsEmpty(t *testing.T) {
	h := newHarness(t, false)
	s := NewSession("public-1700000000000", nil, h.deps)
	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, StateEmpty, s.View().State)
	assert.Equal(t, 0, s.View().Progress)
}

func TestBackendOutageFallsBackToSnapshot(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.local.SaveDraft(johnToken, models.Draft{
		Data:      models.FormData{GuestName: "John Doe", IsAttending: flag(false)},
		Submitted: true,
	}))
	h.store.down = true

	s := h.open(t, nil)
	v := s.View()
	assert.True(t, v.HasExistingSubmission)
	assert.True(t, v.Locked)
	require.NotNil(t, v.Data.IsAttending)
	assert.False(t, *v.Data.IsAttending)
}

func TestSubmitDuringOutageQueuesLocally(t *testing.T) {
	h := newHarness(t, false)
	s := h.open(t, nil)
	h.store.down = true

	_, err := s.Apply(models.FormPatch{IsAttending: flag(false)})
	require.NoError(t, err)
	v, err := s.Submit(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.PersistedLocallyOnly, v.Result.Persistence)
	assert.NotEmpty(t, v.Result.Warnings)
	assert.Len(t, h.local.Pending(), 1)
}

func TestResetIsIdempotent(t *testing.T) {
	h := newHarness(t, false)
	s := h.open(t, nil)

	_, err := s.Apply(models.FormPatch{
		IsAttending:            flag(true),
		GuestName:              str("J"),
		WantsEmailConfirmation: flag(true),
		PlusOneName:            str("Jane"),
	})
	require.NoError(t, err)
	_, err = h.local.LoadDraft(johnToken)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Reset())
		v := s.View()
		assert.Equal(t, models.DefaultFormData(), v.Data)
		assert.Empty(t, v.Errors)
		assert.Nil(t, v.Result)
		assert.Nil(t, v.Error)
		_, err = h.local.LoadDraft(johnToken)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func TestAutosaveIsDebounced(t *testing.T) {
	h := newHarness(t, false)
	h.deps.AutosaveDelay = 50 * time.Millisecond
	s := h.open(t, nil)

	_, err := s.Apply(models.FormPatch{MealChoice: str("fish")})
	require.NoError(t, err)
	_, err = s.Apply(models.FormPatch{MealChoice: str("beef")})
	require.NoError(t, err)

	_, err = h.local.LoadDraft(johnToken)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Eventually(t, func() bool {
		d, err := h.local.LoadDraft(johnToken)
		return err == nil && d.Data.MealChoice == "beef"
	}, time.Second, 10*time.Millisecond)
}

func TestFlushDraftWritesPendingEdits(t *testing.T) {
	h := newHarness(t, false)
	h.deps.AutosaveDelay = time.Hour
	s := h.open(t, nil)

	_, err := s.Apply(models.FormPatch{SpecialRequests: str("window seat")})
	require.NoError(t, err)
	require.NoError(t, s.FlushDraft())

	d, err := h.local.LoadDraft(johnToken)
	require.NoError(t, err)
	assert.Equal(t, "window seat", d.Data.SpecialRequests)
	assert.False(t, d.Submitted)
}

// pausingSubmitter holds the session in StateSubmitting after the pipeline
// has stored the answer.
type pausingSubmitter struct {
	Submitter
	stored  chan struct{}
	release chan struct{}
}

func (p *pausingSubmitter) Submit(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	res, err := p.Submitter.Submit(ctx, req)
	close(p.stored)
	<-p.release
	return res, err
}

func TestFiredAutosaveDoesNotUndoSubmittedSnapshot(t *testing.T) {
	h := newHarness(t, false)
	paused := &pausingSubmitter{Submitter: h.deps.Submitter, stored: make(chan struct{}), release: make(chan struct{})}
	h.deps.Submitter = paused
	h.deps.AutosaveDelay = time.Hour
	s := h.open(t, nil)

	_, err := s.Apply(models.FormPatch{IsAttending: flag(true), MealChoice: str("fish")})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "10.0.0.1")
		done <- err
	}()
	<-paused.stored

	// a debounce timer that fired just before Submit stopped it
	require.NoError(t, s.FlushDraft())
	close(paused.release)
	require.NoError(t, <-done)

	d, err := h.local.LoadDraft(johnToken)
	require.NoError(t, err)
	assert.True(t, d.Submitted)

	h.store.down = true
	again := h.open(t, nil)
	assert.True(t, again.View().Locked)
}
