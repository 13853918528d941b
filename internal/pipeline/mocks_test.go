package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"wedding-rsvp/internal/models"
	"wedding-rsvp/internal/notify"
	"wedding-rsvp/internal/storage"
	"wedding-rsvp/internal/token"
)

type storeMock struct {
	mock.Mock
}

var _ storage.RSVPStore = (*storeMock)(nil)

func (m *storeMock) FindByToken(ctx context.Context, tok string) (*models.Submission, error) {
	args := m.Called(ctx, tok)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Submission), args.Error(1)
}

func (m *storeMock) Insert(ctx context.Context, sub *models.Submission) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *storeMock) InsertStandalone(ctx context.Context, sub *models.Submission) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *storeMock) Update(ctx context.Context, sub *models.Submission) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *storeMock) Delete(ctx context.Context, submissionID string) error {
	return m.Called(ctx, submissionID).Error(0)
}

func (m *storeMock) List(ctx context.Context) ([]models.Submission, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Submission), args.Error(1)
}

type mailerMock struct {
	mock.Mock
}

func (m *mailerMock) SendConfirmation(ctx context.Context, c notify.Confirmation) error {
	return m.Called(ctx, c).Error(0)
}

type organizersMock struct {
	mock.Mock
}

func (m *organizersMock) NotifyOrganizers(ctx context.Context, n notify.Notice) error {
	return m.Called(ctx, n).Error(0)
}

type fakeTokens struct {
	outcome token.Outcome
}

func (f *fakeTokens) Validate(_ context.Context, _, tok string) token.Outcome {
	out := f.outcome
	if out.Token == "" {
		out.Token = tok
	}
	return out
}

// fakeLocal is an in-memory LocalStore and Queue.
type fakeLocal struct {
	mu         sync.Mutex
	pending    []models.Submission
	drafts     map[string]models.Draft
	enqueueErr error
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{drafts: map[string]models.Draft{}}
}

func (f *fakeLocal) Enqueue(sub models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	for i, p := range f.pending {
		if p.Token == sub.Token {
			f.pending[i] = sub
			return nil
		}
	}
	f.pending = append(f.pending, sub)
	return nil
}

func (f *fakeLocal) SaveDraft(tok string, d models.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts[tok] = d
	return nil
}

func (f *fakeLocal) Pending() []models.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Submission(nil), f.pending...)
}

func (f *fakeLocal) Remove(sub models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.pending {
		if p.SubmissionID != sub.SubmissionID {
			continue
		}
		if p != sub {
			return storage.ErrQueueChanged
		}
		f.pending = append(f.pending[:i], f.pending[i+1:]...)
		return nil
	}
	return storage.ErrNotFound
}

var errBackendDown = errors.New("dial tcp: connection refused")
