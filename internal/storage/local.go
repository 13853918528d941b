package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"wedding-rsvp/internal/models"
)

type localState struct {
	Drafts  map[string]models.Draft `json:"drafts"`
	Pending []models.Submission     `json:"pending"`
}

// Local is a JSON file holding form drafts keyed by DraftKey and a queue of
// submissions that could not be written to the remote store.
type Local struct {
	mu    sync.RWMutex
	state localState
	file  string
	now   func() time.Time
}

// NewLocal creates a local store at filePath, loading it if it exists.
func NewLocal(filePath string) (*Local, error) {
	l := &Local{
		state: localState{Drafts: map[string]models.Draft{}},
		file:  filePath,
		now:   time.Now,
	}

	if _, err := os.Stat(filePath); err == nil {
		if err := l.Load(); err != nil {
			return nil, fmt.Errorf("failed to load storage: %w", err)
		}
	}

	return l, nil
}

// SaveDraft stores the snapshot for token.
func (l *Local) SaveDraft(token string, draft models.Draft) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if draft.SavedAt.IsZero() {
		draft.SavedAt = l.now()
	}
	l.state.Drafts[DraftKey(token)] = draft
	return l.save()
}

// LoadDraft returns the snapshot for token.
func (l *Local) LoadDraft(token string) (*models.Draft, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d, ok := l.state.Drafts[DraftKey(token)]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

// DeleteDraft removes the snapshot for token.
func (l *Local) DeleteDraft(token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := DraftKey(token)
	if _, ok := l.state.Drafts[key]; !ok {
		return nil
	}
	delete(l.state.Drafts, key)
	return l.save()
}

// Enqueue adds a submission waiting for remote persistence, replacing any
// queued one for the same token.
func (l *Local) Enqueue(sub models.Submission) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, p := range l.state.Pending {
		if p.Token == sub.Token {
			l.state.Pending[i] = sub
			return l.save()
		}
	}
	l.state.Pending = append(l.state.Pending, sub)
	return l.save()
}

// Pending returns the queued submissions, oldest first.
func (l *Local) Pending() []models.Submission {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pending := make([]models.Submission, len(l.state.Pending))
	copy(pending, l.state.Pending)
	return pending
}

// Remove drops the queued entry for sub.SubmissionID, but only while it
// still equals sub. A newer version of the entry stays queued and
// ErrQueueChanged is returned.
func (l *Local) Remove(sub models.Submission) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, p := range l.state.Pending {
		if p.SubmissionID != sub.SubmissionID {
			continue
		}
		if !reflect.DeepEqual(p, sub) {
			return ErrQueueChanged
		}
		l.state.Pending = append(l.state.Pending[:i], l.state.Pending[i+1:]...)
		return l.save()
	}
	return ErrNotFound
}

// save writes the state to file. Callers hold the lock.
func (l *Local) save() error {
	data, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	dir := filepath.Dir(l.file)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return os.WriteFile(l.file, data, 0644)
}

// Load reads the state from file.
func (l *Local) Load() error {
	data, err := os.ReadFile(l.file)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	state := localState{Drafts: map[string]models.Draft{}}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("failed to unmarshal data: %w", err)
		}
	}
	if state.Drafts == nil {
		state.Drafts = map[string]models.Draft{}
	}

	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
	return nil
}
