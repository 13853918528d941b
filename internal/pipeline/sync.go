package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"wedding-rsvp/internal/models"
	"wedding-rsvp/internal/storage"
)

// DefaultSyncSchedule drains the queue every five minutes.
const DefaultSyncSchedule = "*/5 * * * *"

// Queue is the local backlog of submissions awaiting the remote store.
type Queue interface {
	Pending() []models.Submission
	// Remove drops sub unless its entry changed since Pending returned it.
	Remove(sub models.Submission) error
}

// SyncReport summarizes one pass over the queue.
type SyncReport struct {
	Synced    int `json:"synced"`
	Dropped   int `json:"dropped"`
	Remaining int `json:"remaining"`
}

// Syncer moves locally queued submissions into the remote store.
type Syncer struct {
	store        storage.RSVPStore
	queue        Queue
	allowUpdates bool
	expr         *cronexpr.Expression
	now          func() time.Time
	log          zerolog.Logger

	mu sync.Mutex
}

// NewSyncer parses schedule, a cron line. An empty schedule uses
// DefaultSyncSchedule.
func NewSyncer(store storage.RSVPStore, queue Queue, schedule string, allowUpdates bool, log zerolog.Logger) (*Syncer, error) {
	if schedule == "" {
		schedule = DefaultSyncSchedule
	}
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sync schedule %q: %w", schedule, err)
	}
	return &Syncer{
		store:        store,
		queue:        queue,
		allowUpdates: allowUpdates,
		expr:         expr,
		now:          time.Now,
		log:          log.With().Str("component", "Syncer").Logger(),
	}, nil
}

// SyncOnce pushes every queued submission in order. It stops at the first
// remote failure and leaves the rest queued.
func (s *Syncer) SyncOnce(ctx context.Context) (SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report SyncReport
	pending := s.queue.Pending()
	for i, sub := range pending {
		dropped, err := s.push(ctx, sub)
		if err != nil {
			report.Remaining = len(pending) - i
			return report, err
		}
		err = s.queue.Remove(sub)
		switch {
		case errors.Is(err, storage.ErrQueueChanged):
			s.log.Debug().Str("submission", sub.SubmissionID).Msg("Queued submission changed during sync, keeping it")
			report.Remaining++
			continue
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			report.Remaining = len(pending) - i
			return report, fmt.Errorf("failed to dequeue %s: %w", sub.SubmissionID, err)
		}
		if dropped {
			report.Dropped++
		} else {
			report.Synced++
		}
	}
	if report.Synced+report.Dropped > 0 {
		s.log.Info().Int("synced", report.Synced).Int("dropped", report.Dropped).Msg("Queue drained")
	}
	return report, nil
}

// push stores one submission. dropped is true when the remote store already
// holds another answer for the token and updates are not allowed. A stored
// row with the same submission id is updated in place.
func (s *Syncer) push(ctx context.Context, sub models.Submission) (dropped bool, err error) {
	err = s.store.Insert(ctx, &sub)
	if errors.Is(err, storage.ErrGuestNotFound) {
		err = s.store.InsertStandalone(ctx, &sub)
	}
	if !errors.Is(err, storage.ErrDuplicate) {
		return false, err
	}
	existing, err := s.store.FindByToken(ctx, sub.Token)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	own := existing != nil && existing.SubmissionID == sub.SubmissionID
	if !own && !s.allowUpdates {
		s.log.Warn().Str("token", sub.Token).Str("submission", sub.SubmissionID).Msg("Dropping queued submission, token already answered")
		return true, nil
	}
	if err := s.store.Update(ctx, &sub); err != nil {
		return false, err
	}
	return false, nil
}

// Run syncs on the cron schedule until ctx is done. After a failed pass it
// retries sooner, backing off exponentially up to the next scheduled run.
func (s *Syncer) Run(ctx context.Context) {
	delay := &backoff.Backoff{
		Min: 5 * time.Second,
		Max: 5 * time.Minute,
	}

	var retry time.Duration
	for {
		wait := s.expr.Next(s.now()).Sub(s.now())
		if retry > 0 && retry < wait {
			wait = retry
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if _, err := s.SyncOnce(ctx); err != nil {
			retry = delay.Duration()
			s.log.Warn().Err(err).Dur("retry_in", retry).Msg("Sync failed")
			continue
		}
		retry = 0
		delay.Reset()
	}
}
