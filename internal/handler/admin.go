package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"wedding-rsvp/internal/form"
	"wedding-rsvp/internal/models"
	"wedding-rsvp/internal/pipeline"
	"wedding-rsvp/internal/storage"
)

// GuestLister is the read side of the guest registry.
type GuestLister interface {
	All(ctx context.Context) ([]models.Guest, error)
	Stats(ctx context.Context) (models.GuestStats, error)
}

// Syncer pushes queued submissions to the remote store.
type Syncer interface {
	SyncOnce(ctx context.Context) (pipeline.SyncReport, error)
}

// DraftRemover deletes a token's saved form snapshot.
type DraftRemover interface {
	DeleteDraft(token string) error
}

// AdminDeps are the collaborators of AdminHandler. An empty Password
// disables the admin routes.
type AdminDeps struct {
	Password string
	Store    storage.RSVPStore
	Guests   GuestLister
	Syncer   Syncer
	Forms    *form.Manager
	Drafts   DraftRemover
}

// Summary counts the stored answers.
type Summary struct {
	Total     int `json:"total"`
	Attending int `json:"attending"`
	Declined  int `json:"declined"`
	PlusOnes  int `json:"plus_ones"`
	Headcount int `json:"headcount"`
	EmailSent int `json:"email_sent"`
}

type rsvpList struct {
	Summary Summary             `json:"summary"`
	RSVPs   []models.Submission `json:"rsvps"`
}

// AdminHandler serves the organizer views.
type AdminHandler struct {
	deps AdminDeps
	log  zerolog.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(deps AdminDeps, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		deps: deps,
		log:  log.With().Str("component", "AdminHandler").Logger(),
	}
}

// Register adds the admin routes to mux.
func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /admin/rsvps", h.auth(h.handleListRSVPs))
	mux.Handle("DELETE /admin/rsvps/{id}", h.auth(h.handleDeleteRSVP))
	mux.Handle("GET /admin/guests", h.auth(h.handleListGuests))
	mux.Handle("GET /admin/guests/stats", h.auth(h.handleGuestStats))
	mux.Handle("POST /admin/sync", h.auth(h.handleSync))
}

func (h *AdminHandler) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		given := r.Header.Get("X-Admin-Password")
		if h.deps.Password == "" || subtle.ConstantTimeCompare([]byte(given), []byte(h.deps.Password)) != 1 {
			h.log.Warn().Str("client", ClientID(r)).Str("path", r.URL.Path).Msg("Admin access denied")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized", Code: "UNAUTHORIZED"})
			return
		}
		next(w, r)
	})
}

// Summarize counts attendance across subs.
func Summarize(subs []models.Submission) Summary {
	var s Summary
	for _, sub := range subs {
		s.Total++
		if sub.EmailSent {
			s.EmailSent++
		}
		if !sub.IsAttending {
			s.Declined++
			continue
		}
		s.Attending++
		s.Headcount++
		if sub.PlusOneName != "" {
			s.PlusOnes++
			s.Headcount++
		}
	}
	return s
}

func (h *AdminHandler) handleListRSVPs(w http.ResponseWriter, r *http.Request) {
	subs, err := h.deps.Store.List(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if subs == nil {
		subs = []models.Submission{}
	}
	writeJSON(w, http.StatusOK, rsvpList{Summary: Summarize(subs), RSVPs: subs})
}

// handleDeleteRSVP removes a stored answer and the guest's cached form so
// the token can answer again.
func (h *AdminHandler) handleDeleteRSVP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tok, err := TokenForSubmission(r.Context(), h.deps.Store, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.deps.Store.Delete(r.Context(), id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.log.Error().Err(err).Str("submission_id", id).Msg("Failed to delete RSVP")
		}
		writeError(w, h.log, err)
		return
	}

	if h.deps.Forms != nil {
		h.deps.Forms.Forget(tok)
	}
	if h.deps.Drafts != nil {
		if err := h.deps.Drafts.DeleteDraft(tok); err != nil {
			h.log.Warn().Err(err).Str("token", tok).Msg("Failed to delete draft")
		}
	}
	h.log.Info().Str("submission_id", id).Str("token", tok).Msg("RSVP deleted")
	w.WriteHeader(http.StatusNoContent)
}

// TokenForSubmission finds the token of a stored submission.
func TokenForSubmission(ctx context.Context, store storage.RSVPStore, submissionID string) (string, error) {
	subs, err := store.List(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range subs {
		if s.SubmissionID == submissionID {
			return s.Token, nil
		}
	}
	return "", storage.ErrNotFound
}

func (h *AdminHandler) handleListGuests(w http.ResponseWriter, r *http.Request) {
	guests, err := h.deps.Guests.All(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if guests == nil {
		guests = []models.Guest{}
	}
	writeJSON(w, http.StatusOK, guests)
}

func (h *AdminHandler) handleGuestStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Guests.Stats(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Syncer.SyncOnce(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Int("remaining", report.Remaining).Msg("Sync incomplete")
		writeJSON(w, http.StatusServiceUnavailable, struct {
			errorBody
			Report pipeline.SyncReport `json:"report"`
		}{
			errorBody: errorBody{Error: "Remote store unavailable", Code: string(pipeline.CodeBackendUnavailable)},
			Report:    report,
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// NewRouter mounts both handlers with client resolution and request logging.
func NewRouter(rsvp *RSVPHandler, admin *AdminHandler, clients *ClientResolver, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	rsvp.Register(mux)
	admin.Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return clients.identify(logRequests(log.With().Str("component", "HTTP").Logger(), mux))
}
