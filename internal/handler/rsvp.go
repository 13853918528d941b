package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"wedding-rsvp/internal/form"
	"wedding-rsvp/internal/models"
	"wedding-rsvp/internal/pipeline"
	"wedding-rsvp/internal/validate"
)

// RSVPHandler serves the guest form.
type RSVPHandler struct {
	tokens pipeline.TokenChecker
	forms  *form.Manager
	log    zerolog.Logger
}

// NewRSVPHandler creates a new RSVP handler
func NewRSVPHandler(tokens pipeline.TokenChecker, forms *form.Manager, log zerolog.Logger) *RSVPHandler {
	return &RSVPHandler{
		tokens: tokens,
		forms:  forms,
		log:    log.With().Str("component", "RSVPHandler").Logger(),
	}
}

// Register adds the guest routes to mux.
func (h *RSVPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /guest/{token}", h.handleShow)
	mux.HandleFunc("GET /{$}", h.handleShow)
	mux.HandleFunc("PATCH /api/rsvp/{token}", h.handlePatch)
	mux.HandleFunc("POST /api/rsvp/{token}/submit", h.handleSubmit)
	mux.HandleFunc("DELETE /api/rsvp/{token}/draft", h.handleReset)
}

// session validates the request token and returns its form session.
func (h *RSVPHandler) session(w http.ResponseWriter, r *http.Request) (*form.Session, bool) {
	tok := r.PathValue("token")
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" {
		writeBadRequest(w, "Missing RSVP token")
		return nil, false
	}

	outcome := h.tokens.Validate(r.Context(), ClientID(r), tok)
	if err := pipeline.OutcomeError(outcome); err != nil {
		h.log.Info().Str("token", tok).Str("status", string(outcome.Status)).Str("reason", outcome.Reason).Msg("Token rejected")
		writeError(w, h.log, err)
		return nil, false
	}

	s, err := h.forms.Open(r.Context(), outcome.Token, outcome.Guest)
	if err != nil {
		writeError(w, h.log, err)
		return nil, false
	}
	return s, true
}

func (h *RSVPHandler) handleShow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *RSVPHandler) handlePatch(w http.ResponseWriter, r *http.Request) {
	var patch models.FormPatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&patch); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if errs := validate.Patch(patch); !errs.Empty() {
		writeError(w, h.log, &pipeline.Error{Code: pipeline.CodeMissingRequiredField, Message: "Some answers are too long", Fields: errs})
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.Apply(patch)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *RSVPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.Submit(r.Context(), ClientID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	status := http.StatusCreated
	if view.Result != nil && view.Result.Persistence == pipeline.PersistedLocallyOnly {
		status = http.StatusAccepted
	}
	writeJSON(w, status, view)
}

func (h *RSVPHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Reset(); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}
