// Package handler exposes the guest RSVP flow and the admin views over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"wedding-rsvp/internal/form"
	"wedding-rsvp/internal/pipeline"
	"wedding-rsvp/internal/storage"
	"wedding-rsvp/internal/validate"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

type errorBody struct {
	Error  string               `json:"error"`
	Code   string               `json:"code"`
	Fields validate.FieldErrors `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a submission error code to an HTTP status.
func statusFor(code pipeline.Code) int {
	switch code {
	case pipeline.CodeMissingRequiredField:
		return http.StatusUnprocessableEntity
	case pipeline.CodeInvalidToken:
		return http.StatusNotFound
	case pipeline.CodeRateLimited:
		return http.StatusTooManyRequests
	case pipeline.CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	case pipeline.CodeDuplicateSubmission:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var perr *pipeline.Error
	switch {
	case errors.As(err, &perr):
		status := statusFor(perr.Code)
		if perr.Code == pipeline.CodeRateLimited && perr.RetryAfter > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(perr.RetryAfter))
		}
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("Request failed")
		}
		writeJSON(w, status, errorBody{Error: perr.Message, Code: string(perr.Code), Fields: perr.Fields})
	case errors.Is(err, form.ErrLocked):
		writeJSON(w, http.StatusConflict, errorBody{Error: "An RSVP was already submitted for this invitation", Code: string(pipeline.CodeDuplicateSubmission)})
	case errors.Is(err, form.ErrBusy):
		writeJSON(w, http.StatusConflict, errorBody{Error: "Your RSVP is being submitted", Code: "SUBMISSION_IN_PROGRESS"})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found", Code: "NOT_FOUND"})
	default:
		log.Error().Err(err).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Something went wrong, please try again", Code: string(pipeline.CodeUnknown)})
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "BAD_REQUEST"})
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}

// statusRecorder captures the response status for access logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests writes one access log line per request.
func logRequests(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("client", ClientID(r)).
			Msg("HTTP request")
	})
}
