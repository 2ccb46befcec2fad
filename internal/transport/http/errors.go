package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"trivia-host/internal/domain"
)

type errorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Available *int   `json:"available,omitempty"`
	Needed    *int   `json:"needed,omitempty"`
	Team      string `json:"team,omitempty"`
	Raw       string `json:"raw,omitempty"`
}

// classify maps a service error to an HTTP status and client payload.
func classify(err error) (int, errorPayload) {
	payload := errorPayload{Message: err.Error()}

	var insufficient *domain.InsufficientQuestionsError
	var invalid *domain.InvalidScoreError
	var persist *domain.PersistenceError
	switch {
	case errors.As(err, &insufficient):
		payload.Code = "insufficient_questions"
		payload.Available = &insufficient.Available
		payload.Needed = &insufficient.Needed
		return http.StatusUnprocessableEntity, payload
	case errors.As(err, &invalid):
		payload.Code = "invalid_score"
		payload.Team = invalid.Team
		payload.Raw = invalid.Raw
		return http.StatusUnprocessableEntity, payload
	case errors.As(err, &persist):
		payload.Code = "persistence"
		return http.StatusServiceUnavailable, payload
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSessionNotFound):
		payload.Code = "not_found"
		return http.StatusNotFound, payload
	case errors.Is(err, domain.ErrPhase):
		payload.Code = "phase"
		return http.StatusConflict, payload
	case errors.Is(err, domain.ErrSessionFinished):
		payload.Code = "finished"
		return http.StatusConflict, payload
	case errors.Is(err, domain.ErrTooFewTeams), errors.Is(err, domain.ErrDuplicateTeam),
		errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrEmptyQuestion):
		payload.Code = "bad_request"
		return http.StatusBadRequest, payload
	}
	payload.Code = "internal"
	payload.Message = "internal error"
	return http.StatusInternalServerError, payload
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, payload := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: "bad_request", Message: "invalid json body"})
		return false
	}
	return true
}
