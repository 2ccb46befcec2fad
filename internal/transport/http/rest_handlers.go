package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"trivia-host/internal/app"
	"trivia-host/internal/domain"
)

type questionRequest struct {
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
}

type startRequest struct {
	domain.SessionConfig
	Teams []string `json:"teams"`
}

type scoresRequest struct {
	Scores map[string]json.RawMessage `json:"scores"`
}

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.service.ListQuestions(r.Context(), ownerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (h *Handler) createQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	q, err := h.service.CreateQuestion(r.Context(), ownerID(r), req.Prompt, req.Answer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) updateQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	q, err := h.service.UpdateQuestion(r.Context(), ownerID(r), chi.URLParam(r, "id"), req.Prompt, req.Answer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteQuestion(r.Context(), ownerID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctrl, err := h.service.StartSession(r.Context(), ownerID(r), req.SessionConfig, req.Teams)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ctrl.Snapshot())
}

func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.service.Session(ownerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *Handler) abandonSession(w http.ResponseWriter, r *http.Request) {
	h.service.Abandon(ownerID(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionAction(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.service.Session(ownerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := applyAction(ctrl, chi.URLParam(r, "action")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *Handler) submitScores(w http.ResponseWriter, r *http.Request) {
	var req scoresRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctrl, err := h.service.Session(ownerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := ctrl.Submit(scoreStrings(req.Scores)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *Handler) persistence(w http.ResponseWriter, r *http.Request) {
	outcome, ok := h.service.LastPersist(ownerID(r))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorPayload{Code: "not_found", Message: "nothing persisted yet"})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) observerQR(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(h.observerURL(r), qrcode.Medium, 256)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = bytes.NewReader(png).WriteTo(w)
}

func (h *Handler) observerURL(r *http.Request) string {
	base := h.observerBase
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return fmt.Sprintf("%s/observe?owner=%s", base, url.QueryEscape(ownerID(r)))
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListHistory(r.Context(), ownerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) deleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteHistory(r.Context(), ownerID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) historyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.HistoryStats(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) listTeamArchives(w http.ResponseWriter, r *http.Request) {
	archives, err := h.service.ListTeamArchives(r.Context(), ownerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, archives)
}

// applyAction runs one navigation command against the controller.
func applyAction(ctrl *app.Controller, action string) error {
	switch action {
	case "next":
		return ctrl.Next()
	case "prev":
		return ctrl.Prev()
	case "back":
		return ctrl.Back()
	case "pause":
		return ctrl.Pause()
	case "resume":
		return ctrl.Resume()
	case "acknowledge":
		return ctrl.Acknowledge()
	case "continue":
		return ctrl.Continue()
	}
	return fmt.Errorf("%w: unknown action %q", domain.ErrPhase, action)
}

// scoreStrings keeps host input as typed so the score book can reject
// non-numeric values instead of zeroing them. JSON null counts as blank.
func scoreStrings(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(raw))
	for team, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			out[team] = s
			continue
		}
		if string(value) == "null" {
			out[team] = ""
			continue
		}
		out[team] = string(value)
	}
	return out
}
