package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pavelanni/teamexam/internal/grading"
	appI18n "github.com/pavelanni/teamexam/internal/i18n"
	"github.com/pavelanni/teamexam/internal/store"
	"github.com/pavelanni/teamexam/internal/team"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// respondError writes {"error": "..."} with the message localized for the request.
func respondError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	respondJSON(w, status, errorResponse{Error: appI18n.T(r.Context(), msgID)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

type errorMapping struct {
	err    error
	status int
	msgID  string
}

var errorMappings = []errorMapping{
	{store.ErrAttemptExists, http.StatusConflict, "ErrAttemptExists"},
	{store.ErrAlreadySubmitted, http.StatusConflict, "ErrAlreadySubmitted"},
	{store.ErrUserExists, http.StatusConflict, "ErrUserExists"},
	{store.ErrNotFound, http.StatusNotFound, "ErrNotFound"},
	{grading.ErrNoResponses, http.StatusBadRequest, "ErrNoResponses"},
	{grading.ErrInvalidChoice, http.StatusBadRequest, "ErrInvalidChoice"},
	{team.ErrNoAttempts, http.StatusConflict, "ErrNoGradedAttempts"},
	{team.ErrInvalidTeamSize, http.StatusBadRequest, "ErrInvalidTeamSize"},
	{team.ErrUnknownMode, http.StatusBadRequest, "ErrUnknownMode"},
	{team.ErrStudentNotFound, http.StatusNotFound, "ErrStudentNotFound"},
	{team.ErrTeamOutOfRange, http.StatusBadRequest, "ErrTeamOutOfRange"},
	{team.ErrDuplicateStudent, http.StatusBadRequest, "ErrInvalidLayout"},
	{team.ErrMissingStudent, http.StatusBadRequest, "ErrInvalidLayout"},
	{team.ErrUnknownStudent, http.StatusBadRequest, "ErrInvalidLayout"},
	{team.ErrInconsistentCount, http.StatusBadRequest, "ErrInvalidLayout"},
}

// fail maps a domain error to a status code and localized message.
// Unmapped errors are logged and reported as 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			slog.Debug("request failed", "path", r.URL.Path, "status", m.status, "error", err)
			respondError(w, r, m.status, m.msgID)
			return
		}
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	respondError(w, r, http.StatusInternalServerError, "ErrInternal")
}
