package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/distwiki/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps a service error to its HTTP status. Unclassified errors
// are logged and reported as 500.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrTitleTooLong),
		errors.Is(err, apperr.ErrInvalidTitle),
		errors.Is(err, apperr.ErrInvalidAddress),
		errors.Is(err, apperr.ErrInvalidContentID):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrArticleNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("article not found"))
	case errors.Is(err, apperr.ErrIndexOutOfRange):
		writeJSON(w, http.StatusNotFound, errorBody("version not found"))
	case errors.Is(err, apperr.ErrArticleAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("article already exists"))
	case errors.Is(err, apperr.ErrFetchTimeout):
		writeJSON(w, http.StatusGatewayTimeout, errorBody("content fetch timed out"))
	case errors.Is(err, apperr.ErrRemoteCall):
		slog.Warn(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("upstream call failed"))
	case errors.Is(err, apperr.ErrLedgerUnavailable):
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, errorBody("ledger unavailable"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
