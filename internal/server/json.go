package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/gateway"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, gateway.ErrorResponse{Error: msg, Code: code})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, "bad_request", msg)
}

// writeFailure maps a store error onto a status. Rejections keep their
// code so clients can restore the sentinel; anything else is logged and
// hidden behind a 500.
func writeFailure(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var status int
	switch {
	case errors.Is(err, battle.ErrNotFound), errors.Is(err, battle.ErrInvalidInviteCode):
		status = http.StatusNotFound
	case errors.Is(err, battle.ErrOwnMatch), errors.Is(err, battle.ErrNotParticipant):
		status = http.StatusUnprocessableEntity
	case battle.IsRejection(err):
		status = http.StatusConflict
	default:
		logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "", "internal error")
		return
	}
	writeError(w, status, battle.Code(err), battle.Message(err))
}
