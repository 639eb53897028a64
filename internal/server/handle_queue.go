package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/gateway"
)

func handleEnqueue(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.PlayerRequest
		if err := readJSON(r, &req); err != nil || strings.TrimSpace(req.PlayerID) == "" {
			writeBadRequest(w, "playerId is required")
			return
		}

		entry, err := b.Enqueue(r.Context(), req.PlayerID)
		if err != nil {
			writeFailure(w, logger, "enqueue", err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func handleListWaiting(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := b.ListWaiting(r.Context())
		if err != nil {
			writeFailure(w, logger, "list queue", err)
			return
		}
		if entries == nil {
			entries = []battle.QueueEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleDequeue(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := b.Dequeue(r.Context(), chi.URLParam(r, "playerID")); err != nil {
			writeFailure(w, logger, "dequeue", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleClaimOpponent(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.ClaimRequest
		if err := readJSON(r, &req); err != nil || req.ClaimerID == "" || req.OpponentID == "" {
			writeBadRequest(w, "claimerId and opponentId are required")
			return
		}

		joined, err := b.ClaimOpponent(r.Context(), req.ClaimerID, req.OpponentID)
		if err != nil {
			writeFailure(w, logger, "claim opponent", err)
			return
		}
		writeJSON(w, http.StatusCreated, joined)
	}
}
