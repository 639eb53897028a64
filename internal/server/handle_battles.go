package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gabrieltornquist7/history-clue/internal/gateway"
)

func handleCreateBattle(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.PlayerRequest
		if err := readJSON(r, &req); err != nil || strings.TrimSpace(req.PlayerID) == "" {
			writeBadRequest(w, "playerId is required")
			return
		}

		created, err := b.CreateBattle(r.Context(), req.PlayerID)
		if err != nil {
			writeFailure(w, logger, "create battle", err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleJoinBattle(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.JoinRequest
		if err := readJSON(r, &req); err != nil || strings.TrimSpace(req.PlayerID) == "" {
			writeBadRequest(w, "inviteCode and playerId are required")
			return
		}

		joined, err := b.JoinBattle(r.Context(), req.InviteCode, req.PlayerID)
		if err != nil {
			writeFailure(w, logger, "join battle", err)
			return
		}
		writeJSON(w, http.StatusOK, joined)
	}
}

func handleGetBattle(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := b.GetBattle(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, logger, "get battle", err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleCompleteBattle(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.CompleteRequest
		if err := readJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}

		changed, err := b.CompleteBattle(r.Context(), chi.URLParam(r, "id"), req.WinnerID)
		if err != nil {
			writeFailure(w, logger, "complete battle", err)
			return
		}
		writeJSON(w, http.StatusOK, gateway.ChangedResponse{Changed: changed})
	}
}

// handlePlayerBattle lets a queued player discover the match another
// player's claim put them in.
func handlePlayerBattle(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var since time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				writeBadRequest(w, "since must be an RFC 3339 timestamp")
				return
			}
			since = t
		}

		m, err := b.FindMatchFor(r.Context(), chi.URLParam(r, "id"), since)
		if err != nil {
			writeFailure(w, logger, "find match", err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleGetPuzzle(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := b.GetPuzzle(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, logger, "get puzzle", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

