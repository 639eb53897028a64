package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/gateway"
)

func handleListRounds(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rounds, err := b.ListRounds(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, logger, "list rounds", err)
			return
		}
		if rounds == nil {
			rounds = []battle.Round{}
		}
		writeJSON(w, http.StatusOK, rounds)
	}
}

func handleCurrentRound(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		round, err := b.GetCurrentRound(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, logger, "current round", err)
			return
		}
		writeJSON(w, http.StatusOK, round)
	}
}

func handleGetRound(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		round, err := b.GetRound(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, logger, "get round", err)
			return
		}
		writeJSON(w, http.StatusOK, round)
	}
}

// handleStartRound answers 201 when it created the round and 200 when the
// round already existed.
func handleStartRound(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.StartRoundRequest
		if err := readJSON(r, &req); err != nil || req.RoundNumber < 1 {
			writeBadRequest(w, "roundNumber must be positive")
			return
		}

		round, created, err := b.StartRound(r.Context(), chi.URLParam(r, "id"), req.RoundNumber)
		if err != nil {
			writeFailure(w, logger, "start round", err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, gateway.StartRoundResponse{Round: round, Created: created})
	}
}

func handleSubmitGuess(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.GuessRequest
		if err := readJSON(r, &req); err != nil || strings.TrimSpace(req.PlayerID) == "" {
			writeBadRequest(w, "playerId is required")
			return
		}
		if req.Score < 0 || req.DistanceKm < 0 {
			writeBadRequest(w, "score and distanceKm must not be negative")
			return
		}

		err := b.SubmitBattleGuess(r.Context(), battle.Submission{
			RoundID:    chi.URLParam(r, "id"),
			PlayerID:   req.PlayerID,
			Score:      req.Score,
			DistanceKm: req.DistanceKm,
			YearGuess:  req.YearGuess,
			CluesUsed:  req.CluesUsed,
			Lat:        req.Lat,
			Lng:        req.Lng,
		})
		if err != nil {
			writeFailure(w, logger, "submit guess", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleCompleteRound(b gateway.Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.CompleteRequest
		if err := readJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}

		changed, err := b.CompleteRound(r.Context(), chi.URLParam(r, "id"), req.WinnerID)
		if err != nil {
			writeFailure(w, logger, "complete round", err)
			return
		}
		writeJSON(w, http.StatusOK, gateway.ChangedResponse{Changed: changed})
	}
}
