package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/gabrieltornquist7/history-clue/internal/gateway"
)

// Routes serves the battle API on top of b, normally the libSQL store.
// publicURL is the base of the join links encoded in invite QR codes.
func Routes(b gateway.Backend, logger *slog.Logger, publicURL string) chi.Router {
	r := chi.NewRouter()

	r.Route("/battles", func(r chi.Router) {
		r.Post("/", handleCreateBattle(b, logger))
		r.Post("/join", handleJoinBattle(b, logger))
		r.Get("/invite/{code}/qr.png", handleInviteQR(publicURL, logger))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handleGetBattle(b, logger))
			r.Post("/complete", handleCompleteBattle(b, logger))
			r.Get("/rounds", handleListRounds(b, logger))
			r.Post("/rounds", handleStartRound(b, logger))
			r.Get("/rounds/current", handleCurrentRound(b, logger))
		})
	})

	r.Route("/rounds/{id}", func(r chi.Router) {
		r.Get("/", handleGetRound(b, logger))
		r.Post("/guess", handleSubmitGuess(b, logger))
		r.Post("/complete", handleCompleteRound(b, logger))
	})

	r.Get("/puzzles/{id}", handleGetPuzzle(b, logger))
	r.Get("/players/{id}/battle", handlePlayerBattle(b, logger))

	r.Route("/queue", func(r chi.Router) {
		r.Post("/", handleEnqueue(b, logger))
		r.Get("/", handleListWaiting(b, logger))
		r.Post("/claim", handleClaimOpponent(b, logger))
		r.Delete("/{playerID}", handleDequeue(b, logger))
	})

	return r
}
