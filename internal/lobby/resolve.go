package lobby

import (
	"context"
	"log/slog"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/metrics"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
)

// Resolver advances a match once both players have submitted: it completes
// the round, then starts the next one or, after the last round, completes
// the match. Every step is a conditional write, so both clients and the
// janitor may resolve the same round concurrently and the outcome is
// applied once.
type Resolver struct {
	gw     Gateway
	logger *slog.Logger
	feed   realtime.Publisher
	rounds int
}

// NewResolver returns a resolver. feed may be nil; when set, each resolved
// round is announced on the match broadcast topic.
func NewResolver(gw Gateway, feed realtime.Publisher, logger *slog.Logger) *Resolver {
	return &Resolver{gw: gw, feed: feed, logger: logger, rounds: battle.RoundsPerMatch}
}

// Resolution describes what a Resolve call found or did.
type Resolution struct {
	// Pending is set when the current round still awaits a submission.
	Pending bool
	// RoundResolved is set only for the call that completed the round.
	RoundResolved bool
	Round         *battle.Round
	NextRound     *battle.Round
	MatchComplete bool
	Outcome       *battle.Outcome
}

// Resolve re-reads the match and applies whatever resolution is due. It
// never trusts the caller's view of the round.
func (rv *Resolver) Resolve(ctx context.Context, matchID string) (Resolution, error) {
	var res Resolution
	st, err := rv.gw.FetchMatchState(ctx, matchID)
	if err != nil {
		return res, err
	}
	m := st.Match

	if m.Status == battle.MatchCompleted {
		return rv.summarize(ctx, m)
	}
	if m.Status != battle.MatchActive || st.Round == nil {
		res.Pending = true
		return res, nil
	}

	r := *st.Round
	res.Round = &r
	if r.Status == battle.RoundActive {
		if !r.BothSubmitted() {
			res.Pending = true
			return res, nil
		}
		winner := battle.RoundWinner(m, r)
		changed, err := rv.gw.CompleteRound(ctx, r.ID, winner)
		if err != nil {
			return res, err
		}
		if changed {
			res.RoundResolved = true
			rv.roundResolved(ctx, m, r, winner)
		}
	}

	if r.RoundNumber < rv.rounds {
		next, _, err := rv.gw.StartRound(ctx, matchID, r.RoundNumber+1)
		if err != nil {
			return res, err
		}
		res.NextRound = &next
		return res, nil
	}

	rounds, err := rv.gw.FetchAllRounds(ctx, matchID)
	if err != nil {
		return res, err
	}
	outcome := battle.DecideMatch(m, rounds)
	changed, err := rv.gw.CompleteMatch(ctx, matchID, outcome.WinnerID)
	if err != nil {
		return res, err
	}
	res.MatchComplete = true
	res.Outcome = &outcome
	if changed {
		label := "win"
		if outcome.Tie() {
			label = "tie"
		}
		metrics.BattlesCompleted.WithLabelValues(label).Inc()
		rv.logger.Info("match completed", "battle_id", matchID, "winner_id", outcome.WinnerID,
			"player1_wins", outcome.Player1Wins, "player2_wins", outcome.Player2Wins)
	}
	return res, nil
}

func (rv *Resolver) summarize(ctx context.Context, m battle.Match) (Resolution, error) {
	rounds, err := rv.gw.FetchAllRounds(ctx, m.ID)
	if err != nil {
		return Resolution{}, err
	}
	outcome := battle.DecideMatch(m, rounds)
	outcome.WinnerID = m.WinnerID
	return Resolution{MatchComplete: true, Outcome: &outcome}, nil
}

func (rv *Resolver) roundResolved(ctx context.Context, m battle.Match, r battle.Round, winner string) {
	via := "player"
	if r.Player1.Forfeit || r.Player2.Forfeit {
		via = "forfeit"
	}
	metrics.RoundsResolved.WithLabelValues(via).Inc()
	rv.logger.Info("round resolved", "battle_id", m.ID, "round", r.RoundNumber, "winner_id", winner,
		"player1_score", r.Player1.Points(), "player2_score", r.Player2.Points())

	if rv.feed == nil {
		return
	}
	ev, err := realtime.NewEvent(realtime.EventRoundResolved, m.ID, map[string]any{
		"roundId":     r.ID,
		"roundNumber": r.RoundNumber,
		"winnerId":    winner,
	})
	if err == nil {
		err = rv.feed.Publish(ctx, realtime.BattleTopic(m.ID), ev)
	}
	if err != nil {
		rv.logger.Warn("announcing round result", "battle_id", m.ID, "error", err)
	}
}
