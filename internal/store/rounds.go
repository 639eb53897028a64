package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
)

// GetRound returns one round or battle.ErrNotFound.
func (s *Store) GetRound(ctx context.Context, id string) (battle.Round, error) {
	return getRound(ctx, s.db, id)
}

func getRound(ctx context.Context, q querier, id string) (battle.Round, error) {
	r, err := scanRound(q.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM battle_rounds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, battle.ErrNotFound
	}
	return r, err
}

// GetCurrentRound returns the round matching the battle's current_round.
// A battle that has not started yet has no current round and yields
// battle.ErrNotFound.
func (s *Store) GetCurrentRound(ctx context.Context, battleID string) (battle.Round, error) {
	r, err := scanRound(s.db.QueryRowContext(ctx, `
		SELECT `+qualified("r", roundColumns)+`
		FROM battle_rounds r
		JOIN battles b ON b.id = r.battle_id AND b.current_round = r.round_number
		WHERE r.battle_id = ?
	`, battleID))
	if errors.Is(err, sql.ErrNoRows) {
		return r, battle.ErrNotFound
	}
	return r, err
}

// ListRounds returns every round of a battle in round order.
func (s *Store) ListRounds(ctx context.Context, battleID string) ([]battle.Round, error) {
	return listRounds(ctx, s.db, battleID)
}

func listRounds(ctx context.Context, q querier, battleID string) ([]battle.Round, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+roundColumns+` FROM battle_rounds WHERE battle_id = ? ORDER BY round_number
	`, battleID)
	if err != nil {
		return nil, fmt.Errorf("listing rounds: %w", err)
	}
	return scanRounds(rows)
}

// ListActiveRounds returns unresolved rounds of active battles, oldest first.
func (s *Store) ListActiveRounds(ctx context.Context) ([]battle.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualified("r", roundColumns)+`
		FROM battle_rounds r
		JOIN battles b ON b.id = r.battle_id
		WHERE r.status = 'active' AND b.status = 'active'
		ORDER BY r.started_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing active rounds: %w", err)
	}
	return scanRounds(rows)
}

// SubmitBattleGuess records a scored guess for the submitting player's
// slot. The write only lands if that slot is still empty.
func (s *Store) SubmitBattleGuess(ctx context.Context, sub battle.Submission) error {
	clues, err := json.Marshal(nonNilClues(sub.CluesUsed))
	if err != nil {
		return fmt.Errorf("encoding clues: %w", err)
	}

	var battleID string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := getRound(ctx, tx, sub.RoundID)
		if err != nil {
			return err
		}
		m, err := getBattle(ctx, tx, r.BattleID)
		if err != nil {
			return err
		}
		slot := m.Slot(sub.PlayerID)
		switch {
		case slot == 0:
			return battle.ErrNotParticipant
		case m.Status != battle.MatchActive:
			return battle.ErrMatchNotActive
		case r.Side(slot).Submitted():
			return battle.ErrAlreadySubmitted
		case r.Status != battle.RoundActive || r.RoundNumber != m.CurrentRound:
			return battle.ErrStaleState
		}

		p := fmt.Sprintf("player%d_", slot)
		res, err := tx.ExecContext(ctx, `
			UPDATE battle_rounds SET
				`+p+`submitted_at = ?, `+p+`score = ?, `+p+`distance_km = ?,
				`+p+`year_guess = ?, `+p+`lat = ?, `+p+`lng = ?, `+p+`clues_used = ?
			WHERE id = ? AND status = 'active' AND `+p+`submitted_at IS NULL
		`, s.stamp(), sub.Score, sub.DistanceKm, sub.YearGuess, sub.Lat, sub.Lng, string(clues), sub.RoundID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return battle.ErrAlreadySubmitted
		}
		battleID = r.BattleID
		return nil
	})
	if err != nil {
		if battle.IsRejection(err) {
			return err
		}
		return fmt.Errorf("submitting guess: %w", err)
	}

	s.notifyRound(ctx, realtime.ChangeUpdate, sub.RoundID)
	s.publish(ctx, realtime.BattleTopic(battleID), realtime.EventOpponentSubmitted, battleID,
		map[string]string{"playerId": sub.PlayerID, "roundId": sub.RoundID})
	return nil
}

// CompleteRound resolves a round in which both players have submitted and
// adds both round scores to the battle totals. The winner is taken from the
// committed scores; a winnerID that disagrees with them is rejected with
// battle.ErrStaleState. It reports false, with no error, when another
// resolver got there first.
func (s *Store) CompleteRound(ctx context.Context, roundID, winnerID string) (bool, error) {
	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := getRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Status == battle.RoundCompleted {
			return nil
		}
		if !r.BothSubmitted() {
			return battle.ErrStaleState
		}
		m, err := getBattle(ctx, tx, r.BattleID)
		if err != nil {
			return err
		}
		winner := battle.RoundWinner(m, r)
		if winnerID != winner {
			return battle.ErrStaleState
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE battle_rounds SET status = 'completed', winner_id = NULLIF(?, ''), completed_at = ?
			WHERE id = ? AND status = 'active'
				AND player1_submitted_at IS NOT NULL AND player2_submitted_at IS NOT NULL
		`, winner, s.stamp(), roundID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE battles SET player1_score = player1_score + ?, player2_score = player2_score + ?
			WHERE id = ?
		`, r.Player1.Points(), r.Player2.Points(), r.BattleID)
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		if battle.IsRejection(err) {
			return false, err
		}
		return false, fmt.Errorf("completing round: %w", err)
	}
	if changed {
		s.notifyRound(ctx, realtime.ChangeUpdate, roundID)
	}
	return changed, nil
}

// StartRound creates round n of an active battle and advances its
// current_round. Round n-1 must already be completed. Calling it again for
// an existing round returns that round with created false.
func (s *Store) StartRound(ctx context.Context, battleID string, n int) (battle.Round, bool, error) {
	var r battle.Round
	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanRound(tx.QueryRowContext(ctx, `
			SELECT `+roundColumns+` FROM battle_rounds WHERE battle_id = ? AND round_number = ?
		`, battleID, n))
		if err == nil {
			r = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		m, err := getBattle(ctx, tx, battleID)
		if err != nil {
			return err
		}
		if m.Status != battle.MatchActive {
			return battle.ErrMatchNotActive
		}
		if m.CurrentRound != n-1 {
			return battle.ErrStaleState
		}
		if n > 1 {
			prev, err := scanRound(tx.QueryRowContext(ctx, `
				SELECT `+roundColumns+` FROM battle_rounds WHERE battle_id = ? AND round_number = ?
			`, battleID, n-1))
			if errors.Is(err, sql.ErrNoRows) {
				return battle.ErrStaleState
			}
			if err != nil {
				return err
			}
			if prev.Status != battle.RoundCompleted {
				return battle.ErrStaleState
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE battles SET current_round = ? WHERE id = ? AND current_round = ? AND status = 'active'
		`, n, battleID, n-1)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return battle.ErrStaleState
		}
		r, err = s.insertRound(ctx, tx, battleID, n)
		created = err == nil
		return err
	})
	if err != nil {
		if battle.IsRejection(err) {
			return r, false, err
		}
		return r, false, fmt.Errorf("starting round %d: %w", n, err)
	}
	if created {
		s.notifyBattle(ctx, realtime.ChangeUpdate, battleID)
		s.notifyRound(ctx, realtime.ChangeInsert, r.ID)
	}
	return r, created, nil
}

// insertRound adds round n with a puzzle the battle has not seen yet.
func (s *Store) insertRound(ctx context.Context, tx *sql.Tx, battleID string, n int) (battle.Round, error) {
	puzzleID, err := pickPuzzle(ctx, tx, battleID)
	if err != nil {
		return battle.Round{}, err
	}
	id := newID()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO battle_rounds (id, battle_id, round_number, puzzle_id, status, started_at)
		VALUES (?, ?, ?, ?, 'active', ?)
	`, id, battleID, n, puzzleID, s.stamp())
	if err != nil {
		return battle.Round{}, fmt.Errorf("inserting round: %w", err)
	}
	return getRound(ctx, tx, id)
}

// ForfeitMissing fills every empty slot of an active round with a zero
// score at time at. It reports whether any slot was filled.
func (s *Store) ForfeitMissing(ctx context.Context, roundID string, at time.Time) (bool, error) {
	stamp := at.UTC().Format(timeLayout)
	var filled int64
	for slot := 1; slot <= 2; slot++ {
		p := fmt.Sprintf("player%d_", slot)
		res, err := s.db.ExecContext(ctx, `
			UPDATE battle_rounds SET
				`+p+`submitted_at = ?, `+p+`score = 0, `+p+`distance_km = 0,
				`+p+`year_guess = 0, `+p+`lat = 0, `+p+`lng = 0, `+p+`clues_used = '[]', `+p+`forfeit = 1
			WHERE id = ? AND status = 'active' AND `+p+`submitted_at IS NULL
		`, stamp, roundID)
		if err != nil {
			return false, fmt.Errorf("forfeiting round: %w", err)
		}
		n, _ := res.RowsAffected()
		filled += n
	}
	if filled > 0 {
		s.notifyRound(ctx, realtime.ChangeUpdate, roundID)
	}
	return filled > 0, nil
}

func nonNilClues(c []int) []int {
	if c == nil {
		return []int{}
	}
	return c
}

// qualified prefixes each column in a comma-separated list with alias.
func qualified(alias, columns string) string {
	var out []byte
	start := true
	for i := 0; i < len(columns); i++ {
		c := columns[i]
		if start && c != ' ' && c != '\t' && c != '\n' {
			out = append(out, alias...)
			out = append(out, '.')
			start = false
		}
		out = append(out, c)
		if c == ',' {
			start = true
		}
	}
	return string(out)
}
