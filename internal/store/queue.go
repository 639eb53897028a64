package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
)

// Enqueue adds playerID to the matchmaking pool and returns its entry.
// Re-enqueueing keeps the original position. EnqueuedAt is stamped by the
// backend clock, so searchers use it to spot battles they were claimed
// into regardless of their own clock.
func (s *Store) Enqueue(ctx context.Context, playerID string) (battle.QueueEntry, error) {
	e := battle.QueueEntry{PlayerID: playerID}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO matchmaking_queue (player_id, enqueued_at) VALUES (?, ?)
			ON CONFLICT (player_id) DO NOTHING
		`, playerID, s.stamp())
		if err != nil {
			return err
		}
		var at string
		err = tx.QueryRowContext(ctx, `
			SELECT enqueued_at FROM matchmaking_queue WHERE player_id = ?
		`, playerID).Scan(&at)
		if err != nil {
			return err
		}
		e.EnqueuedAt = parseTime(at)
		return nil
	})
	if err != nil {
		return battle.QueueEntry{}, fmt.Errorf("enqueueing player: %w", err)
	}
	return e, nil
}

// ListWaiting returns the pool in arrival order.
func (s *Store) ListWaiting(ctx context.Context) ([]battle.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_id, enqueued_at FROM matchmaking_queue ORDER BY enqueued_at, player_id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	defer rows.Close()

	var entries []battle.QueueEntry
	for rows.Next() {
		var e battle.QueueEntry
		var at string
		if err := rows.Scan(&e.PlayerID, &at); err != nil {
			return nil, err
		}
		e.EnqueuedAt = parseTime(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Dequeue removes playerID from the pool. Removing an absent player is not
// an error.
func (s *Store) Dequeue(ctx context.Context, playerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM matchmaking_queue WHERE player_id = ?`, playerID)
	if err != nil {
		return fmt.Errorf("dequeueing player: %w", err)
	}
	return nil
}

// ClaimOpponent pairs claimer with opponent. Removing both pool entries is
// the commit point: if either is already gone another claimer won and the
// call fails with battle.ErrClaimLost. On success an active battle with
// claimer as player one is created and round one started.
func (s *Store) ClaimOpponent(ctx context.Context, claimerID, opponentID string) (battle.Joined, error) {
	if claimerID == opponentID {
		return battle.Joined{}, battle.ErrOwnMatch
	}

	var joined battle.Joined
	var round battle.Round
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM matchmaking_queue WHERE player_id IN (?, ?)
		`, claimerID, opponentID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 2 {
			return battle.ErrClaimLost
		}

		code, err := uniqueInviteCode(ctx, tx)
		if err != nil {
			return err
		}
		id := newID()
		now := s.stamp()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO battles (id, player1_id, player2_id, invite_code, status, current_round, created_at, started_at)
			VALUES (?, ?, ?, ?, 'active', 1, ?, ?)
		`, id, claimerID, opponentID, code, now, now)
		if err != nil {
			return err
		}
		round, err = s.insertRound(ctx, tx, id, 1)
		if err != nil {
			return err
		}
		joined = battle.Joined{MatchID: id, PuzzleID: round.PuzzleID}
		return nil
	})
	if err != nil {
		if battle.IsRejection(err) {
			return battle.Joined{}, err
		}
		return battle.Joined{}, fmt.Errorf("claiming opponent: %w", err)
	}

	s.notifyBattle(ctx, realtime.ChangeInsert, joined.MatchID)
	s.notifyRound(ctx, realtime.ChangeInsert, round.ID)
	return joined, nil
}

// ExpireQueue drops pool entries enqueued before cutoff and returns how
// many were removed.
func (s *Store) ExpireQueue(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM matchmaking_queue WHERE enqueued_at < ?
	`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("expiring queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
