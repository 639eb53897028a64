// Package store is the authoritative battle backend: tables, the create,
// join and submit RPCs, and conditional mutations. Every write is
// conditioned on the state it expects and reports whether it changed
// anything, so racing clients can retry or reconcile instead of clobbering
// each other. Committed changes are published to a realtime feed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

type Store struct {
	db     *sql.DB
	feed   realtime.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// New wraps a migrated database. feed may be nil when no one listens.
func New(db *sql.DB, feed realtime.Publisher, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		feed:   feed,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) stamp() string { return s.now().UTC().Format(timeLayout) }

func newID() string { return uuid.NewString() }

// CreateBattle opens a waiting battle hosted by playerID.
func (s *Store) CreateBattle(ctx context.Context, playerID string) (battle.Created, error) {
	if playerID == "" {
		return battle.Created{}, errors.New("player id is required")
	}
	var created battle.Created
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		code, err := uniqueInviteCode(ctx, tx)
		if err != nil {
			return err
		}
		created = battle.Created{MatchID: newID(), InviteCode: code}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO battles (id, player1_id, invite_code, status, created_at)
			VALUES (?, ?, ?, 'waiting', ?)
		`, created.MatchID, playerID, code, s.stamp())
		return err
	})
	if err != nil {
		return battle.Created{}, fmt.Errorf("creating battle: %w", err)
	}
	s.notifyBattle(ctx, realtime.ChangeInsert, created.MatchID)
	return created, nil
}

func uniqueInviteCode(ctx context.Context, q querier) (string, error) {
	for range 8 {
		code, err := battle.NewInviteCode()
		if err != nil {
			return "", err
		}
		var n int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM battles WHERE invite_code = ?`, code).Scan(&n); err != nil {
			return "", err
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique invite code")
}

// JoinBattle seats playerID as the second player of the battle behind code
// and starts round one.
func (s *Store) JoinBattle(ctx context.Context, code, playerID string) (battle.Joined, error) {
	code, err := battle.NormalizeInviteCode(code)
	if err != nil {
		return battle.Joined{}, err
	}

	var joined battle.Joined
	var round battle.Round
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var id, host string
		var guest sql.NullString
		var status battle.MatchStatus
		err := tx.QueryRowContext(ctx, `
			SELECT id, player1_id, player2_id, status FROM battles WHERE invite_code = ?
		`, code).Scan(&id, &host, &guest, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return battle.ErrInvalidInviteCode
		}
		if err != nil {
			return err
		}
		switch {
		case host == playerID:
			return battle.ErrOwnMatch
		case guest.Valid || status != battle.MatchWaiting:
			return battle.ErrMatchFull
		}

		now := s.stamp()
		res, err := tx.ExecContext(ctx, `
			UPDATE battles SET player2_id = ?, status = 'active', started_at = ?, current_round = 1
			WHERE id = ? AND status = 'waiting' AND player2_id IS NULL
		`, playerID, now, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return battle.ErrMatchFull
		}

		round, err = s.insertRound(ctx, tx, id, 1)
		if err != nil {
			return err
		}
		joined = battle.Joined{MatchID: id, PuzzleID: round.PuzzleID}
		return nil
	})
	if err != nil {
		return battle.Joined{}, err
	}

	s.notifyBattle(ctx, realtime.ChangeUpdate, joined.MatchID)
	s.notifyRound(ctx, realtime.ChangeInsert, round.ID)
	return joined, nil
}

// GetBattle returns the battle or battle.ErrNotFound.
func (s *Store) GetBattle(ctx context.Context, id string) (battle.Match, error) {
	return getBattle(ctx, s.db, id)
}

func getBattle(ctx context.Context, q querier, id string) (battle.Match, error) {
	row := q.QueryRowContext(ctx, `SELECT `+battleColumns+` FROM battles WHERE id = ?`, id)
	m, err := scanBattle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return m, battle.ErrNotFound
	}
	return m, err
}

// CompleteBattle marks an active battle completed once all of its rounds
// are resolved. The winner is decided from the committed rounds; winnerID
// must agree with it (empty for a tie) or battle.ErrStaleState is
// returned. It reports false when the battle was already completed.
func (s *Store) CompleteBattle(ctx context.Context, battleID, winnerID string) (bool, error) {
	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := getBattle(ctx, tx, battleID)
		if err != nil {
			return err
		}
		switch m.Status {
		case battle.MatchCompleted:
			return nil
		case battle.MatchActive:
		default:
			return battle.ErrMatchNotActive
		}

		rounds, err := listRounds(ctx, tx, battleID)
		if err != nil {
			return err
		}
		if len(rounds) < battle.RoundsPerMatch {
			return battle.ErrStaleState
		}
		for _, r := range rounds {
			if r.Status != battle.RoundCompleted {
				return battle.ErrStaleState
			}
		}
		outcome := battle.DecideMatch(m, rounds)
		if winnerID != outcome.WinnerID {
			return battle.ErrStaleState
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE battles SET status = 'completed', winner_id = NULLIF(?, ''), completed_at = ?
			WHERE id = ? AND status = 'active'
		`, outcome.WinnerID, s.stamp(), battleID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		changed = n > 0
		return nil
	})
	if err != nil {
		if battle.IsRejection(err) {
			return false, err
		}
		return false, fmt.Errorf("completing battle: %w", err)
	}
	if changed {
		s.notifyBattle(ctx, realtime.ChangeUpdate, battleID)
	}
	return changed, nil
}

// FindMatchFor returns the newest active battle seating playerID that
// started at or after since. Random matchmaking uses it to learn it was
// claimed by another player.
func (s *Store) FindMatchFor(ctx context.Context, playerID string, since time.Time) (battle.Match, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+battleColumns+` FROM battles
		WHERE (player1_id = ? OR player2_id = ?) AND status = 'active' AND started_at >= ?
		ORDER BY started_at DESC LIMIT 1
	`, playerID, playerID, since.UTC().Format(timeLayout))
	m, err := scanBattle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return m, battle.ErrNotFound
	}
	return m, err
}

// DeleteAbandoned removes battles still waiting for an opponent that were
// created before cutoff.
func (s *Store) DeleteAbandoned(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM battles WHERE status = 'waiting' AND created_at < ? RETURNING id
	`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("deleting abandoned battles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.publish(ctx, realtime.TopicBattles, realtime.ChangeDelete, id, map[string]string{"id": id})
	}
	return ids, nil
}

func (s *Store) notifyBattle(ctx context.Context, typ, battleID string) {
	m, err := s.GetBattle(ctx, battleID)
	if err != nil {
		s.logger.Warn("reading battle for change feed", "battle_id", battleID, "error", err)
		return
	}
	s.publish(ctx, realtime.TopicBattles, typ, battleID, m)
}

func (s *Store) notifyRound(ctx context.Context, typ, roundID string) {
	r, err := s.GetRound(ctx, roundID)
	if err != nil {
		s.logger.Warn("reading round for change feed", "round_id", roundID, "error", err)
		return
	}
	s.publish(ctx, realtime.TopicRounds, typ, r.BattleID, r)
}

func (s *Store) publish(ctx context.Context, topic, typ, battleID string, payload any) {
	if s.feed == nil {
		return
	}
	ev, err := realtime.NewEvent(typ, battleID, payload)
	if err != nil {
		s.logger.Error("encoding change event", "topic", topic, "error", err)
		return
	}
	if err := s.feed.Publish(ctx, topic, ev); err != nil {
		s.logger.Warn("publishing change event", "topic", topic, "battle_id", battleID, "error", err)
	}
}
