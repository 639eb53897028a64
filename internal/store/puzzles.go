package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
)

//go:embed puzzles.json
var seedPuzzles []byte

// SeedPuzzles loads the bundled puzzle catalogue. Existing puzzles are left
// untouched, so calling it on every start is safe. It returns the number of
// puzzles inserted.
func (s *Store) SeedPuzzles(ctx context.Context) (int, error) {
	var puzzles []battle.Puzzle
	if err := json.Unmarshal(seedPuzzles, &puzzles); err != nil {
		return 0, fmt.Errorf("decoding seed puzzles: %w", err)
	}

	var inserted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range puzzles {
			n, err := insertPuzzle(ctx, tx, p)
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seeding puzzles: %w", err)
	}
	if inserted > 0 {
		s.logger.Info("puzzles seeded", "count", inserted)
	}
	return inserted, nil
}

// AddPuzzle stores one puzzle. It is a no-op if the id already exists.
func (s *Store) AddPuzzle(ctx context.Context, p battle.Puzzle) error {
	_, err := insertPuzzle(ctx, s.db, p)
	return err
}

func insertPuzzle(ctx context.Context, q querier, p battle.Puzzle) (int, error) {
	clues, err := json.Marshal(p.Clues)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO puzzles (id, city, historical_entity, year, lat, lng, clues)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.City, p.HistoricalEntity, p.Year, p.Lat, p.Lng, string(clues))
	if err != nil {
		return 0, fmt.Errorf("inserting puzzle %s: %w", p.ID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetPuzzle returns one puzzle or battle.ErrNotFound.
func (s *Store) GetPuzzle(ctx context.Context, id string) (battle.Puzzle, error) {
	var p battle.Puzzle
	var clues string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, city, historical_entity, year, lat, lng, clues FROM puzzles WHERE id = ?
	`, id).Scan(&p.ID, &p.City, &p.HistoricalEntity, &p.Year, &p.Lat, &p.Lng, &clues)
	if errors.Is(err, sql.ErrNoRows) {
		return p, battle.ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(clues), &p.Clues); err != nil {
		return p, fmt.Errorf("decoding clues for %s: %w", id, err)
	}
	return p, nil
}

// pickPuzzle chooses a random puzzle not yet used in the battle, falling
// back to any puzzle once the catalogue is exhausted.
func pickPuzzle(ctx context.Context, q querier, battleID string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM puzzles
		WHERE id NOT IN (SELECT puzzle_id FROM battle_rounds WHERE battle_id = ?)
		ORDER BY RANDOM() LIMIT 1
	`, battleID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = q.QueryRowContext(ctx, `SELECT id FROM puzzles ORDER BY RANDOM() LIMIT 1`).Scan(&id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("no puzzles available")
	}
	return id, err
}
