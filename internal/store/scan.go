package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
)

const battleColumns = `id, player1_id, player2_id, invite_code, status, current_round,
	player1_score, player2_score, winner_id, created_at, started_at, completed_at`

const roundColumns = `id, battle_id, round_number, puzzle_id, status, started_at,
	player1_submitted_at, player1_score, player1_distance_km, player1_year_guess,
	player1_lat, player1_lng, player1_clues_used, player1_forfeit,
	player2_submitted_at, player2_score, player2_distance_km, player2_year_guess,
	player2_lat, player2_lng, player2_clues_used, player2_forfeit,
	winner_id, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBattle(row scanner) (battle.Match, error) {
	var m battle.Match
	var guest, winner, started, completed sql.NullString
	var created string
	err := row.Scan(&m.ID, &m.Player1ID, &guest, &m.InviteCode, &m.Status, &m.CurrentRound,
		&m.Player1Score, &m.Player2Score, &winner, &created, &started, &completed)
	if err != nil {
		return m, err
	}
	m.Player2ID = guest.String
	m.WinnerID = winner.String
	m.CreatedAt = parseTime(created)
	m.StartedAt = parseNullTime(started)
	m.CompletedAt = parseNullTime(completed)
	return m, nil
}

type sideColumns struct {
	submittedAt sql.NullString
	score       sql.NullInt64
	distance    sql.NullFloat64
	year        sql.NullInt64
	lat, lng    sql.NullFloat64
	clues       sql.NullString
	forfeit     int
}

func (c *sideColumns) dest() []any {
	return []any{&c.submittedAt, &c.score, &c.distance, &c.year, &c.lat, &c.lng, &c.clues, &c.forfeit}
}

func (c *sideColumns) playerRound() battle.PlayerRound {
	p := battle.PlayerRound{
		SubmittedAt: parseNullTime(c.submittedAt),
		DistanceKm:  c.distance.Float64,
		YearGuess:   int(c.year.Int64),
		Lat:         c.lat.Float64,
		Lng:         c.lng.Float64,
		CluesUsed:   []int{},
		Forfeit:     c.forfeit != 0,
	}
	if c.score.Valid {
		score := int(c.score.Int64)
		p.Score = &score
	}
	if c.clues.Valid && c.clues.String != "" {
		json.Unmarshal([]byte(c.clues.String), &p.CluesUsed)
	}
	return p
}

func scanRound(row scanner) (battle.Round, error) {
	var r battle.Round
	var started string
	var winner, completed sql.NullString
	var p1, p2 sideColumns

	dest := []any{&r.ID, &r.BattleID, &r.RoundNumber, &r.PuzzleID, &r.Status, &started}
	dest = append(dest, p1.dest()...)
	dest = append(dest, p2.dest()...)
	dest = append(dest, &winner, &completed)
	if err := row.Scan(dest...); err != nil {
		return r, err
	}

	r.StartedAt = parseTime(started)
	r.Player1 = p1.playerRound()
	r.Player2 = p2.playerRound()
	r.WinnerID = winner.String
	r.CompletedAt = parseNullTime(completed)
	return r, nil
}

func scanRounds(rows *sql.Rows) ([]battle.Round, error) {
	defer rows.Close()
	var rounds []battle.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
