// Package battle defines the live battle domain types shared by the client
// core and the backend store. It has zero external dependencies.
package battle

import "time"

type MatchStatus string

const (
	MatchWaiting   MatchStatus = "waiting"
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
)

func (s MatchStatus) rank() int {
	switch s {
	case MatchWaiting:
		return 1
	case MatchActive:
		return 2
	case MatchCompleted:
		return 3
	}
	return 0
}

// CanBecome reports whether a match in status s may move to next.
// Status only moves forward one step: waiting -> active -> completed.
func (s MatchStatus) CanBecome(next MatchStatus) bool {
	return s.rank() > 0 && next.rank() == s.rank()+1
}

type RoundStatus string

const (
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
)

// Match is a two-player battle. Player2ID is empty while waiting and
// WinnerID is empty for a tie once completed.
type Match struct {
	ID           string      `json:"id"`
	Player1ID    string      `json:"player1Id"`
	Player2ID    string      `json:"player2Id,omitempty"`
	InviteCode   string      `json:"inviteCode"`
	Status       MatchStatus `json:"status"`
	CurrentRound int         `json:"currentRound"`
	Player1Score int         `json:"player1Score"`
	Player2Score int         `json:"player2Score"`
	WinnerID     string      `json:"winnerId,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

// Slot returns 1 or 2 for a participant and 0 for anyone else.
func (m Match) Slot(playerID string) int {
	switch {
	case playerID == "":
		return 0
	case playerID == m.Player1ID:
		return 1
	case playerID == m.Player2ID:
		return 2
	}
	return 0
}

func (m Match) HasPlayer(playerID string) bool { return m.Slot(playerID) != 0 }

// Opponent returns the other participant's id, or "" if the seat is empty.
func (m Match) Opponent(playerID string) string {
	switch m.Slot(playerID) {
	case 1:
		return m.Player2ID
	case 2:
		return m.Player1ID
	}
	return ""
}

func (m Match) Full() bool { return m.Player1ID != "" && m.Player2ID != "" }

func (m Match) Tie() bool { return m.Status == MatchCompleted && m.WinnerID == "" }

// PlayerRound is one player's side of a round. SubmittedAt and Score stay
// nil until the player submits.
type PlayerRound struct {
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	Score       *int       `json:"score,omitempty"`
	DistanceKm  float64    `json:"distanceKm"`
	YearGuess   int        `json:"yearGuess"`
	Lat         float64    `json:"lat"`
	Lng         float64    `json:"lng"`
	CluesUsed   []int      `json:"cluesUsed"`
	Forfeit     bool       `json:"forfeit,omitempty"`
}

func (p PlayerRound) Submitted() bool { return p.SubmittedAt != nil && p.Score != nil }

// Points returns the submitted score or zero.
func (p PlayerRound) Points() int {
	if p.Score == nil {
		return 0
	}
	return *p.Score
}

type Round struct {
	ID          string      `json:"id"`
	BattleID    string      `json:"battleId"`
	RoundNumber int         `json:"roundNumber"`
	PuzzleID    string      `json:"puzzleId"`
	Status      RoundStatus `json:"status"`
	StartedAt   time.Time   `json:"startedAt"`
	Player1     PlayerRound `json:"player1"`
	Player2     PlayerRound `json:"player2"`
	WinnerID    string      `json:"winnerId,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// Side returns the player round for match slot 1 or 2.
func (r Round) Side(slot int) PlayerRound {
	if slot == 2 {
		return r.Player2
	}
	return r.Player1
}

// BothSubmitted is the only condition under which a round may complete.
func (r Round) BothSubmitted() bool {
	return r.Player1.Submitted() && r.Player2.Submitted()
}

// FirstSubmittedAt returns the earliest submission timestamp in the round.
func (r Round) FirstSubmittedAt() (time.Time, bool) {
	a, b := r.Player1.SubmittedAt, r.Player2.SubmittedAt
	switch {
	case a == nil && b == nil:
		return time.Time{}, false
	case a == nil:
		return *b, true
	case b == nil:
		return *a, true
	case b.Before(*a):
		return *b, true
	}
	return *a, true
}

// Puzzle is read-only ground truth for a round.
type Puzzle struct {
	ID               string   `json:"id"`
	City             string   `json:"city"`
	HistoricalEntity string   `json:"historicalEntity"`
	Year             int      `json:"year"`
	Lat              float64  `json:"lat"`
	Lng              float64  `json:"lng"`
	Clues            []string `json:"clues"`
}

// Guess is a player's input for one round before it is scored.
type Guess struct {
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Year        int       `json:"year"`
	CluesUsed   []int     `json:"cluesUsed"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Submission is a scored guess as sent to the submit RPC.
type Submission struct {
	RoundID    string  `json:"roundId"`
	PlayerID   string  `json:"playerId"`
	Score      int     `json:"score"`
	DistanceKm float64 `json:"distanceKm"`
	YearGuess  int     `json:"yearGuess"`
	CluesUsed  []int   `json:"cluesUsed"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// Created is returned by the create RPC.
type Created struct {
	MatchID    string `json:"battleId"`
	InviteCode string `json:"inviteCode"`
}

// Joined is returned by the join RPC.
type Joined struct {
	MatchID  string `json:"battleId"`
	PuzzleID string `json:"puzzleId"`
}

// QueueEntry is one player waiting in the random matchmaking pool.
type QueueEntry struct {
	PlayerID   string    `json:"playerId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
