package gateway

import "github.com/gabrieltornquist7/history-clue/internal/battle"

// Request and response bodies of the battle service API.

type PlayerRequest struct {
	PlayerID string `json:"playerId" required:"true"`
}

type JoinRequest struct {
	InviteCode string `json:"inviteCode" required:"true"`
	PlayerID   string `json:"playerId" required:"true"`
}

type GuessRequest struct {
	PlayerID   string  `json:"playerId" required:"true"`
	Score      int     `json:"score"`
	DistanceKm float64 `json:"distanceKm"`
	YearGuess  int     `json:"yearGuess"`
	CluesUsed  []int   `json:"cluesUsed"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

type StartRoundRequest struct {
	RoundNumber int `json:"roundNumber" required:"true"`
}

type StartRoundResponse struct {
	Round   battle.Round `json:"round"`
	Created bool         `json:"created"`
}

type CompleteRequest struct {
	WinnerID string `json:"winnerId"`
}

type ChangedResponse struct {
	Changed bool `json:"changed"`
}

type ClaimRequest struct {
	ClaimerID  string `json:"claimerId" required:"true"`
	OpponentID string `json:"opponentId" required:"true"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
