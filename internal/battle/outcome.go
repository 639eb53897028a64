package battle

import "time"

// RoundsPerMatch is fixed; the odd count means a match tie needs at least
// one drawn round.
const RoundsPerMatch = 3

// RoundWinner returns the id of the player with the higher round score, or
// "" for a tie. There is no tiebreaker beyond score.
func RoundWinner(m Match, r Round) string {
	p1, p2 := r.Player1.Points(), r.Player2.Points()
	switch {
	case p1 > p2:
		return m.Player1ID
	case p2 > p1:
		return m.Player2ID
	}
	return ""
}

// Outcome summarizes a finished (or partial) match.
type Outcome struct {
	WinnerID     string `json:"winnerId,omitempty"`
	Player1Wins  int    `json:"player1Wins"`
	Player2Wins  int    `json:"player2Wins"`
	Draws        int    `json:"draws"`
	Player1Score int    `json:"player1Score"`
	Player2Score int    `json:"player2Score"`
}

func (o Outcome) Tie() bool { return o.WinnerID == "" }

// DecideMatch counts round wins over the rounds where both players
// submitted. More round wins takes the match; equal round wins is a tie.
func DecideMatch(m Match, rounds []Round) Outcome {
	var o Outcome
	for _, r := range rounds {
		if !r.BothSubmitted() {
			continue
		}
		o.Player1Score += r.Player1.Points()
		o.Player2Score += r.Player2.Points()
		switch RoundWinner(m, r) {
		case "":
			o.Draws++
		case m.Player1ID:
			o.Player1Wins++
		default:
			o.Player2Wins++
		}
	}
	switch {
	case o.Player1Wins > o.Player2Wins:
		o.WinnerID = m.Player1ID
	case o.Player2Wins > o.Player1Wins:
		o.WinnerID = m.Player2ID
	}
	return o
}

// Timing holds the round clock. Both clients derive their countdown from
// backend timestamps, so local clock skew only shifts the display.
type Timing struct {
	RoundDuration time.Duration `env:"ROUND_DURATION" envDefault:"180s"`
	SpeedWindow   time.Duration `env:"SPEED_WINDOW" envDefault:"15s"`
}

var DefaultTiming = Timing{
	RoundDuration: 180 * time.Second,
	SpeedWindow:   15 * time.Second,
}

// Deadline returns when r stops accepting guesses. Once someone has
// submitted, the deadline drops to that submission plus the speed window.
func (t Timing) Deadline(r Round) time.Time {
	deadline := r.StartedAt.Add(t.RoundDuration)
	if first, ok := r.FirstSubmittedAt(); ok {
		if speed := first.Add(t.SpeedWindow); speed.Before(deadline) {
			deadline = speed
		}
	}
	return deadline
}

// Remaining returns the time left in r at now, never negative.
func (t Timing) Remaining(r Round, now time.Time) time.Duration {
	left := t.Deadline(r).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// SpeedRound reports whether the speed-round cap is in effect for r.
func (t Timing) SpeedRound(r Round) bool {
	first, ok := r.FirstSubmittedAt()
	return ok && first.Add(t.SpeedWindow).Before(r.StartedAt.Add(t.RoundDuration))
}
