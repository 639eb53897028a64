package lobby

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/poller"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
	"github.com/gabrieltornquist7/history-clue/internal/scoring"
)

// RoundController plays one player's side of a match: it tracks revealed
// clues, scores and submits guesses, submits an empty guess when the clock
// runs out and resolves rounds once both sides are in.
type RoundController struct {
	gw       Gateway
	resolver *Resolver
	engine   scoring.Engine
	timing   battle.Timing
	feed     realtime.Publisher
	playerID string
	matchID  string
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	revealed map[string][]int
	years    map[string]int
}

type RoundOption func(*RoundController)

func WithEngine(e scoring.Engine) RoundOption {
	return func(rc *RoundController) { rc.engine = e }
}

func WithTiming(t battle.Timing) RoundOption {
	return func(rc *RoundController) { rc.timing = t }
}

// WithClueBroadcast announces revealed clues to the opponent.
func WithClueBroadcast(feed realtime.Publisher) RoundOption {
	return func(rc *RoundController) { rc.feed = feed }
}

func WithRoundClock(now func() time.Time) RoundOption {
	return func(rc *RoundController) { rc.now = now }
}

func NewRoundController(gw Gateway, resolver *Resolver, playerID, matchID string, logger *slog.Logger, opts ...RoundOption) *RoundController {
	rc := &RoundController{
		gw:       gw,
		resolver: resolver,
		engine:   scoring.NewEngine(scoring.DefaultConfig()),
		timing:   battle.DefaultTiming,
		playerID: playerID,
		matchID:  matchID,
		logger:   logger.With("player_id", playerID, "battle_id", matchID),
		now:      time.Now,
		revealed: make(map[string][]int),
		years:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Remaining is the countdown for r, derived from backend timestamps.
func (rc *RoundController) Remaining(r battle.Round) time.Duration {
	return rc.timing.Remaining(r, rc.now())
}

// CluesUsed returns the clues revealed so far in the round. The first clue
// is always shown.
func (rc *RoundController) CluesUsed(roundID string) []int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if c, ok := rc.revealed[roundID]; ok {
		return slices.Clone(c)
	}
	return []int{1}
}

// SelectYear records the year currently picked for the round, so an
// automatic submission carries it.
func (rc *RoundController) SelectYear(roundID string, year int) {
	rc.mu.Lock()
	rc.years[roundID] = year
	rc.mu.Unlock()
}

func (rc *RoundController) selectedYear(roundID string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.years[roundID]
}

// RevealClue marks clue n (1-based) as used in round r.
func (rc *RoundController) RevealClue(ctx context.Context, r battle.Round, p battle.Puzzle, n int) []int {
	if n < 1 || n > len(p.Clues) {
		return rc.CluesUsed(r.ID)
	}
	rc.mu.Lock()
	clues, ok := rc.revealed[r.ID]
	if !ok {
		clues = []int{1}
	}
	fresh := !slices.Contains(clues, n)
	if fresh {
		clues = append(clues, n)
		slices.Sort(clues)
	}
	rc.revealed[r.ID] = clues
	out := slices.Clone(clues)
	rc.mu.Unlock()

	if fresh && rc.feed != nil {
		ev, err := realtime.NewEvent(realtime.EventClueRevealed, rc.matchID, map[string]any{
			"playerId": rc.playerID,
			"roundId":  r.ID,
			"clue":     n,
		})
		if err == nil {
			err = rc.feed.Publish(ctx, realtime.BattleTopic(rc.matchID), ev)
		}
		if err != nil {
			rc.logger.Debug("announcing clue", "error", err)
		}
	}
	return out
}

// Submitted is the result of a local submission.
type Submitted struct {
	Score         scoring.Result
	BothSubmitted bool
	Resolution    *Resolution
}

// Submit scores g against p and records it for round r. The time bonus
// uses the round as the backend has it now, so an opponent's submission
// since r was read still starts the speed round. When this submission
// completes the round, it also resolves it.
func (rc *RoundController) Submit(ctx context.Context, r battle.Round, p battle.Puzzle, g battle.Guess) (Submitted, error) {
	if rc.gw.Submitted(r.ID, rc.playerID) {
		return Submitted{}, battle.ErrAlreadySubmitted
	}
	r, err := rc.gw.FetchRound(ctx, r.ID)
	if err != nil {
		return Submitted{}, err
	}

	clues := g.CluesUsed
	if len(clues) == 0 {
		clues = rc.CluesUsed(r.ID)
	}
	at := g.SubmittedAt
	if at.IsZero() {
		at = rc.now()
	}
	result := rc.engine.Score(p, g.Lat, g.Lng, g.Year, len(clues), rc.timing.Remaining(r, at))

	sr, err := rc.gw.SubmitGuess(ctx, battle.Submission{
		RoundID:    r.ID,
		PlayerID:   rc.playerID,
		Score:      result.FinalScore,
		DistanceKm: result.DistanceKm,
		YearGuess:  g.Year,
		CluesUsed:  clues,
		Lat:        g.Lat,
		Lng:        g.Lng,
	})
	if err != nil {
		return Submitted{}, err
	}
	rc.logger.Info("guess submitted", "round", r.RoundNumber, "score", result.FinalScore,
		"distance_km", result.DistanceKm, "both_submitted", sr.BothSubmitted)

	out := Submitted{Score: result, BothSubmitted: sr.BothSubmitted}
	if sr.BothSubmitted {
		res, err := rc.resolver.Resolve(ctx, rc.matchID)
		if err != nil {
			// The poller or the janitor retries resolution.
			rc.logger.Warn("resolving round", "round", r.RoundNumber, "error", err)
		} else {
			out.Resolution = &res
		}
	}
	return out, nil
}

// AutoSubmit submits an empty guess at the origin with the year and clues
// selected so far. It runs when the countdown reaches zero.
func (rc *RoundController) AutoSubmit(ctx context.Context, r battle.Round, p battle.Puzzle) (Submitted, error) {
	rc.logger.Info("time expired, submitting empty guess", "round", r.RoundNumber)
	return rc.Submit(ctx, r, p, battle.Guess{Year: rc.selectedYear(r.ID), CluesUsed: rc.CluesUsed(r.ID)})
}

// Tick reacts to a fresh poll: it auto-submits an expired round and
// resolves a round whose submissions are both in. Pass it to
// poller.WithOnChange.
func (rc *RoundController) Tick(ctx context.Context, snap poller.Snapshot) {
	if snap.Err != nil || snap.Round == nil || snap.Match.Status != battle.MatchActive {
		return
	}
	r := *snap.Round
	slot := snap.Match.Slot(rc.playerID)
	if slot == 0 || r.Status != battle.RoundActive {
		if r.Status == battle.RoundCompleted {
			rc.resolve(ctx)
		}
		return
	}

	if !r.Side(slot).Submitted() && !rc.gw.Submitted(r.ID, rc.playerID) && rc.Remaining(r) == 0 && snap.Puzzle != nil {
		if _, err := rc.AutoSubmit(ctx, r, *snap.Puzzle); err != nil && !battle.IsRejection(err) {
			rc.logger.Warn("auto submit", "round", r.RoundNumber, "error", err)
		}
		return
	}
	if r.BothSubmitted() {
		rc.resolve(ctx)
	}
}

func (rc *RoundController) resolve(ctx context.Context) {
	if _, err := rc.resolver.Resolve(ctx, rc.matchID); err != nil {
		rc.logger.Warn("resolving round", "error", err)
	}
}
