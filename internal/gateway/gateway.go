// Package gateway is the client's only path to battle persistence. It wraps
// a Backend, separating transient remote failures (battle.BackendError)
// from logical rejections, and guards against double submission.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
)

// Backend is the authoritative battle service. The libSQL store implements
// it in-process and HTTPBackend implements it over the service API.
type Backend interface {
	CreateBattle(ctx context.Context, playerID string) (battle.Created, error)
	JoinBattle(ctx context.Context, code, playerID string) (battle.Joined, error)
	SubmitBattleGuess(ctx context.Context, sub battle.Submission) error

	GetBattle(ctx context.Context, id string) (battle.Match, error)
	GetCurrentRound(ctx context.Context, battleID string) (battle.Round, error)
	GetRound(ctx context.Context, id string) (battle.Round, error)
	GetPuzzle(ctx context.Context, id string) (battle.Puzzle, error)
	ListRounds(ctx context.Context, battleID string) ([]battle.Round, error)

	CompleteRound(ctx context.Context, roundID, winnerID string) (bool, error)
	StartRound(ctx context.Context, battleID string, n int) (battle.Round, bool, error)
	CompleteBattle(ctx context.Context, battleID, winnerID string) (bool, error)

	Enqueue(ctx context.Context, playerID string) (battle.QueueEntry, error)
	ListWaiting(ctx context.Context) ([]battle.QueueEntry, error)
	Dequeue(ctx context.Context, playerID string) error
	ClaimOpponent(ctx context.Context, claimerID, opponentID string) (battle.Joined, error)
	FindMatchFor(ctx context.Context, playerID string, since time.Time) (battle.Match, error)
}

type Gateway struct {
	backend Backend
	logger  *slog.Logger

	mu        sync.Mutex
	submitted map[submitKey]struct{}
}

type submitKey struct {
	roundID  string
	playerID string
}

func New(backend Backend, logger *slog.Logger) *Gateway {
	return &Gateway{
		backend:   backend,
		logger:    logger,
		submitted: make(map[submitKey]struct{}),
	}
}

// wrap passes rejections through and marks everything else transient.
func wrap(op string, err error) error {
	if err == nil || battle.IsRejection(err) {
		return err
	}
	return &battle.BackendError{Op: op, Err: err}
}

// CreateMatch opens a waiting match hosted by playerID.
func (g *Gateway) CreateMatch(ctx context.Context, playerID string) (battle.Created, error) {
	c, err := g.backend.CreateBattle(ctx, playerID)
	return c, wrap("create match", err)
}

// JoinMatch validates the invite code locally, then joins. A malformed code
// never reaches the backend.
func (g *Gateway) JoinMatch(ctx context.Context, inviteCode, playerID string) (battle.Joined, error) {
	code, err := battle.NormalizeInviteCode(inviteCode)
	if err != nil {
		return battle.Joined{}, err
	}
	j, err := g.backend.JoinBattle(ctx, code, playerID)
	return j, wrap("join match", err)
}

type SubmitResult struct {
	Success       bool `json:"success"`
	BothSubmitted bool `json:"bothSubmitted"`
}

// SubmitGuess records a scored guess at most once per round and player. A
// repeat call fails with battle.ErrAlreadySubmitted without contacting the
// backend; a transient failure releases the guard so the caller may retry.
func (g *Gateway) SubmitGuess(ctx context.Context, sub battle.Submission) (SubmitResult, error) {
	key := submitKey{sub.RoundID, sub.PlayerID}
	g.mu.Lock()
	if _, dup := g.submitted[key]; dup {
		g.mu.Unlock()
		return SubmitResult{}, battle.ErrAlreadySubmitted
	}
	g.submitted[key] = struct{}{}
	g.mu.Unlock()

	if err := g.backend.SubmitBattleGuess(ctx, sub); err != nil {
		if !errors.Is(err, battle.ErrAlreadySubmitted) {
			g.mu.Lock()
			delete(g.submitted, key)
			g.mu.Unlock()
		}
		return SubmitResult{}, wrap("submit guess", err)
	}

	res := SubmitResult{Success: true}
	r, err := g.backend.GetRound(ctx, sub.RoundID)
	if err != nil {
		g.logger.Warn("reading round after submit", "round_id", sub.RoundID, "error", err)
		return res, nil
	}
	res.BothSubmitted = r.BothSubmitted()
	return res, nil
}

// Submitted reports whether this client already submitted for the round.
func (g *Gateway) Submitted(roundID, playerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.submitted[submitKey{roundID, playerID}]
	return ok
}

// MatchState is one poll's view of a match. Round and Puzzle are nil before
// the match starts.
type MatchState struct {
	Match  battle.Match   `json:"match"`
	Round  *battle.Round  `json:"currentRound,omitempty"`
	Puzzle *battle.Puzzle `json:"puzzle,omitempty"`
}

// FetchMatchState reads the match, its current round and that round's
// puzzle. A missing current round is not an error.
func (g *Gateway) FetchMatchState(ctx context.Context, matchID string) (MatchState, error) {
	var st MatchState
	m, err := g.backend.GetBattle(ctx, matchID)
	if err != nil {
		return st, wrap("fetch match", err)
	}
	st.Match = m

	r, err := g.backend.GetCurrentRound(ctx, matchID)
	if errors.Is(err, battle.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, wrap("fetch current round", err)
	}
	st.Round = &r

	p, err := g.backend.GetPuzzle(ctx, r.PuzzleID)
	if err != nil {
		return st, wrap("fetch puzzle", err)
	}
	st.Puzzle = &p
	return st, nil
}

// FetchRound reads one round as the backend has it now.
func (g *Gateway) FetchRound(ctx context.Context, roundID string) (battle.Round, error) {
	r, err := g.backend.GetRound(ctx, roundID)
	return r, wrap("fetch round", err)
}

// FetchAllRounds returns every round of the match in order.
func (g *Gateway) FetchAllRounds(ctx context.Context, matchID string) ([]battle.Round, error) {
	rounds, err := g.backend.ListRounds(ctx, matchID)
	return rounds, wrap("fetch rounds", err)
}

type Summary struct {
	Match  battle.Match   `json:"match"`
	Rounds []battle.Round `json:"rounds"`
}

// FetchSummary reads the match and all of its rounds concurrently.
func (g *Gateway) FetchSummary(ctx context.Context, matchID string) (Summary, error) {
	var s Summary
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		m, err := g.backend.GetBattle(ctx, matchID)
		s.Match = m
		return wrap("fetch match", err)
	})
	eg.Go(func() error {
		rounds, err := g.backend.ListRounds(ctx, matchID)
		s.Rounds = rounds
		return wrap("fetch rounds", err)
	})
	return s, eg.Wait()
}

// CompleteRound resolves a round. It reports false if it was already
// resolved.
func (g *Gateway) CompleteRound(ctx context.Context, roundID, winnerID string) (bool, error) {
	ok, err := g.backend.CompleteRound(ctx, roundID, winnerID)
	return ok, wrap("complete round", err)
}

// StartRound creates round n, or returns it if it already exists.
func (g *Gateway) StartRound(ctx context.Context, matchID string, n int) (battle.Round, bool, error) {
	r, created, err := g.backend.StartRound(ctx, matchID, n)
	return r, created, wrap("start round", err)
}

// CompleteMatch marks the match completed. winnerID is empty for a tie.
func (g *Gateway) CompleteMatch(ctx context.Context, matchID, winnerID string) (bool, error) {
	ok, err := g.backend.CompleteBattle(ctx, matchID, winnerID)
	return ok, wrap("complete match", err)
}

// Enqueue joins the matchmaking pool. The returned entry carries the
// backend's enqueue time.
func (g *Gateway) Enqueue(ctx context.Context, playerID string) (battle.QueueEntry, error) {
	e, err := g.backend.Enqueue(ctx, playerID)
	return e, wrap("enqueue", err)
}

func (g *Gateway) ListWaiting(ctx context.Context) ([]battle.QueueEntry, error) {
	entries, err := g.backend.ListWaiting(ctx)
	return entries, wrap("list queue", err)
}

func (g *Gateway) Dequeue(ctx context.Context, playerID string) error {
	return wrap("dequeue", g.backend.Dequeue(ctx, playerID))
}

// ClaimOpponent pairs claimer with a waiting opponent. battle.ErrClaimLost
// means someone else claimed first.
func (g *Gateway) ClaimOpponent(ctx context.Context, claimerID, opponentID string) (battle.Joined, error) {
	j, err := g.backend.ClaimOpponent(ctx, claimerID, opponentID)
	return j, wrap("claim opponent", err)
}

// FindMatchFor returns an active match for playerID started at or after
// since, or battle.ErrNotFound.
func (g *Gateway) FindMatchFor(ctx context.Context, playerID string, since time.Time) (battle.Match, error) {
	m, err := g.backend.FindMatchFor(ctx, playerID, since)
	return m, wrap("find match", err)
}
