// Package lobby drives a player from the lobby into a live match: hosting
// by invite code, joining by code, random matchmaking, per-round play and
// round/match resolution.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/gateway"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
)

// Gateway is the persistence surface the lobby needs. *gateway.Gateway
// implements it.
type Gateway interface {
	CreateMatch(ctx context.Context, playerID string) (battle.Created, error)
	JoinMatch(ctx context.Context, inviteCode, playerID string) (battle.Joined, error)
	SubmitGuess(ctx context.Context, sub battle.Submission) (gateway.SubmitResult, error)
	Submitted(roundID, playerID string) bool

	FetchMatchState(ctx context.Context, matchID string) (gateway.MatchState, error)
	FetchRound(ctx context.Context, roundID string) (battle.Round, error)
	FetchAllRounds(ctx context.Context, matchID string) ([]battle.Round, error)

	CompleteRound(ctx context.Context, roundID, winnerID string) (bool, error)
	StartRound(ctx context.Context, matchID string, n int) (battle.Round, bool, error)
	CompleteMatch(ctx context.Context, matchID, winnerID string) (bool, error)

	Enqueue(ctx context.Context, playerID string) (battle.QueueEntry, error)
	ListWaiting(ctx context.Context) ([]battle.QueueEntry, error)
	Dequeue(ctx context.Context, playerID string) error
	ClaimOpponent(ctx context.Context, claimerID, opponentID string) (battle.Joined, error)
	FindMatchFor(ctx context.Context, playerID string, since time.Time) (battle.Match, error)
}

type State string

const (
	StateIdle       State = "idle"
	StateCreating   State = "creating"
	StateWaiting    State = "waiting"
	StateJoined     State = "joined"
	StateActive     State = "active"
	StateValidating State = "validating"
	StateJoining    State = "joining"
	StateSearching  State = "searching"
)

var (
	ErrBusy          = errors.New("lobby is busy")
	ErrSearchTimeout = errors.New("no opponent found")
)

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultSearchTimeout = 30 * time.Second
)

type Controller struct {
	gw            Gateway
	playerID      string
	logger        *slog.Logger
	events        Subscriber
	pollInterval  time.Duration
	searchTimeout time.Duration
	onState       func(State)

	mu      sync.Mutex
	state   State
	matchID string
	code    string
}

// Subscriber lets the lobby wake early on realtime hints.
type Subscriber interface {
	SubscribeBattle(topic, battleID string, fn realtime.Listener) func()
}

type Option func(*Controller)

func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

func WithSearchTimeout(d time.Duration) Option {
	return func(c *Controller) { c.searchTimeout = d }
}

// WithEvents wakes the opponent wait as soon as the battle row changes.
func WithEvents(s Subscriber) Option {
	return func(c *Controller) { c.events = s }
}

// WithStateHook calls fn after every state change.
func WithStateHook(fn func(State)) Option {
	return func(c *Controller) { c.onState = fn }
}

func NewController(gw Gateway, playerID string, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		gw:            gw,
		playerID:      playerID,
		logger:        logger.With("player_id", playerID),
		pollInterval:  DefaultPollInterval,
		searchTimeout: DefaultSearchTimeout,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MatchID returns the match the controller is hosting or playing.
func (c *Controller) MatchID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchID
}

// InviteCode returns the code of a hosted match.
func (c *Controller) InviteCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// begin moves from idle to next, failing with ErrBusy otherwise.
func (c *Controller) begin(next State) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, state)
	}
	c.state = next
	c.mu.Unlock()
	c.notify(next)
	return nil
}

func (c *Controller) set(next State) {
	c.mu.Lock()
	c.state = next
	if next == StateIdle {
		c.matchID, c.code = "", ""
	}
	c.mu.Unlock()
	c.notify(next)
}

func (c *Controller) notify(s State) {
	c.logger.Debug("lobby state", "state", s)
	if c.onState != nil {
		c.onState(s)
	}
}

// Reset returns an idle controller so the player can start over.
func (c *Controller) Reset() { c.set(StateIdle) }

// Host creates a match and leaves the controller waiting for an opponent.
func (c *Controller) Host(ctx context.Context) (battle.Created, error) {
	if err := c.begin(StateCreating); err != nil {
		return battle.Created{}, err
	}
	created, err := c.gw.CreateMatch(ctx, c.playerID)
	if err != nil {
		c.set(StateIdle)
		return battle.Created{}, err
	}
	c.mu.Lock()
	c.matchID, c.code = created.MatchID, created.InviteCode
	c.mu.Unlock()
	c.set(StateWaiting)
	c.logger.Info("match hosted", "battle_id", created.MatchID, "invite_code", created.InviteCode)
	return created, nil
}

// WaitForOpponent polls the hosted match until a second player joins, then
// moves through joined to active. Transient fetch failures are retried; a
// rejection such as the match having been cleaned up ends the wait.
func (c *Controller) WaitForOpponent(ctx context.Context) (battle.Match, error) {
	matchID := c.MatchID()
	if c.State() != StateWaiting || matchID == "" {
		return battle.Match{}, fmt.Errorf("%w: not hosting", ErrBusy)
	}

	wake := make(chan struct{}, 1)
	if c.events != nil {
		unsub := c.events.SubscribeBattle(realtime.TopicBattles, matchID, func(realtime.Event) {
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		defer unsub()
	}

	t := time.NewTicker(c.pollInterval)
	defer t.Stop()
	for {
		st, err := c.gw.FetchMatchState(ctx, matchID)
		switch {
		case err == nil && st.Match.Full():
			c.set(StateJoined)
			c.set(StateActive)
			c.logger.Info("opponent joined", "battle_id", matchID, "opponent_id", st.Match.Player2ID)
			return st.Match, nil
		case battle.IsRejection(err):
			c.set(StateIdle)
			return battle.Match{}, err
		case err != nil:
			c.logger.Warn("waiting for opponent", "battle_id", matchID, "error", err)
		}

		select {
		case <-ctx.Done():
			return battle.Match{}, ctx.Err()
		case <-t.C:
		case <-wake:
		}
	}
}

// Join validates code locally and joins the match behind it.
func (c *Controller) Join(ctx context.Context, code string) (battle.Joined, error) {
	if err := c.begin(StateValidating); err != nil {
		return battle.Joined{}, err
	}
	normalized, err := battle.NormalizeInviteCode(code)
	if err != nil {
		c.set(StateIdle)
		return battle.Joined{}, err
	}

	c.set(StateJoining)
	joined, err := c.gw.JoinMatch(ctx, normalized, c.playerID)
	if err != nil {
		c.set(StateIdle)
		return battle.Joined{}, err
	}
	c.mu.Lock()
	c.matchID = joined.MatchID
	c.mu.Unlock()
	c.set(StateActive)
	c.logger.Info("match joined", "battle_id", joined.MatchID)
	return joined, nil
}
