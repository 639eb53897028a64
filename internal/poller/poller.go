// Package poller keeps a local snapshot of one match fresh by fetching it
// on a fixed interval and whenever a realtime hint arrives.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/gateway"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
)

const DefaultInterval = 2 * time.Second

// Fetcher reads the authoritative match state.
type Fetcher interface {
	FetchMatchState(ctx context.Context, matchID string) (gateway.MatchState, error)
}

// Subscriber is the part of realtime.Manager the poller listens on.
type Subscriber interface {
	Subscribe(topic string, fn realtime.Listener) func()
	SubscribeBattle(topic, battleID string, fn realtime.Listener) func()
}

// Snapshot is the latest view of the match. After a failed fetch it keeps
// the last good data and sets Err.
type Snapshot struct {
	Match     battle.Match
	Round     *battle.Round
	Puzzle    *battle.Puzzle
	Loading   bool
	Err       error
	FetchedAt time.Time
}

type Poller struct {
	fetch    Fetcher
	matchID  string
	interval time.Duration
	logger   *slog.Logger
	onChange func(Snapshot)

	mu   sync.RWMutex
	snap Snapshot

	wake chan struct{}

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	unfollow  []func()
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithOnChange registers fn to run after every fetch, on the poll
// goroutine.
func WithOnChange(fn func(Snapshot)) Option {
	return func(p *Poller) { p.onChange = fn }
}

func New(fetch Fetcher, matchID string, logger *slog.Logger, opts ...Option) *Poller {
	p := &Poller{
		fetch:    fetch,
		matchID:  matchID,
		interval: DefaultInterval,
		logger:   logger,
		snap:     Snapshot{Loading: true},
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start fetches immediately and then on every interval until Stop or ctx
// is done. Starting a running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-p.wake:
		}
		p.poll(ctx)
	}
}

func (p *Poller) poll(ctx context.Context) {
	st, err := p.fetch.FetchMatchState(ctx, p.matchID)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	p.snap.Loading = false
	p.snap.FetchedAt = time.Now()
	if err != nil {
		p.snap.Err = err
	} else {
		p.snap.Match = st.Match
		p.snap.Round = st.Round
		p.snap.Puzzle = st.Puzzle
		p.snap.Err = nil
	}
	snap := p.snap
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("polling match failed", "battle_id", p.matchID, "error", err)
	}
	if p.onChange != nil {
		p.onChange(snap)
	}
}

// Refresh asks for a fetch now. Requests made while one is pending are
// coalesced.
func (p *Poller) Refresh() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Follow refreshes on any change to this match's rows or broadcasts.
func (p *Poller) Follow(sub Subscriber) {
	refresh := func(realtime.Event) { p.Refresh() }
	unsubs := []func(){
		sub.SubscribeBattle(realtime.TopicBattles, p.matchID, refresh),
		sub.SubscribeBattle(realtime.TopicRounds, p.matchID, refresh),
		sub.Subscribe(realtime.BattleTopic(p.matchID), refresh),
	}
	p.lifecycle.Lock()
	p.unfollow = append(p.unfollow, unsubs...)
	p.lifecycle.Unlock()
}

// Stop releases realtime listeners, cancels the loop and waits for it to
// exit. It is safe to call more than once.
func (p *Poller) Stop() {
	p.lifecycle.Lock()
	unfollow := p.unfollow
	p.unfollow = nil
	cancel, done := p.cancel, p.done
	p.lifecycle.Unlock()

	for _, u := range unfollow {
		u()
	}
	if cancel != nil {
		cancel()
		<-done
	}
}
