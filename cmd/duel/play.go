package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/config"
	"github.com/gabrieltornquist7/history-clue/internal/gateway"
	"github.com/gabrieltornquist7/history-clue/internal/lobby"
	"github.com/gabrieltornquist7/history-clue/internal/poller"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
	"github.com/gabrieltornquist7/history-clue/internal/scoring"
)

// session is one player's connection to the battle service.
type session struct {
	cfg    *duelConfig
	client *config.Client
	gw     *gateway.Gateway
	events *realtime.Manager
	logger *slog.Logger
	out    io.Writer
}

func runSession(cmd *cobra.Command, cfg *duelConfig, start func(*session) (string, error)) error {
	client, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	s := newSession(cfg, client, gateway.NewHTTPBackend(cfg.server, nil),
		realtime.NewWSTransport(cfg.server, nil), logger, cmd.OutOrStdout())
	defer s.close()

	matchID, err := start(s)
	if err != nil {
		return err
	}
	_, err = s.play(cmd.Context(), matchID)
	return err
}

func newSession(cfg *duelConfig, client *config.Client, backend gateway.Backend, transport realtime.Transport, logger *slog.Logger, out io.Writer) *session {
	logger = logger.With("player_id", cfg.player)
	return &session{
		cfg:    cfg,
		client: client,
		gw:     gateway.New(backend, logger),
		events: realtime.NewManager(transport, logger),
		logger: logger,
		out:    out,
	}
}

func (s *session) close() { s.events.Close() }

func (s *session) lobby() *lobby.Controller {
	return lobby.NewController(s.gw, s.cfg.player, s.logger,
		lobby.WithEvents(s.events),
		lobby.WithPollInterval(s.cfg.pollInterval),
		lobby.WithSearchTimeout(s.cfg.searchTimeout),
	)
}

func (s *session) host(ctx context.Context) (string, error) {
	ctrl := s.lobby()
	created, err := ctrl.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("creating battle: %s", battle.Message(err))
	}
	fmt.Fprintf(s.out, "invite code: %s\n", created.InviteCode)

	m, err := ctrl.WaitForOpponent(ctx)
	if err != nil {
		return "", fmt.Errorf("waiting for opponent: %w", err)
	}
	fmt.Fprintf(s.out, "%s joined\n", m.Opponent(s.cfg.player))
	return m.ID, nil
}

func (s *session) join(ctx context.Context, code string) (string, error) {
	joined, err := s.lobby().Join(ctx, code)
	if err != nil {
		return "", fmt.Errorf("joining battle: %s", battle.Message(err))
	}
	fmt.Fprintf(s.out, "joined battle %s\n", joined.MatchID)
	return joined.MatchID, nil
}

func (s *session) search(ctx context.Context) (string, error) {
	fmt.Fprintln(s.out, "searching for an opponent...")
	joined, err := s.lobby().Search(ctx)
	if err != nil {
		if errors.Is(err, lobby.ErrSearchTimeout) {
			return "", errors.New("no opponent found, try again later")
		}
		return "", fmt.Errorf("matchmaking: %w", err)
	}
	fmt.Fprintf(s.out, "matched into battle %s\n", joined.MatchID)
	return joined.MatchID, nil
}

// play drives the match until it completes and returns the final row.
func (s *session) play(ctx context.Context, matchID string) (battle.Match, error) {
	resolver := lobby.NewResolver(s.gw, s.events, s.logger)
	rc := lobby.NewRoundController(s.gw, resolver, s.cfg.player, matchID, s.logger,
		lobby.WithEngine(scoring.NewEngine(s.client.Scoring)),
		lobby.WithTiming(s.client.Timing),
		lobby.WithClueBroadcast(s.events),
	)
	b := newBot(rc, s.cfg, s.out, s.logger)
	defer b.wait()

	finished := make(chan battle.Match, 1)
	p := poller.New(s.gw, matchID, s.logger,
		poller.WithInterval(s.cfg.pollInterval),
		poller.WithOnChange(func(snap poller.Snapshot) {
			if snap.Err == nil && snap.Match.Status == battle.MatchCompleted {
				select {
				case finished <- snap.Match:
				default:
				}
				return
			}
			rc.Tick(ctx, snap)
			b.consider(ctx, snap)
		}),
	)
	p.Follow(s.events)
	p.Start(ctx)
	defer p.Stop()

	select {
	case m := <-finished:
		s.report(ctx, m)
		return m, nil
	case <-ctx.Done():
		return battle.Match{}, ctx.Err()
	}
}

// report prints each round's points and the final result. It falls back
// to the totals alone when the round history cannot be read.
func (s *session) report(ctx context.Context, m battle.Match) {
	var rounds []battle.Round
	if summary, err := s.gw.FetchSummary(ctx, m.ID); err != nil {
		s.logger.Warn("fetching match summary", "error", err)
	} else {
		m, rounds = summary.Match, summary.Rounds
	}
	slot := m.Slot(s.cfg.player)
	for _, r := range rounds {
		mine, theirs := r.Player1.Points(), r.Player2.Points()
		if slot == 2 {
			mine, theirs = theirs, mine
		}
		result := "lost"
		switch r.WinnerID {
		case "":
			result = "drawn"
		case s.cfg.player:
			result = "won"
		}
		fmt.Fprintf(s.out, "round %d %s: %d to %d\n", r.RoundNumber, result, mine, theirs)
	}

	mine, theirs := m.Player1Score, m.Player2Score
	if slot == 2 {
		mine, theirs = theirs, mine
	}
	switch {
	case m.Tie():
		fmt.Fprintf(s.out, "match tied (%d to %d)\n", mine, theirs)
	case m.WinnerID == s.cfg.player:
		fmt.Fprintf(s.out, "you won (%d to %d)\n", mine, theirs)
	default:
		fmt.Fprintf(s.out, "you lost (%d to %d)\n", mine, theirs)
	}
}

// bot plays rounds: it reveals a fixed number of clues, waits, and guesses
// somewhere near the answer.
type bot struct {
	rc     *lobby.RoundController
	cfg    *duelConfig
	out    io.Writer
	logger *slog.Logger

	mu   sync.Mutex
	rng  *rand.Rand
	seen map[string]bool
	wg   sync.WaitGroup
}

func newBot(rc *lobby.RoundController, cfg *duelConfig, out io.Writer, logger *slog.Logger) *bot {
	return &bot{
		rc:     rc,
		cfg:    cfg,
		out:    out,
		logger: logger,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		seen:   make(map[string]bool),
	}
}

// consider starts playing the snapshot's round once.
func (b *bot) consider(ctx context.Context, snap poller.Snapshot) {
	if snap.Err != nil || snap.Round == nil || snap.Puzzle == nil || snap.Match.Status != battle.MatchActive {
		return
	}
	r, p := *snap.Round, *snap.Puzzle
	slot := snap.Match.Slot(b.cfg.player)
	if slot == 0 || r.Status != battle.RoundActive || r.Side(slot).Submitted() {
		return
	}

	b.mu.Lock()
	if b.seen[r.ID] {
		b.mu.Unlock()
		return
	}
	b.seen[r.ID] = true
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.playRound(ctx, r, p)
	}()
}

func (b *bot) playRound(ctx context.Context, r battle.Round, p battle.Puzzle) {
	fmt.Fprintf(b.out, "round %d\n", r.RoundNumber)
	if len(p.Clues) > 0 {
		fmt.Fprintf(b.out, "  clue 1: %s\n", p.Clues[0])
	}
	for n := 2; n <= b.cfg.clues && n <= len(p.Clues); n++ {
		b.rc.RevealClue(ctx, r, p, n)
		fmt.Fprintf(b.out, "  clue %d: %s\n", n, p.Clues[n-1])
	}

	g := b.guess(p)
	b.rc.SelectYear(r.ID, g.Year)

	select {
	case <-ctx.Done():
		return
	case <-time.After(b.cfg.think):
	}

	res, err := b.rc.Submit(ctx, r, p, g)
	switch {
	case errors.Is(err, battle.ErrAlreadySubmitted):
		return
	case err != nil:
		b.logger.Warn("submitting guess", "round", r.RoundNumber, "error", err)
		// Allow a later snapshot to retry unless the round moved on.
		if battle.IsTransient(err) {
			b.mu.Lock()
			delete(b.seen, r.ID)
			b.mu.Unlock()
		}
		return
	}
	fmt.Fprintf(b.out, "  guessed %.0f km and %d years off for %d points\n",
		res.Score.DistanceKm, res.Score.YearDiff, res.Score.FinalScore)
}

func (b *bot) wait() { b.wg.Wait() }

func (b *bot) guess(p battle.Puzzle) battle.Guess {
	b.mu.Lock()
	dist := b.rng.Float64() * b.cfg.accuracyKm
	bearing := b.rng.Float64() * 2 * math.Pi
	year := p.Year
	if b.cfg.yearSpread > 0 {
		year += b.rng.IntN(2*b.cfg.yearSpread+1) - b.cfg.yearSpread
	}
	b.mu.Unlock()

	lat, lng := destination(p.Lat, p.Lng, dist, bearing)
	return battle.Guess{Lat: lat, Lng: lng, Year: year}
}

const earthRadiusKm = 6371.0

// destination is the point distKm from (lat, lng) along bearing, in radians
// clockwise from north.
func destination(lat, lng, distKm, bearing float64) (float64, float64) {
	lat1 := lat * math.Pi / 180
	lng1 := lng * math.Pi / 180
	ang := distKm / earthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(bearing))
	lng2 := lng1 + math.Atan2(math.Sin(bearing)*math.Sin(ang)*math.Cos(lat1), math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2))

	return lat2 * 180 / math.Pi, math.Mod(lng2*180/math.Pi+540, 360) - 180
}
