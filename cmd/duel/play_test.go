package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/config"
	"github.com/gabrieltornquist7/history-clue/internal/gateway"
	"github.com/gabrieltornquist7/history-clue/internal/handler/feed"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
	"github.com/gabrieltornquist7/history-clue/internal/scoring"
	"github.com/gabrieltornquist7/history-clue/internal/server"
	"github.com/gabrieltornquist7/history-clue/internal/store/storetest"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var inviteLine = regexp.MustCompile(`invite code: ([A-Z0-9]+)`)

func (b *lockedBuffer) waitForCode(t *testing.T) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m := inviteLine.FindStringSubmatch(b.String()); m != nil {
			return m[1]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("host never printed an invite code")
	return ""
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := realtime.NewHub()
	st := storetest.New(t, hub)
	srv := server.New(":0", logger, func(r chi.Router) {
		r.Mount("/realtime", feed.NewHandler(hub, logger).Routes())
		r.Mount("/api", server.Routes(st, logger, "http://localhost"))
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newTestSession(t *testing.T, baseURL, player string, out io.Writer) *session {
	t.Helper()
	cfg := &duelConfig{
		server:        baseURL,
		player:        player,
		clues:         2,
		think:         10 * time.Millisecond,
		accuracyKm:    100,
		yearSpread:    20,
		pollInterval:  50 * time.Millisecond,
		searchTimeout: 5 * time.Second,
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	client := &config.Client{Scoring: scoring.DefaultConfig(), Timing: battle.DefaultTiming}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := newSession(cfg, client, gateway.NewHTTPBackend(baseURL, nil), realtime.NewWSTransport(baseURL, nil), logger, out)
	t.Cleanup(s.close)
	return s
}

func TestHostAndJoinPlayFullMatch(t *testing.T) {
	ts := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var aliceOut, bobOut lockedBuffer
	alice := newTestSession(t, ts.URL, "alice", &aliceOut)
	bob := newTestSession(t, ts.URL, "bob", &bobOut)

	type result struct {
		m   battle.Match
		err error
	}
	results := make(chan result, 2)

	go func() {
		id, err := alice.host(ctx)
		if err != nil {
			results <- result{err: err}
			return
		}
		m, err := alice.play(ctx, id)
		results <- result{m, err}
	}()

	code := aliceOut.waitForCode(t)
	go func() {
		id, err := bob.join(ctx, strings.ToLower(code))
		if err != nil {
			results <- result{err: err}
			return
		}
		m, err := bob.play(ctx, id)
		results <- result{m, err}
	}()

	var final []battle.Match
	for range 2 {
		r := <-results
		if r.err != nil {
			t.Fatalf("play: %v", r.err)
		}
		final = append(final, r.m)
	}

	for _, m := range final {
		if m.Status != battle.MatchCompleted {
			t.Errorf("match status = %s, want completed", m.Status)
		}
	}
	if final[0].ID != final[1].ID || final[0].WinnerID != final[1].WinnerID {
		t.Errorf("players disagree on the result: %+v vs %+v", final[0], final[1])
	}

	rounds, err := gateway.NewHTTPBackend(ts.URL, nil).ListRounds(ctx, final[0].ID)
	if err != nil {
		t.Fatalf("list rounds: %v", err)
	}
	if len(rounds) != battle.RoundsPerMatch {
		t.Fatalf("rounds = %d, want %d", len(rounds), battle.RoundsPerMatch)
	}
	for _, r := range rounds {
		if r.Status != battle.RoundCompleted {
			t.Errorf("round %d status = %s", r.RoundNumber, r.Status)
		}
		if len(r.Player1.CluesUsed) != 2 || len(r.Player2.CluesUsed) != 2 {
			t.Errorf("round %d clues = %v / %v, want two each", r.RoundNumber, r.Player1.CluesUsed, r.Player2.CluesUsed)
		}
	}

	for name, out := range map[string]string{"alice": aliceOut.String(), "bob": bobOut.String()} {
		if !strings.Contains(out, "round 3") {
			t.Errorf("%s output missing round 3:\n%s", name, out)
		}
		for n := 1; n <= battle.RoundsPerMatch; n++ {
			line := regexp.MustCompile(fmt.Sprintf(`round %d (won|lost|drawn): \d+ to \d+`, n))
			if !line.MatchString(out) {
				t.Errorf("%s output missing round %d result:\n%s", name, n, out)
			}
		}
		if !regexp.MustCompile(`you (won|lost)|match tied`).MatchString(out) {
			t.Errorf("%s output missing result:\n%s", name, out)
		}
	}
}

func TestDestination(t *testing.T) {
	tests := []struct {
		lat, lng, dist, bearing float64
	}{
		{41.9, 12.5, 0, 0},
		{41.9, 12.5, 250, math.Pi / 3},
		{-13.5, -71.97, 1000, math.Pi},
		{64.1, 179.9, 80, math.Pi / 2},
	}
	for _, tt := range tests {
		lat, lng := destination(tt.lat, tt.lng, tt.dist, tt.bearing)
		if lng < -180 || lng > 180 {
			t.Errorf("lng %v out of range", lng)
		}
		got := scoring.Haversine(tt.lat, tt.lng, lat, lng)
		if math.Abs(got-tt.dist) > 0.5 {
			t.Errorf("destination(%v, %v, %v) is %.2f km away", tt.lat, tt.lng, tt.dist, got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     duelConfig
		wantErr bool
	}{
		{"defaults", duelConfig{server: "http://x", clues: 2, pollInterval: time.Second}, false},
		{"no server", duelConfig{clues: 2, pollInterval: time.Second}, true},
		{"too many clues", duelConfig{server: "http://x", clues: 6, pollInterval: time.Second}, true},
		{"negative accuracy", duelConfig{server: "http://x", clues: 1, accuracyKm: -1, pollInterval: time.Second}, true},
		{"zero poll", duelConfig{server: "http://x", clues: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !strings.HasPrefix(tt.cfg.player, "bot-") {
				t.Errorf("player = %q, want generated id", tt.cfg.player)
			}
		})
	}
}
