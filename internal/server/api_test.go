package server_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/gateway"
	"github.com/gabrieltornquist7/history-clue/internal/server"
	"github.com/gabrieltornquist7/history-clue/internal/store"
	"github.com/gabrieltornquist7/history-clue/internal/store/storetest"
)

func newTestServer(t *testing.T) (*store.Store, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := storetest.New(t, nil)
	srv := server.New(":0", logger, func(r chi.Router) {
		r.Mount("/api", server.Routes(s, logger, "https://play.example.com"))
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHTTPBackendPlaysRound(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()
	b := gateway.NewHTTPBackend(ts.URL, ts.Client())

	created, err := b.CreateBattle(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(created.InviteCode) != battle.InviteCodeLength {
		t.Fatalf("invite code = %q", created.InviteCode)
	}

	joined, err := b.JoinBattle(ctx, strings.ToLower(created.InviteCode), "bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.MatchID != created.MatchID || joined.PuzzleID == "" {
		t.Fatalf("joined = %+v, created = %+v", joined, created)
	}

	round, err := b.GetCurrentRound(ctx, created.MatchID)
	if err != nil {
		t.Fatalf("current round: %v", err)
	}
	if round.RoundNumber != 1 || round.Status != battle.RoundActive {
		t.Fatalf("round = %+v", round)
	}
	if _, err := b.GetPuzzle(ctx, round.PuzzleID); err != nil {
		t.Fatalf("puzzle: %v", err)
	}

	for player, score := range map[string]int{"alice": 4200, "bob": 3100} {
		err := b.SubmitBattleGuess(ctx, battle.Submission{
			RoundID: round.ID, PlayerID: player, Score: score, CluesUsed: []int{1, 2},
		})
		if err != nil {
			t.Fatalf("submit %s: %v", player, err)
		}
	}

	err = b.SubmitBattleGuess(ctx, battle.Submission{RoundID: round.ID, PlayerID: "alice", Score: 1})
	if !errors.Is(err, battle.ErrAlreadySubmitted) {
		t.Fatalf("resubmit err = %v, want ErrAlreadySubmitted", err)
	}

	round, err = b.GetRound(ctx, round.ID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if !round.BothSubmitted() {
		t.Fatalf("round not fully submitted: %+v", round)
	}

	changed, err := b.CompleteRound(ctx, round.ID, "alice")
	if err != nil || !changed {
		t.Fatalf("complete round = %v, %v", changed, err)
	}
	if changed, err := b.CompleteRound(ctx, round.ID, "alice"); err != nil || changed {
		t.Fatalf("second complete = %v, %v, want false, nil", changed, err)
	}

	next, created2, err := b.StartRound(ctx, created.MatchID, 2)
	if err != nil || !created2 || next.RoundNumber != 2 {
		t.Fatalf("start round 2 = %+v, %v, %v", next, created2, err)
	}
	again, created2, err := b.StartRound(ctx, created.MatchID, 2)
	if err != nil || created2 || again.ID != next.ID {
		t.Fatalf("restart round 2 = %+v, %v, %v", again, created2, err)
	}

	rounds, err := b.ListRounds(ctx, created.MatchID)
	if err != nil || len(rounds) != 2 {
		t.Fatalf("rounds = %d, %v", len(rounds), err)
	}

	m, err := b.GetBattle(ctx, created.MatchID)
	if err != nil {
		t.Fatalf("get battle: %v", err)
	}
	if m.Player1Score != 4200 || m.Player2Score != 3100 || m.CurrentRound != 2 {
		t.Fatalf("battle = %+v", m)
	}

	if _, err := b.CompleteBattle(ctx, created.MatchID, "alice"); !errors.Is(err, battle.ErrStaleState) {
		t.Fatalf("complete battle mid match: err = %v, want ErrStaleState", err)
	}
	if _, _, err := b.StartRound(ctx, created.MatchID, 3); !errors.Is(err, battle.ErrStaleState) {
		t.Fatalf("start round 3 over active round 2: err = %v, want ErrStaleState", err)
	}
}

func TestHTTPBackendRejections(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()
	b := gateway.NewHTTPBackend(ts.URL, ts.Client())

	created, err := b.CreateBattle(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"unknown code", func() error {
			_, err := b.JoinBattle(ctx, "ZZZZZZ", "bob")
			return err
		}, battle.ErrInvalidInviteCode},
		{"own match", func() error {
			_, err := b.JoinBattle(ctx, created.InviteCode, "alice")
			return err
		}, battle.ErrOwnMatch},
		{"missing battle", func() error {
			_, err := b.GetBattle(ctx, "nope")
			return err
		}, battle.ErrNotFound},
		{"no round before start", func() error {
			_, err := b.GetCurrentRound(ctx, created.MatchID)
			return err
		}, battle.ErrNotFound},
		{"claim self", func() error {
			_, err := b.ClaimOpponent(ctx, "carol", "carol")
			return err
		}, battle.ErrOwnMatch},
		{"claim absent", func() error {
			_, err := b.ClaimOpponent(ctx, "carol", "dave")
			return err
		}, battle.ErrClaimLost},
		{"nobody claimed me", func() error {
			_, err := b.FindMatchFor(ctx, "erin", time.Now().Add(-time.Minute))
			return err
		}, battle.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := b.JoinBattle(ctx, created.InviteCode, "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := b.JoinBattle(ctx, created.InviteCode, "carol"); !errors.Is(err, battle.ErrMatchFull) {
		t.Errorf("third player err = %v, want ErrMatchFull", err)
	}
}

func TestHTTPBackendQueue(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()
	b := gateway.NewHTTPBackend(ts.URL, ts.Client())

	entries := map[string]battle.QueueEntry{}
	for _, p := range []string{"alice", "bob"} {
		e, err := b.Enqueue(ctx, p)
		if err != nil {
			t.Fatalf("enqueue %s: %v", p, err)
		}
		if e.PlayerID != p || e.EnqueuedAt.IsZero() {
			t.Fatalf("entry = %+v", e)
		}
		entries[p] = e
	}
	again, err := b.Enqueue(ctx, "bob")
	if err != nil || !again.EnqueuedAt.Equal(entries["bob"].EnqueuedAt) {
		t.Fatalf("re-enqueue = %+v, %v, want original time %v", again, err, entries["bob"].EnqueuedAt)
	}
	waiting, err := b.ListWaiting(ctx)
	if err != nil || len(waiting) != 2 {
		t.Fatalf("waiting = %v, %v", waiting, err)
	}

	joined, err := b.ClaimOpponent(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	m, err := b.FindMatchFor(ctx, "bob", entries["bob"].EnqueuedAt)
	if err != nil {
		t.Fatalf("find match: %v", err)
	}
	if m.ID != joined.MatchID || m.Status != battle.MatchActive {
		t.Fatalf("bob's match = %+v, want %s active", m, joined.MatchID)
	}

	if _, err := b.Enqueue(ctx, "carol"); err != nil {
		t.Fatalf("enqueue carol: %v", err)
	}
	if err := b.Dequeue(ctx, "carol"); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if waiting, _ := b.ListWaiting(ctx); len(waiting) != 0 {
		t.Fatalf("queue not empty: %v", waiting)
	}
}

func TestBadRequests(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"create without player", http.MethodPost, "/api/battles", `{}`, http.StatusBadRequest},
		{"create malformed", http.MethodPost, "/api/battles", `{`, http.StatusBadRequest},
		{"negative score", http.MethodPost, "/api/rounds/r1/guess", `{"playerId":"a","score":-1}`, http.StatusBadRequest},
		{"round zero", http.MethodPost, "/api/battles/b1/rounds", `{"roundNumber":0}`, http.StatusBadRequest},
		{"bad since", http.MethodGet, "/api/players/a/battle?since=yesterday", ``, http.StatusBadRequest},
		{"claim without opponent", http.MethodPost, "/api/queue/claim", `{"claimerId":"a"}`, http.StatusBadRequest},
		{"unknown round", http.MethodGet, "/api/rounds/missing", ``, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, ts.URL+tt.path, bytes.NewBufferString(tt.body))
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestInviteQR(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/battles/invite/abc234/qr.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("content-type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Errorf("body is not a PNG")
	}

	resp, err = ts.Client().Get(ts.URL + "/api/battles/invite/O0/qr.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("bad code status = %d, want 404", resp.StatusCode)
	}
}
