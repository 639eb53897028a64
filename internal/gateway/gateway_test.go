package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/gateway"
	"github.com/gabrieltornquist7/history-clue/internal/store/storetest"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// flaky wraps a Backend, failing submissions while down is set and
// counting calls that reach it.
type flaky struct {
	gateway.Backend
	down    bool
	submits int
	joins   int
}

func (f *flaky) SubmitBattleGuess(ctx context.Context, sub battle.Submission) error {
	f.submits++
	if f.down {
		return errors.New("connection reset")
	}
	return f.Backend.SubmitBattleGuess(ctx, sub)
}

func (f *flaky) JoinBattle(ctx context.Context, code, playerID string) (battle.Joined, error) {
	f.joins++
	return f.Backend.JoinBattle(ctx, code, playerID)
}

func newGateway(t *testing.T) (*gateway.Gateway, *flaky) {
	t.Helper()
	f := &flaky{Backend: storetest.New(t, nil)}
	return gateway.New(f, quietLogger()), f
}

func startMatch(t *testing.T, g *gateway.Gateway) (string, battle.Round) {
	t.Helper()
	ctx := context.Background()
	c, err := g.CreateMatch(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := g.JoinMatch(ctx, c.InviteCode, "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	st, err := g.FetchMatchState(ctx, c.MatchID)
	if err != nil || st.Round == nil {
		t.Fatalf("state: %+v, err = %v", st, err)
	}
	return c.MatchID, *st.Round
}

func TestJoinValidatesLocally(t *testing.T) {
	g, f := newGateway(t)
	ctx := context.Background()

	for _, code := range []string{"", "ABC", "ABCDEFG", "ABCDE0", "ABC-12"} {
		_, err := g.JoinMatch(ctx, code, "bob")
		if !errors.Is(err, battle.ErrInvalidInviteCode) {
			t.Errorf("JoinMatch(%q) err = %v, want ErrInvalidInviteCode", code, err)
		}
	}
	if f.joins != 0 {
		t.Errorf("backend joins = %d, want 0", f.joins)
	}

	c, _ := g.CreateMatch(ctx, "alice")
	_, err := g.JoinMatch(ctx, c.InviteCode, "alice")
	if !errors.Is(err, battle.ErrOwnMatch) {
		t.Errorf("own match: err = %v", err)
	}
	if battle.IsTransient(err) {
		t.Error("rejection reported as transient")
	}
}

func TestSubmitGuessOnce(t *testing.T) {
	g, f := newGateway(t)
	ctx := context.Background()
	_, r := startMatch(t, g)

	sub := battle.Submission{RoundID: r.ID, PlayerID: "alice", Score: 2500, CluesUsed: []int{1, 2, 3}}
	res, err := g.SubmitGuess(ctx, sub)
	if err != nil || !res.Success || res.BothSubmitted {
		t.Fatalf("first submit: %+v, err = %v", res, err)
	}

	_, err = g.SubmitGuess(ctx, sub)
	if !errors.Is(err, battle.ErrAlreadySubmitted) {
		t.Errorf("second submit: err = %v", err)
	}
	if f.submits != 1 {
		t.Errorf("backend submits = %d, want 1", f.submits)
	}

	res, err = g.SubmitGuess(ctx, battle.Submission{RoundID: r.ID, PlayerID: "bob", Score: 100})
	if err != nil || !res.BothSubmitted {
		t.Errorf("opponent submit: %+v, err = %v", res, err)
	}
}

func TestSubmitGuessTransientReleasesGuard(t *testing.T) {
	g, f := newGateway(t)
	ctx := context.Background()
	_, r := startMatch(t, g)
	sub := battle.Submission{RoundID: r.ID, PlayerID: "bob", Score: 10}

	f.down = true
	_, err := g.SubmitGuess(ctx, sub)
	var be *battle.BackendError
	if !errors.As(err, &be) || be.Op != "submit guess" {
		t.Fatalf("err = %v, want BackendError", err)
	}
	if !battle.IsTransient(err) {
		t.Error("remote failure not transient")
	}
	if g.Submitted(r.ID, "bob") {
		t.Error("guard held after a failed submit")
	}

	f.down = false
	if _, err := g.SubmitGuess(ctx, sub); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !g.Submitted(r.ID, "bob") {
		t.Error("guard not set after success")
	}
}

func TestSubmitGuessBackendAlreadySubmitted(t *testing.T) {
	f := &flaky{Backend: storetest.New(t, nil)}
	first := gateway.New(f, quietLogger())
	second := gateway.New(f, quietLogger())
	ctx := context.Background()
	_, r := startMatch(t, first)

	sub := battle.Submission{RoundID: r.ID, PlayerID: "alice", Score: 1}
	if _, err := first.SubmitGuess(ctx, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// A second device for the same player only learns from the backend.
	_, err := second.SubmitGuess(ctx, sub)
	if !errors.Is(err, battle.ErrAlreadySubmitted) {
		t.Fatalf("err = %v, want ErrAlreadySubmitted", err)
	}
	if !second.Submitted(r.ID, "alice") {
		t.Error("guard not set from backend rejection")
	}
}

func TestFetchMatchStateBeforeStart(t *testing.T) {
	g, _ := newGateway(t)
	ctx := context.Background()
	c, _ := g.CreateMatch(ctx, "alice")

	st, err := g.FetchMatchState(ctx, c.MatchID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Round != nil || st.Puzzle != nil || st.Match.Status != battle.MatchWaiting {
		t.Errorf("state = %+v", st)
	}

	if _, err := g.FetchMatchState(ctx, "missing"); !errors.Is(err, battle.ErrNotFound) {
		t.Errorf("missing match: err = %v", err)
	}
}

func TestFetchSummary(t *testing.T) {
	g, _ := newGateway(t)
	ctx := context.Background()
	id, r := startMatch(t, g)

	s, err := g.FetchSummary(ctx, id)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Match.ID != id || len(s.Rounds) != 1 || s.Rounds[0].ID != r.ID {
		t.Errorf("summary = %+v", s)
	}
}

func TestHTTPStatusTransience(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusUnprocessableEntity, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(gateway.ErrorResponse{Code: "unknown", Error: "nope"})
			}))
			defer ts.Close()
			g := gateway.New(gateway.NewHTTPBackend(ts.URL, ts.Client()), quietLogger())

			_, err := g.CreateMatch(context.Background(), "alice")
			var se *gateway.StatusError
			if !errors.As(err, &se) || se.Status != tt.status {
				t.Fatalf("err = %v, want StatusError %d", err, tt.status)
			}
			if got := battle.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
			if battle.IsRejection(err) {
				t.Error("unknown code reported as a rejection")
			}
		})
	}
}
