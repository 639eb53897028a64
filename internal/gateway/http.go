package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
)

// HTTPBackend implements Backend against the battle service API. Error
// bodies carrying a known code are mapped back to their battle sentinel.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend targets the service at baseURL. client may be nil.
func NewHTTPBackend(baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPBackend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// StatusError is a non-2xx response without a recognized code.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Permanent reports whether repeating the request cannot help: any 4xx
// except timeouts and rate limiting.
func (e *StatusError) Permanent() bool {
	switch e.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.Status >= 400 && e.Status < 500
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		json.NewDecoder(resp.Body).Decode(&e)
		if sentinel := battle.FromCode(e.Code); sentinel != nil {
			return sentinel
		}
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func seg(s string) string { return url.PathEscape(s) }

func (b *HTTPBackend) CreateBattle(ctx context.Context, playerID string) (battle.Created, error) {
	var c battle.Created
	err := b.do(ctx, http.MethodPost, "/api/battles", PlayerRequest{PlayerID: playerID}, &c)
	return c, err
}

func (b *HTTPBackend) JoinBattle(ctx context.Context, code, playerID string) (battle.Joined, error) {
	var j battle.Joined
	err := b.do(ctx, http.MethodPost, "/api/battles/join", JoinRequest{InviteCode: code, PlayerID: playerID}, &j)
	return j, err
}

func (b *HTTPBackend) SubmitBattleGuess(ctx context.Context, sub battle.Submission) error {
	req := GuessRequest{
		PlayerID:   sub.PlayerID,
		Score:      sub.Score,
		DistanceKm: sub.DistanceKm,
		YearGuess:  sub.YearGuess,
		CluesUsed:  sub.CluesUsed,
		Lat:        sub.Lat,
		Lng:        sub.Lng,
	}
	return b.do(ctx, http.MethodPost, "/api/rounds/"+seg(sub.RoundID)+"/guess", req, nil)
}

func (b *HTTPBackend) GetBattle(ctx context.Context, id string) (battle.Match, error) {
	var m battle.Match
	err := b.do(ctx, http.MethodGet, "/api/battles/"+seg(id), nil, &m)
	return m, err
}

func (b *HTTPBackend) GetCurrentRound(ctx context.Context, battleID string) (battle.Round, error) {
	var r battle.Round
	err := b.do(ctx, http.MethodGet, "/api/battles/"+seg(battleID)+"/rounds/current", nil, &r)
	return r, err
}

func (b *HTTPBackend) GetRound(ctx context.Context, id string) (battle.Round, error) {
	var r battle.Round
	err := b.do(ctx, http.MethodGet, "/api/rounds/"+seg(id), nil, &r)
	return r, err
}

func (b *HTTPBackend) GetPuzzle(ctx context.Context, id string) (battle.Puzzle, error) {
	var p battle.Puzzle
	err := b.do(ctx, http.MethodGet, "/api/puzzles/"+seg(id), nil, &p)
	return p, err
}

func (b *HTTPBackend) ListRounds(ctx context.Context, battleID string) ([]battle.Round, error) {
	var rounds []battle.Round
	err := b.do(ctx, http.MethodGet, "/api/battles/"+seg(battleID)+"/rounds", nil, &rounds)
	return rounds, err
}

func (b *HTTPBackend) CompleteRound(ctx context.Context, roundID, winnerID string) (bool, error) {
	var resp ChangedResponse
	err := b.do(ctx, http.MethodPost, "/api/rounds/"+seg(roundID)+"/complete", CompleteRequest{WinnerID: winnerID}, &resp)
	return resp.Changed, err
}

func (b *HTTPBackend) StartRound(ctx context.Context, battleID string, n int) (battle.Round, bool, error) {
	var resp StartRoundResponse
	err := b.do(ctx, http.MethodPost, "/api/battles/"+seg(battleID)+"/rounds", StartRoundRequest{RoundNumber: n}, &resp)
	return resp.Round, resp.Created, err
}

func (b *HTTPBackend) CompleteBattle(ctx context.Context, battleID, winnerID string) (bool, error) {
	var resp ChangedResponse
	err := b.do(ctx, http.MethodPost, "/api/battles/"+seg(battleID)+"/complete", CompleteRequest{WinnerID: winnerID}, &resp)
	return resp.Changed, err
}

func (b *HTTPBackend) Enqueue(ctx context.Context, playerID string) (battle.QueueEntry, error) {
	var e battle.QueueEntry
	err := b.do(ctx, http.MethodPost, "/api/queue", PlayerRequest{PlayerID: playerID}, &e)
	return e, err
}

func (b *HTTPBackend) ListWaiting(ctx context.Context) ([]battle.QueueEntry, error) {
	var entries []battle.QueueEntry
	err := b.do(ctx, http.MethodGet, "/api/queue", nil, &entries)
	return entries, err
}

func (b *HTTPBackend) Dequeue(ctx context.Context, playerID string) error {
	return b.do(ctx, http.MethodDelete, "/api/queue/"+seg(playerID), nil, nil)
}

func (b *HTTPBackend) ClaimOpponent(ctx context.Context, claimerID, opponentID string) (battle.Joined, error) {
	var j battle.Joined
	err := b.do(ctx, http.MethodPost, "/api/queue/claim", ClaimRequest{ClaimerID: claimerID, OpponentID: opponentID}, &j)
	return j, err
}

func (b *HTTPBackend) FindMatchFor(ctx context.Context, playerID string, since time.Time) (battle.Match, error) {
	var m battle.Match
	q := url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}
	err := b.do(ctx, http.MethodGet, "/api/players/"+seg(playerID)+"/battle?"+q.Encode(), nil, &m)
	return m, err
}
