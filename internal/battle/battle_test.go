package battle

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func submitted(at time.Time, score int) PlayerRound {
	return PlayerRound{SubmittedAt: &at, Score: intPtr(score)}
}

func TestMatchStatus_CanBecome(t *testing.T) {
	tests := []struct {
		from, to MatchStatus
		want     bool
	}{
		{MatchWaiting, MatchActive, true},
		{MatchActive, MatchCompleted, true},
		{MatchWaiting, MatchCompleted, false},
		{MatchActive, MatchWaiting, false},
		{MatchCompleted, MatchActive, false},
		{MatchCompleted, MatchCompleted, false},
		{"bogus", MatchActive, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanBecome(tt.to); got != tt.want {
				t.Errorf("CanBecome = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatch_SlotAndOpponent(t *testing.T) {
	m := Match{Player1ID: "alice", Player2ID: "bob"}
	if m.Slot("alice") != 1 || m.Slot("bob") != 2 || m.Slot("eve") != 0 || m.Slot("") != 0 {
		t.Errorf("unexpected slots: %d %d %d", m.Slot("alice"), m.Slot("bob"), m.Slot("eve"))
	}
	if got := m.Opponent("alice"); got != "bob" {
		t.Errorf("Opponent(alice) = %q, want bob", got)
	}
	if got := m.Opponent("eve"); got != "" {
		t.Errorf("Opponent(eve) = %q, want empty", got)
	}

	waiting := Match{Player1ID: "alice"}
	if waiting.Full() {
		t.Error("waiting match should not be full")
	}
	if waiting.Slot("") != 0 {
		t.Error("empty player id must not match the empty seat")
	}
}

func TestRound_BothSubmitted(t *testing.T) {
	now := time.Now()
	r := Round{Player1: submitted(now, 100)}
	if r.BothSubmitted() {
		t.Error("one submission should not complete the round")
	}
	r.Player2 = PlayerRound{SubmittedAt: &now}
	if r.BothSubmitted() {
		t.Error("submission without a score should not count")
	}
	r.Player2 = submitted(now, 0)
	if !r.BothSubmitted() {
		t.Error("both submissions present, want BothSubmitted")
	}
}

func TestRound_FirstSubmittedAt(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := Round{}
	if _, ok := r.FirstSubmittedAt(); ok {
		t.Fatal("no submissions, want ok=false")
	}
	r.Player2 = submitted(base.Add(5*time.Second), 10)
	if got, _ := r.FirstSubmittedAt(); !got.Equal(base.Add(5 * time.Second)) {
		t.Errorf("first = %v, want player2 time", got)
	}
	r.Player1 = submitted(base.Add(3*time.Second), 10)
	if got, _ := r.FirstSubmittedAt(); !got.Equal(base.Add(3 * time.Second)) {
		t.Errorf("first = %v, want player1 time", got)
	}
}

func TestRoundWinner(t *testing.T) {
	m := Match{Player1ID: "alice", Player2ID: "bob"}
	now := time.Now()
	tests := []struct {
		name   string
		p1, p2 int
		want   string
	}{
		{"player1 higher", 4000, 3000, "alice"},
		{"player2 higher", 10, 11, "bob"},
		{"equal is tie", 2500, 2500, ""},
		{"both zero is tie", 0, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Round{Player1: submitted(now, tt.p1), Player2: submitted(now, tt.p2)}
			if got := RoundWinner(m, r); got != tt.want {
				t.Errorf("RoundWinner = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecideMatch(t *testing.T) {
	m := Match{Player1ID: "alice", Player2ID: "bob"}
	now := time.Now()
	round := func(p1, p2 int) Round {
		return Round{Player1: submitted(now, p1), Player2: submitted(now, p2)}
	}

	tests := []struct {
		name       string
		rounds     []Round
		wantWinner string
		wantDraws  int
	}{
		{"two wins take it", []Round{round(10, 5), round(3, 9), round(8, 1)}, "alice", 0},
		{"sweep", []Round{round(1, 5), round(3, 9), round(0, 1)}, "bob", 0},
		{"one-one-tie is a match tie", []Round{round(10, 5), round(3, 9), round(7, 7)}, "", 1},
		{"one win and two draws", []Round{round(7, 7), round(3, 9), round(7, 7)}, "bob", 2},
		{"all draws", []Round{round(1, 1), round(2, 2), round(3, 3)}, "", 3},
		{"incomplete rounds ignored", []Round{round(10, 5), {Player1: submitted(now, 0)}}, "alice", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DecideMatch(m, tt.rounds)
			if o.WinnerID != tt.wantWinner {
				t.Errorf("WinnerID = %q, want %q", o.WinnerID, tt.wantWinner)
			}
			if o.Draws != tt.wantDraws {
				t.Errorf("Draws = %d, want %d", o.Draws, tt.wantDraws)
			}
			if o.Tie() != (tt.wantWinner == "") {
				t.Errorf("Tie = %v, want %v", o.Tie(), tt.wantWinner == "")
			}
		})
	}
}

func TestTiming_Deadline(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	timing := Timing{RoundDuration: 180 * time.Second, SpeedWindow: 15 * time.Second}

	r := Round{StartedAt: start}
	if got := timing.Deadline(r); !got.Equal(start.Add(180 * time.Second)) {
		t.Errorf("deadline without submissions = %v", got)
	}
	if timing.SpeedRound(r) {
		t.Error("speed round should be off without submissions")
	}

	r.Player1 = submitted(start.Add(20*time.Second), 3000)
	if got := timing.Deadline(r); !got.Equal(start.Add(35 * time.Second)) {
		t.Errorf("deadline after first submission = %v, want start+35s", got)
	}
	if !timing.SpeedRound(r) {
		t.Error("speed round should be on")
	}
	if got := timing.Remaining(r, start.Add(30*time.Second)); got != 5*time.Second {
		t.Errorf("Remaining = %v, want 5s", got)
	}
	if got := timing.Remaining(r, start.Add(time.Hour)); got != 0 {
		t.Errorf("Remaining past deadline = %v, want 0", got)
	}

	// A late first submission never extends the round.
	late := Round{StartedAt: start, Player2: submitted(start.Add(175*time.Second), 10)}
	if got := timing.Deadline(late); !got.Equal(start.Add(180 * time.Second)) {
		t.Errorf("late submission deadline = %v, want start+180s", got)
	}
	if timing.SpeedRound(late) {
		t.Error("speed round should not apply when it would extend the round")
	}
}

func TestNormalizeInviteCode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ABC234", "ABC234", false},
		{"  abc234 ", "ABC234", false},
		{"ABC23", "", true},
		{"ABC2345", "", true},
		{"ABC0O1", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeInviteCode(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInviteCode) {
					t.Fatalf("err = %v, want ErrInvalidInviteCode", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewInviteCode(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		code, err := NewInviteCode()
		if err != nil {
			t.Fatalf("NewInviteCode: %v", err)
		}
		if _, err := NormalizeInviteCode(code); err != nil {
			t.Fatalf("generated code %q does not validate: %v", code, err)
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Errorf("only %d distinct codes in 50 draws", len(seen))
	}
}

func TestErrorTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("joining: %w", ErrMatchFull)
	if !IsRejection(wrapped) {
		t.Error("wrapped ErrMatchFull should be a rejection")
	}
	if IsTransient(wrapped) {
		t.Error("rejection should not be transient")
	}
	if Message(wrapped) == Message(ErrOwnMatch) {
		t.Error("distinct rejections need distinct messages")
	}
	if got := FromCode(Code(wrapped)); got != ErrMatchFull {
		t.Errorf("FromCode(Code(err)) = %v, want ErrMatchFull", got)
	}
	if FromCode("nope") != nil {
		t.Error("unknown code should map to nil")
	}

	netErr := &BackendError{Op: "create match", Err: errors.New("connection refused")}
	if !IsTransient(netErr) {
		t.Error("BackendError should be transient")
	}
	if IsRejection(netErr) {
		t.Error("BackendError should not be a rejection")
	}
	if got := netErr.Error(); got != "create match: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}
