package realtime_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gabrieltornquist7/history-clue/internal/realtime"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func publish(t *testing.T, hub *realtime.Hub, topic, battleID string) {
	t.Helper()
	ev, err := realtime.NewEvent(realtime.ChangeUpdate, battleID, map[string]string{"id": battleID})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := hub.Publish(context.Background(), topic, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestManagerFanOut(t *testing.T) {
	hub := realtime.NewHub()
	m := realtime.NewManager(hub, quietLogger())
	defer m.Close()

	const n = 4
	var calls atomic.Int32
	unsubs := make([]func(), n)
	for i := range unsubs {
		unsubs[i] = m.Subscribe(realtime.TopicBattles, func(realtime.Event) { calls.Add(1) })
	}
	waitFor(t, "subscription", func() bool { return m.Live(realtime.TopicBattles) })

	if got := hub.Subscribers(realtime.TopicBattles); got != 1 {
		t.Errorf("underlying subscriptions = %d, want 1", got)
	}
	if got := m.Listeners(realtime.TopicBattles); got != n {
		t.Errorf("listeners = %d, want %d", got, n)
	}

	publish(t, hub, realtime.TopicBattles, "b1")
	waitFor(t, "delivery", func() bool { return calls.Load() == n })

	for _, u := range unsubs {
		u()
	}
	unsubs[0]()

	if got := m.Topics(); got != 0 {
		t.Errorf("topics after unsubscribe = %d, want 0", got)
	}
	waitFor(t, "teardown", func() bool { return hub.Subscribers(realtime.TopicBattles) == 0 })
}

func TestManagerBattleFilter(t *testing.T) {
	hub := realtime.NewHub()
	m := realtime.NewManager(hub, quietLogger())
	defer m.Close()

	var mine, all atomic.Int32
	m.SubscribeBattle(realtime.TopicRounds, "b1", func(ev realtime.Event) {
		if ev.BattleID != "b1" {
			t.Errorf("filtered listener got battle %q", ev.BattleID)
		}
		mine.Add(1)
	})
	m.Subscribe(realtime.TopicRounds, func(realtime.Event) { all.Add(1) })
	waitFor(t, "subscription", func() bool { return m.Live(realtime.TopicRounds) })

	publish(t, hub, realtime.TopicRounds, "b2")
	publish(t, hub, realtime.TopicRounds, "b1")
	publish(t, hub, realtime.TopicRounds, "b3")
	waitFor(t, "delivery", func() bool { return all.Load() == 3 })

	if got := mine.Load(); got != 1 {
		t.Errorf("filtered deliveries = %d, want 1", got)
	}
	if got := hub.Subscribers(realtime.TopicRounds); got != 1 {
		t.Errorf("underlying subscriptions = %d, want 1", got)
	}
}

func TestManagerResubscribes(t *testing.T) {
	hub := realtime.NewHub()
	m := realtime.NewManager(hub, quietLogger(), realtime.WithRetryDelay(20*time.Millisecond))
	defer m.Close()

	var calls atomic.Int32
	m.Subscribe("battle:b1", func(realtime.Event) { calls.Add(1) })
	m.Subscribe("battle:b1", func(realtime.Event) { calls.Add(1) })
	waitFor(t, "subscription", func() bool { return m.Live("battle:b1") })

	hub.Disconnect("battle:b1", errors.New("channel error"))
	waitFor(t, "resubscribe", func() bool { return m.Opened("battle:b1") == 2 && m.Live("battle:b1") })

	if got := hub.Subscribers("battle:b1"); got != 1 {
		t.Errorf("underlying subscriptions after resubscribe = %d, want 1", got)
	}
	if got := m.Listeners("battle:b1"); got != 2 {
		t.Errorf("listeners after resubscribe = %d, want 2", got)
	}

	publish(t, hub, "battle:b1", "b1")
	waitFor(t, "delivery", func() bool { return calls.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2 (no duplicate listeners)", got)
	}
}

func TestManagerResume(t *testing.T) {
	hub := realtime.NewHub()
	m := realtime.NewManager(hub, quietLogger(), realtime.WithRetryDelay(time.Hour))
	defer m.Close()

	m.Subscribe(realtime.TopicBattles, func(realtime.Event) {})
	waitFor(t, "subscription", func() bool { return m.Live(realtime.TopicBattles) })

	hub.Disconnect(realtime.TopicBattles, errors.New("backgrounded"))
	waitFor(t, "drop", func() bool { return !m.Live(realtime.TopicBattles) })

	m.Resume()
	waitFor(t, "resume", func() bool { return m.Live(realtime.TopicBattles) })
	if got := m.Opened(realtime.TopicBattles); got != 2 {
		t.Errorf("opened = %d, want 2", got)
	}
}

func TestManagerUnsubscribeFromListener(t *testing.T) {
	hub := realtime.NewHub()
	m := realtime.NewManager(hub, quietLogger())
	defer m.Close()

	done := make(chan struct{})
	var unsub func()
	unsub = m.Subscribe("battle:b9", func(realtime.Event) {
		unsub()
		close(done)
	})
	waitFor(t, "subscription", func() bool { return m.Live("battle:b9") })

	publish(t, hub, "battle:b9", "b9")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never ran")
	}
	waitFor(t, "teardown", func() bool { return hub.Subscribers("battle:b9") == 0 })
}

func TestManagerPublish(t *testing.T) {
	hub := realtime.NewHub()
	m := realtime.NewManager(hub, quietLogger())
	defer m.Close()

	got := make(chan realtime.Event, 1)
	m.Subscribe(realtime.BattleTopic("b1"), func(ev realtime.Event) { got <- ev })
	waitFor(t, "subscription", func() bool { return m.Live(realtime.BattleTopic("b1")) })

	ev, _ := realtime.NewEvent(realtime.EventClueRevealed, "b1", map[string]int{"clue": 2})
	if err := m.Publish(context.Background(), realtime.BattleTopic("b1"), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-got:
		var payload map[string]int
		if err := ev.Decode(&payload); err != nil || payload["clue"] != 2 {
			t.Errorf("payload = %v, err = %v", payload, err)
		}
		if ev.Topic != "battle:b1" || ev.Type != realtime.EventClueRevealed {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast not delivered")
	}
}
