package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gabrieltornquist7/history-clue/internal/metrics"
)

// DefaultRetryDelay is how long a dropped channel waits before it is
// reopened, unless Resume wakes it sooner.
const DefaultRetryDelay = 2 * time.Second

// Listener receives events for one subscription. Listeners run on the
// topic's delivery goroutine and must not block for long.
type Listener func(Event)

// Manager multiplexes local listeners onto one underlying subscription per
// topic. The subscription is opened lazily for the first listener, closed
// when the last one leaves, and reopened after channel errors without
// duplicating listeners.
type Manager struct {
	transport  Transport
	logger     *slog.Logger
	retryDelay time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	nextID  int
	closed  bool
	wg      sync.WaitGroup
}

type listener struct {
	battleID string
	fn       Listener
}

type entry struct {
	topic     string
	listeners map[int]listener
	cancel    context.CancelFunc
	wake      chan struct{}
	sub       Subscription
	live      bool
	opened    int
}

type Option func(*Manager)

// WithRetryDelay overrides DefaultRetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

func NewManager(transport Transport, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		transport:  transport,
		logger:     logger,
		retryDelay: DefaultRetryDelay,
		entries:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers fn for every event on topic and returns a function
// that removes it. Calling the returned function more than once is safe.
func (m *Manager) Subscribe(topic string, fn Listener) func() {
	return m.add(topic, listener{fn: fn})
}

// SubscribeBattle registers fn for events on topic whose BattleID matches.
// Use it on the global table feeds.
func (m *Manager) SubscribeBattle(topic, battleID string, fn Listener) func() {
	return m.add(topic, listener{battleID: battleID, fn: fn})
}

func (m *Manager) add(topic string, l listener) func() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return func() {}
	}
	e, ok := m.entries[topic]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		e = &entry{
			topic:     topic,
			listeners: make(map[int]listener),
			cancel:    cancel,
			wake:      make(chan struct{}, 1),
		}
		m.entries[topic] = e
		m.wg.Add(1)
		go m.run(ctx, e)
	}
	m.nextID++
	id := m.nextID
	e.listeners[id] = l
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(topic, e, id) })
	}
}

func (m *Manager) remove(topic string, e *entry, id int) {
	m.mu.Lock()
	delete(e.listeners, id)
	if len(e.listeners) > 0 || m.entries[topic] != e {
		m.mu.Unlock()
		return
	}
	delete(m.entries, topic)
	e.cancel()
	sub := e.sub
	e.sub = nil
	m.mu.Unlock()

	// The delivery goroutine exits on its own; waiting for it here would
	// deadlock when a listener unsubscribes from inside its callback.
	if sub != nil {
		sub.Close()
	}
}

func (m *Manager) run(ctx context.Context, e *entry) {
	defer m.wg.Done()
	for attempt := 0; ; attempt++ {
		sub, err := m.transport.Subscribe(ctx, e.topic)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("realtime subscribe failed", "topic", e.topic, "error", err)
			if !m.wait(ctx, e) {
				return
			}
			continue
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			sub.Close()
			return
		}
		e.sub = sub
		e.live = true
		e.opened++
		m.mu.Unlock()
		metrics.RealtimeSubscriptions.Inc()
		if attempt > 0 {
			metrics.RealtimeResubscribes.Inc()
			m.logger.Info("realtime resubscribed", "topic", e.topic)
		}

		m.pump(ctx, e, sub)

		m.mu.Lock()
		e.live = false
		if e.sub == sub {
			e.sub = nil
		}
		m.mu.Unlock()
		sub.Close()
		metrics.RealtimeSubscriptions.Dec()

		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("realtime channel closed", "topic", e.topic, "error", sub.Err())
		if !m.wait(ctx, e) {
			return
		}
	}
}

func (m *Manager) pump(ctx context.Context, e *entry, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			m.dispatch(e, ev)
		}
	}
}

// wait blocks for the retry delay or a Resume wake-up. It reports false if
// the entry was torn down meanwhile.
func (m *Manager) wait(ctx context.Context, e *entry) bool {
	t := time.NewTimer(m.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.wake:
		return true
	case <-t.C:
		return true
	}
}

func (m *Manager) dispatch(e *entry, ev Event) {
	m.mu.Lock()
	targets := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		if l.battleID != "" && l.battleID != ev.BattleID {
			continue
		}
		targets = append(targets, l.fn)
	}
	m.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
}

// Resume reopens every dropped subscription now instead of waiting for
// the retry delay. Call it when the app returns to the foreground.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.live {
			continue
		}
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}

// Publish broadcasts an ephemeral event on topic.
func (m *Manager) Publish(ctx context.Context, topic string, ev Event) error {
	return m.transport.Publish(ctx, topic, ev)
}

// Close tears down every subscription and waits for delivery goroutines
// to exit. It must not be called from a listener.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	var subs []Subscription
	for topic, e := range m.entries {
		e.cancel()
		if e.sub != nil {
			subs = append(subs, e.sub)
			e.sub = nil
		}
		delete(m.entries, topic)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	m.wg.Wait()
}

// Topics returns the number of topics with at least one listener.
func (m *Manager) Topics() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Listeners returns the number of local listeners on topic.
func (m *Manager) Listeners(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[topic]; ok {
		return len(e.listeners)
	}
	return 0
}

// Live reports whether topic currently has an open underlying subscription.
func (m *Manager) Live(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[topic]
	return ok && e.live
}

// Opened returns how many underlying subscriptions topic has opened since
// its first listener arrived.
func (m *Manager) Opened(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[topic]; ok {
		return e.opened
	}
	return 0
}
