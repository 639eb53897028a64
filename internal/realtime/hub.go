package realtime

import (
	"context"
	"sync"
	"time"
)

// Hub is an in-process Transport keyed by topic. Slow subscribers drop
// events rather than block publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*hubSub]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*hubSub]struct{}),
	}
}

type hubSub struct {
	hub   *Hub
	topic string
	ch    chan Event

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *hubSub) Events() <-chan Event { return s.ch }

func (s *hubSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *hubSub) Close() error {
	s.hub.remove(s, nil)
	return nil
}

// Subscribe opens a subscription to topic.
func (h *Hub) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &hubSub{hub: h, topic: topic, ch: make(chan Event, 32)}
	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*hubSub]struct{})
	}
	h.subs[topic][s] = struct{}{}
	h.mu.Unlock()
	return s, nil
}

func (h *Hub) remove(s *hubSub, cause error) {
	h.mu.Lock()
	delete(h.subs[s.topic], s)
	if len(h.subs[s.topic]) == 0 {
		delete(h.subs, s.topic)
	}
	h.mu.Unlock()

	s.once.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
		close(s.ch)
	})
}

// Publish sends ev to every subscriber of topic.
func (h *Hub) Publish(_ context.Context, topic string, ev Event) error {
	ev.Topic = topic
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[topic] {
		select {
		case s.ch <- ev:
		default:
			// Drop if subscriber is slow.
		}
	}
	return nil
}

// Disconnect ends every subscription to topic with cause, as a dropped
// channel would.
func (h *Hub) Disconnect(topic string, cause error) {
	h.mu.RLock()
	subs := make([]*hubSub, 0, len(h.subs[topic]))
	for s := range h.subs[topic] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		h.remove(s, cause)
	}
}

// Subscribers returns the number of open subscriptions to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
