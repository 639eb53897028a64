package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport carries events over Redis pub/sub so several server
// instances share one feed.
type RedisTransport struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisTransport(rdb *redis.Client, prefix string, logger *slog.Logger) *RedisTransport {
	return &RedisTransport{rdb: rdb, prefix: prefix, logger: logger}
}

func (t *RedisTransport) channel(topic string) string { return t.prefix + topic }

func (t *RedisTransport) Publish(ctx context.Context, topic string, ev Event) error {
	ev.Topic = topic
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := t.rdb.Publish(ctx, t.channel(topic), data).Err(); err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}
	return nil
}

// Subscribe opens a Redis subscription and waits for the server to confirm
// it before returning.
func (t *RedisTransport) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := t.rdb.Subscribe(ctx, t.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	s := &redisSub{ps: ps, ch: make(chan Event, 32), done: make(chan struct{})}
	go s.forward(topic, t.logger)
	return s, nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *redisSub) forward(topic string, logger *slog.Logger) {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Warn("dropping undecodable event", "topic", topic, "error", err)
			continue
		}
		ev.Topic = topic
		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *redisSub) Events() <-chan Event { return s.ch }

// Err is always nil: go-redis reconnects dropped connections itself and
// only closes the channel on Close.
func (s *redisSub) Err() error { return nil }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
