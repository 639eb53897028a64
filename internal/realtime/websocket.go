package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// WSTransport subscribes to the backend service's event feed over
// WebSocket and publishes broadcasts with plain HTTP.
type WSTransport struct {
	baseURL string
	client  *http.Client
}

// NewWSTransport targets a backend at baseURL (http or https). client may
// be nil.
func NewWSTransport(baseURL string, client *http.Client) *WSTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &WSTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *WSTransport) topicURL(topic string) string {
	return t.baseURL + "/realtime/" + url.PathEscape(topic)
}

func (t *WSTransport) Publish(ctx context.Context, topic string, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.topicURL(topic), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("publishing to %s: status %d", topic, resp.StatusCode)
	}
	return nil
}

func (t *WSTransport) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	wsURL := "ws" + strings.TrimPrefix(t.topicURL(topic), "http")
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: t.client})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", topic, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := &wsSub{conn: conn, ch: make(chan Event, 32), cancel: cancel}
	go s.read(readCtx, topic)
	return s, nil
}

type wsSub struct {
	conn   *websocket.Conn
	ch     chan Event
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *wsSub) read(ctx context.Context, topic string) {
	defer close(s.ch)
	for {
		var ev Event
		if err := wsjson.Read(ctx, s.conn, &ev); err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = err
			}
			s.mu.Unlock()
			return
		}
		ev.Topic = topic
		select {
		case s.ch <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *wsSub) Events() <-chan Event { return s.ch }

func (s *wsSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
