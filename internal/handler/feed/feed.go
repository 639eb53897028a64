// Package feed exposes realtime topics over WebSocket: clients stream a
// topic's events and post ephemeral broadcasts to match topics.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/gabrieltornquist7/history-clue/internal/metrics"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
)

const writeTimeout = 5 * time.Second

type Handler struct {
	transport realtime.Transport
	logger    *slog.Logger
}

func NewHandler(transport realtime.Transport, logger *slog.Logger) *Handler {
	return &Handler{transport: transport, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{topic}", h.stream)
	r.Post("/{topic}", h.broadcast)
	return r
}

func validTopic(topic string) bool {
	switch {
	case topic == realtime.TopicBattles, topic == realtime.TopicRounds:
		return true
	case strings.HasPrefix(topic, "battle:"):
		return len(topic) > len("battle:")
	}
	return false
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if !validTopic(topic) {
		http.Error(w, "unknown topic", http.StatusNotFound)
		return
	}

	// Subscribe before upgrading so nothing published after the handshake
	// is missed.
	sub, err := h.transport.Subscribe(r.Context(), topic)
	if err != nil {
		h.logger.Error("feed subscribe failed", "topic", topic, "error", err)
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frame.
	ctx := conn.CloseRead(r.Context())

	metrics.FeedClients.Inc()
	defer metrics.FeedClients.Dec()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("feed client left", "topic", topic)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				h.logger.Warn("feed channel closed", "topic", topic, "error", sub.Err())
				conn.Close(websocket.StatusTryAgainLater, "channel closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				h.logger.Debug("websocket write failed", "topic", topic, "error", err)
				return
			}
		}
	}
}

func (h *Handler) broadcast(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if !strings.HasPrefix(topic, "battle:") || !validTopic(topic) {
		http.Error(w, "only match topics accept broadcasts", http.StatusBadRequest)
		return
	}

	var ev realtime.Event
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.Type == "" {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	if ev.BattleID == "" {
		ev.BattleID = strings.TrimPrefix(topic, "battle:")
	}
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}

	if err := h.transport.Publish(r.Context(), topic, ev); err != nil {
		h.logger.Error("broadcast failed", "topic", topic, "error", err)
		http.Error(w, "broadcast failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
