// Package live pushes availability changes to connected calendar views over
// websockets.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

// Message is one frame sent to subscribers.
type Message struct {
	Type    string             `json:"type"`
	Changes []model.SlotChange `json:"changes"`
	SentAt  time.Time          `json:"sent_at"`
}

type subscriber struct {
	vetID string // empty follows every veterinarian
	send  chan []byte
}

type Hub struct {
	mu       sync.RWMutex
	subs     map[*subscriber]struct{}
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHub accepts the listed origins. With none, gorilla's same-origin check
// applies.
func NewHub(logger *slog.Logger, origins []string) *Hub {
	h := &Hub{
		subs:   map[*subscriber]struct{}{},
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(origins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, origin) || slices.Contains(origins, "*")
		}
	}
	return h
}

func (h *Hub) register(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.send)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// SlotsChanged fans changes out to matching subscribers. Slow subscribers
// miss frames instead of blocking the caller.
func (h *Hub) SlotsChanged(_ context.Context, changes []model.SlotChange) {
	if len(changes) == 0 {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	now := time.Now().UTC()
	frames := map[string][]byte{}
	for s := range h.subs {
		frame, ok := frames[s.vetID]
		if !ok {
			frame = h.frame(s.vetID, changes, now)
			frames[s.vetID] = frame
		}
		if frame == nil {
			continue
		}
		select {
		case s.send <- frame:
		default:
			h.logger.Warn("live subscriber lagging, frame dropped", "veterinarian_id", s.vetID)
		}
	}
}

func (h *Hub) frame(vetID string, changes []model.SlotChange, now time.Time) []byte {
	msg := Message{Type: "slots_changed", SentAt: now}
	for _, c := range changes {
		if vetID == "" || c.VeterinarianID == vetID {
			msg.Changes = append(msg.Changes, c)
		}
	}
	if len(msg.Changes) == 0 {
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode live frame", "err", err)
		return nil
	}
	return b
}

// ServeHTTP upgrades the request. The optional veterinarian_id query
// parameter narrows the feed to one veterinarian.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", "err", err)
		return
	}
	s := &subscriber{vetID: r.URL.Query().Get("veterinarian_id"), send: make(chan []byte, sendBuffer)}
	h.register(s)
	h.logger.Debug("live subscriber connected", "veterinarian_id", s.vetID)

	go h.writePump(conn, s)
	h.readPump(conn, s)
}

// readPump only watches for the peer going away.
func (h *Hub) readPump(conn *websocket.Conn, s *subscriber) {
	defer func() {
		h.unregister(s)
		_ = conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
