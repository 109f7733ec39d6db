package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"Genset-DataBridge/ingest"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

// Hub broadcasts updates to connected websocket clients. Slow clients lose
// messages rather than holding up ingestion.
type Hub struct {
	logger         *zap.Logger
	originPatterns []string

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func NewHub(logger *zap.Logger, originPatterns ...string) *Hub {
	return &Hub{
		logger:         logger.Named("ws"),
		originPatterns: originPatterns,
		clients:        make(map[chan []byte]struct{}),
	}
}

func (h *Hub) Deliver(_ context.Context, u ingest.Update) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- b:
		default:
			h.logger.Debug("dropping update for slow client", zap.String("device_id", u.DeviceID))
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}()

	ctx := c.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-ch:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
