package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/holdings-engine/internal/metrics"
	"github.com/atmx/holdings-engine/internal/refresh"
)

// Message types.
const (
	MsgPricesUpdated   = "prices_updated"
	MsgHoldingsChanged = "holdings_changed"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type        string                     `json:"type"`
	PortfolioID string                     `json:"portfolio_id"`
	Version     uint64                     `json:"version,omitempty"`
	Updated     map[string]decimal.Decimal `json:"updated,omitempty"`
	Failed      map[string]string          `json:"failed,omitempty"`
	FXRate      string                     `json:"fx_rate,omitempty"`
	FXStale     bool                       `json:"fx_stale,omitempty"`
	Settle      bool                       `json:"settle,omitempty"`
	Timestamp   time.Time                  `json:"timestamp"`
}

// Subscriptions activates price refreshing for a portfolio while it has
// subscribers.
type Subscriptions interface {
	Acquire(ctx context.Context, portfolioID string) error
	Release(portfolioID string)
}

type outbound struct {
	portfolioID string
	data        []byte
}

type subscription struct {
	conn        *websocket.Conn
	portfolioID string
}

// WSHub manages WebSocket connections, each subscribed to one portfolio.
// Every connection holds its portfolio's refresh scheduler active until it
// disconnects.
type WSHub struct {
	subs       Subscriptions
	logger     *slog.Logger
	clients    map[*websocket.Conn]string // conn -> portfolio
	broadcast  chan outbound
	register   chan subscription
	unregister chan *websocket.Conn
	stopped    chan struct{}
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(subs Subscriptions, logger *slog.Logger) *WSHub {
	return &WSHub{
		subs:       subs,
		logger:     logger.With("component", "ws"),
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan outbound, 256),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
		stopped:    make(chan struct{}),
	}
}

// Run is the hub's event loop. It owns the clients map and is the only
// writer of data frames. It returns when ctx is cancelled.
func (h *WSHub) Run(ctx context.Context) {
	defer func() {
		close(h.stopped)
		for conn := range h.clients {
			conn.Close()
			delete(h.clients, conn)
		}
		metrics.WebSocketClients.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case sub := <-h.register:
			h.clients[sub.conn] = sub.portfolioID
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			h.logger.Info("ws client connected", "portfolio", sub.portfolioID, "total", len(h.clients))

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				metrics.WebSocketClients.Set(float64(len(h.clients)))
			}

		case msg := <-h.broadcast:
			for conn, pid := range h.clients {
				if pid != msg.portfolioID {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
					metrics.WebSocketClients.Set(float64(len(h.clients)))
				}
			}
		}
	}
}

// Broadcast sends a message to the subscribers of msg.PortfolioID.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- outbound{portfolioID: msg.PortfolioID, data: data}:
	default:
		// Drop if buffer full so refresh passes never block on slow clients.
	}
}

// PublishPass is the refresh commit hook: it announces changed prices.
func (h *WSHub) PublishPass(res refresh.PassResult) {
	if len(res.Updated) == 0 {
		return
	}
	h.Broadcast(WSMessage{
		Type:        MsgPricesUpdated,
		PortfolioID: res.PortfolioID,
		Updated:     res.Updated,
		Failed:      res.Failed,
		FXRate:      res.FXRate.String(),
		FXStale:     res.FXStale,
		Settle:      res.Settle,
		Timestamp:   time.Now().UTC(),
	})
}

// PublishHoldings announces a lot change that produced a new snapshot.
func (h *WSHub) PublishHoldings(portfolioID string, version uint64) {
	h.Broadcast(WSMessage{
		Type:        MsgHoldingsChanged,
		PortfolioID: portfolioID,
		Version:     version,
		Timestamp:   time.Now().UTC(),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // CORS policy is enforced by the router middleware.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws?portfolio={id}.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	pid := r.URL.Query().Get("portfolio")
	if pid == "" {
		writeError(w, "portfolio query parameter is required", http.StatusBadRequest)
		return
	}
	if err := h.subs.Acquire(r.Context(), pid); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.subs.Release(pid)
		h.logger.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- subscription{conn: conn, portfolioID: pid}:
	case <-h.stopped:
		conn.Close()
		h.subs.Release(pid)
		return
	}

	done := make(chan struct{})

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			close(done)
			select {
			case h.unregister <- conn:
			case <-h.stopped:
			}
			h.subs.Release(pid)
			h.logger.Info("ws client disconnected", "portfolio", pid)
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies. WriteControl
	// may run concurrently with the hub's data writes.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()
}
