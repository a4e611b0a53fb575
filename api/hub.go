package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"fxdesk/internal/metrics"
	"fxdesk/pkg/market"
)

// streamMessage is the JSON envelope broadcast to stream clients.
type streamMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Time   int64   `json:"time"`
}

const (
	defaultPingInterval = 30 * time.Second
	pongWait            = 60 * time.Second
)

// Hub relays feed ticks to connected dashboard WebSocket clients. It
// implements market.TickHandler, so it registers with the feed's fan-out
// like any other subscriber.
//
// All connection writes (broadcasts and keepalive pings) happen on the Run
// goroutine, so every connection has exactly one writer as the websocket
// library requires.
type Hub struct {
	logger       *logrus.Logger
	clients      map[*websocket.Conn]bool
	broadcast    chan []byte
	register     chan *websocket.Conn
	unregister   chan *websocket.Conn
	pingInterval time.Duration
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:       logger,
		clients:      make(map[*websocket.Conn]bool),
		broadcast:    make(chan []byte, 256),
		register:     make(chan *websocket.Conn),
		unregister:   make(chan *websocket.Conn),
		pingInterval: defaultPingInterval,
	}
}

// OnTick broadcasts a tick to all connected clients. Never blocks tick
// delivery: the message is dropped if the broadcast buffer is full.
func (h *Hub) OnTick(t market.Tick) {
	data, err := json.Marshal(streamMessage{
		Type:   "tick",
		Symbol: t.Symbol,
		Price:  t.Price,
		Time:   t.Time,
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// Run starts the hub's event loop. Must be called in a goroutine. The
// clients map is owned by this loop; no other goroutine touches it.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			metrics.StreamClients.Set(0)
			return

		case conn := <-h.register:
			h.clients[conn] = true
			metrics.StreamClients.Set(float64(len(h.clients)))
			h.logger.WithField("total", len(h.clients)).Info("stream client connected")

		case conn := <-h.unregister:
			h.drop(conn)

		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.drop(conn)
				}
			}

		case <-ping.C:
			// Keepalive through proxies; a failed ping drops the client.
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					h.drop(conn)
				}
			}
		}
	}
}

// drop closes and forgets a connection. Only called from the Run loop.
func (h *Hub) drop(conn *websocket.Conn) {
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	conn.Close()
	metrics.StreamClients.Set(float64(len(h.clients)))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Dashboard may be served from a different origin.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/stream.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("stream upgrade failed")
		return
	}

	h.register <- conn

	// Read pump: keep connection alive and detect disconnects. Reads only;
	// all writes belong to the Run loop.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
