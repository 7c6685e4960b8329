package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kirillm/defairy-rebalancer/internal/notify"
	"github.com/kirillm/defairy-rebalancer/internal/wallet"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// Event in-app уведомление для дашборда
type Event struct {
	Type          string          `json:"type"`
	WalletAddress string          `json:"wallet_address"`
	Message       string          `json:"message"`
	Severity      notify.Severity `json:"severity"`
	Timestamp     time.Time       `json:"timestamp"`
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	wallet string // пусто: все кошельки
}

// Hub рассылает in-app уведомления подключенным дашбордам
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub создает hub. Пустой список origins разрешает все.
func NewHub(allowedOrigins []string, log zerolog.Logger) *Hub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Hub{
		log: log.With().Str("component", "ws_hub").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(origins) == 0 || origins["*"] || origins[origin]
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeWS подписывает соединение на уведомления (?wallet=<address>)
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	walletAddress := r.URL.Query().Get("wallet")
	if walletAddress != "" {
		if err := wallet.ValidateAddress(walletAddress); err != nil {
			sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), wallet: walletAddress}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug().Str("wallet", walletAddress).Msg("🔌 Dashboard connected")

	go h.writePump(c)
	go h.readPump(c)
}

// NotifyWallet отправляет уведомление подписчикам кошелька
func (h *Hub) NotifyWallet(_ context.Context, walletAddress, message string, severity notify.Severity) {
	payload, err := json.Marshal(Event{
		Type:          "notification",
		WalletAddress: walletAddress,
		Message:       message,
		Severity:      severity,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode event")
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if c.wallet != "" && c.wallet != walletAddress {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	// медленный клиент отключается, а не блокирует рассылку
	for _, c := range slow {
		h.remove(c)
	}
}

// Clients количество подключений
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close отключает всех клиентов
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
}

// readPump нужен только для pong и обнаружения закрытия
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
