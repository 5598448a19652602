// Package ws relays settlement lifecycle events from the signal bus to
// browser dashboards over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// replayLimit caps the settlement events replayed to a client that
	// connects with ?since=.
	replayLimit = 100
)

// Channels are the signal bus channels the hub relays. New clients are
// subscribed to all of them.
var Channels = []string{
	domain.ChannelMarket,
	domain.ChannelSweep,
	domain.ChannelSync,
}

// Config carries the metadata sent to clients on connect and the origins
// allowed to open a socket (empty allows all).
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
}

// relayed is one bus message tagged with the market it concerns (0 for
// events not tied to a market, such as sweep summaries).
type relayed struct {
	channel  string
	marketID uint64
	data     []byte
}

// reply is a message for a single client.
type reply struct {
	to   *client
	data []byte
}

// Hub fans bus events out to connected clients. All client registration and
// delivery happens on the Run goroutine.
type Hub struct {
	bus       domain.SignalBus
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}

	relay      chan relayed
	replies    chan reply
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	origins := cfg.AllowedOrigins
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  startedAt,
		clients:    make(map[*client]struct{}),
		relay:      make(chan relayed, 256),
		replies:    make(chan reply, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Run follows the bus channels and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for _, ch := range Channels {
		go h.follow(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case m := <-h.relay:
			h.mu.RLock()
			for c := range h.clients {
				if c.wants(m.channel, m.marketID) {
					h.deliver(c, m.data)
				}
			}
			h.mu.RUnlock()

		case r := <-h.replies:
			h.mu.RLock()
			if _, ok := h.clients[r.to]; ok {
				h.deliver(r.to, r.data)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("ws: dropping message for slow client")
	}
}

// follow forwards one bus channel into the relay queue.
func (h *Hub) follow(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: following channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: channel closed", slog.String("channel", channel))
				return
			}
			m := relayed{channel: channel, marketID: eventMarket(data), data: data}
			select {
			case h.relay <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. Query parameters:
// markets=1,2 limits market events to those ids; since=<stream id> replays
// settlement events recorded after that id.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	markets, err := parseMarkets(r.URL.Query().Get("markets"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, markets)
	c.send <- h.statusMessage()
	if since := r.URL.Query().Get("since"); since != "" {
		h.replay(r.Context(), c, since)
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// replay queues stored settlement events for a client that is not yet
// registered, so nothing else writes to its send channel.
func (h *Hub) replay(ctx context.Context, c *client, since string) {
	msgs, err := h.bus.StreamRead(ctx, domain.StreamResolutions, since, replayLimit)
	if err != nil {
		h.logger.Warn("ws: replay failed", slog.String("since", since), slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		if !c.wants(domain.ChannelMarket, eventMarket(m.Payload)) {
			continue
		}
		data := envelope("replay", map[string]any{"id": m.ID, "event": json.RawMessage(m.Payload)})
		select {
		case c.send <- data:
		default:
			return
		}
	}
}

func (h *Hub) statusMessage() []byte {
	uptime := max(int64(time.Since(h.startedAt).Seconds()), 0)
	return envelope("settler_status", map[string]any{
		"mode":           h.mode,
		"uptime_seconds": uptime,
		"channels":       Channels,
	})
}

// sendTo queues a reply for one client through the hub loop.
func (h *Hub) sendTo(c *client, data []byte) {
	select {
	case h.replies <- reply{to: c, data: data}:
	case <-h.done:
	}
}

func envelope(kind string, payload any) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":        kind,
		"payload":     payload,
		"occurred_at": time.Now().UTC(),
	})
	return data
}

// eventMarket extracts market_id from a lifecycle event, or 0.
func eventMarket(data []byte) uint64 {
	var ev struct {
		MarketID uint64 `json:"market_id"`
	}
	_ = json.Unmarshal(data, &ev)
	return ev.MarketID
}

func parseMarkets(raw string) ([]uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []uint64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid market id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// request is a client control message, e.g.
// {"action":"subscribe","channels":["ch:market"],"markets":[7]}.
type request struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Markets  []uint64 `json:"markets"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]bool
	markets  map[uint64]bool // empty: every market
}

func newClient(h *Hub, conn *websocket.Conn, markets []uint64) *client {
	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]bool, len(Channels)),
		markets:  make(map[uint64]bool, len(markets)),
	}
	for _, ch := range Channels {
		c.channels[ch] = true
	}
	for _, id := range markets {
		c.markets[id] = true
	}
	return c
}

// wants reports whether an event on channel about marketID should reach
// the client. Events without a market pass any market filter.
func (c *client) wants(channel string, marketID uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.channels[channel] {
		return false
	}
	return marketID == 0 || len(c.markets) == 0 || c.markets[marketID]
}

// apply updates the client's filters. Channel names may end in "*" to match
// every relayed channel with that prefix; unknown channels are ignored.
func (c *client) apply(req request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var on bool
	switch req.Action {
	case "subscribe":
		on = true
	case "unsubscribe":
		on = false
	default:
		return fmt.Errorf("unknown action %q", req.Action)
	}

	for _, ch := range expandChannels(req.Channels) {
		if on {
			c.channels[ch] = true
		} else {
			delete(c.channels, ch)
		}
	}
	for _, id := range req.Markets {
		if on {
			c.markets[id] = true
		} else {
			delete(c.markets, id)
		}
	}
	return nil
}

func (c *client) filters() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	markets := make([]uint64, 0, len(c.markets))
	for id := range c.markets {
		markets = append(markets, id)
	}
	slices.Sort(channels)
	slices.Sort(markets)
	return map[string]any{"channels": channels, "markets": markets}
}

func expandChannels(names []string) []string {
	var out []string
	for _, name := range names {
		prefix, wildcard := strings.CutSuffix(name, "*")
		for _, ch := range Channels {
			if ch == name || (wildcard && strings.HasPrefix(ch, prefix)) {
				out = append(out, ch)
			}
		}
	}
	return out
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var req request
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.sendTo(c, envelope("error", map[string]any{"message": "invalid json"}))
			continue
		}
		if err := c.apply(req); err != nil {
			c.hub.sendTo(c, envelope("error", map[string]any{"message": err.Error()}))
			continue
		}
		c.hub.sendTo(c, envelope("subscription", c.filters()))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
