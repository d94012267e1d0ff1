package wsserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"keybubbles/internal/render"
	"keybubbles/internal/workerutil"
)

const (
	// writeDeadline bounds a single write; a WebView frozen longer than this
	// is treated as gone.
	writeDeadline = 5 * time.Second
	// readDeadline allows about three missed pings.
	readDeadline = 90 * time.Second
	pingInterval = 30 * time.Second

	// Client messages are tiny subscribe requests.
	maxReadMessageSize = 4 * 1024

	// maxClients covers the overlay plus a few settings tabs.
	maxClients = 8

	// maxQueued bounds a client's unsent messages. Frames coalesce into one
	// entry, so only status and error messages can fill it.
	maxQueued = 32

	shutdownTimeout = 5 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	// The listener is bound to loopback; the WebView origin varies by
	// platform (wails://, http://wails.localhost).
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// HubOptions configures the server.
type HubOptions struct {
	// Addr is the listen address. "127.0.0.1:0" picks a free port.
	Addr string
}

// client is one WebSocket connection. channels is guarded by Hub.mu.
// Data messages are written only by the client's write pump; pings use
// WriteControl, which gorilla/websocket allows concurrently.
type client struct {
	conn     *websocket.Conn
	channels map[Channel]bool

	sendMu sync.Mutex
	queue  []outbound
	wake   chan struct{}
	done   chan struct{}
}

type outbound struct {
	channel Channel
	payload []byte
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:     conn,
		channels: make(map[Channel]bool),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// enqueue never blocks. A frame replaces an unsent frame in place, so a
// slow reader gets the latest frame instead of a backlog. It reports false
// when the queue is full.
func (c *client) enqueue(ch Channel, payload []byte) bool {
	c.sendMu.Lock()
	replaced := false
	if ch == ChannelFrames {
		for i := range c.queue {
			if c.queue[i].channel == ChannelFrames {
				c.queue[i].payload = payload
				replaced = true
				break
			}
		}
	}
	if !replaced {
		if len(c.queue) >= maxQueued {
			c.sendMu.Unlock()
			return false
		}
		c.queue = append(c.queue, outbound{channel: ch, payload: payload})
	}
	c.sendMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *client) next() ([]byte, bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	msg := c.queue[0]
	c.queue[0] = outbound{}
	c.queue = c.queue[1:]
	return msg.payload, true
}

// Hub fans frames and status updates out to subscribed clients and serves
// extra HTTP handlers registered with Handle.
//
// client.sendMu and Hub.mu are never held together.
//
// Broadcasts only enqueue, so a stalled client never blocks the caller.
// Write failure policy: any failed write or a full queue drops the client;
// it reconnects.
type Hub struct {
	opts HubOptions
	mux  *http.ServeMux

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    map[Channel][]byte

	listener net.Listener
	server   *http.Server
	port     int

	closeOnce sync.Once
}

// NewHub creates a hub. Nothing listens until Start.
func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	h := &Hub{
		opts:    opts,
		mux:     http.NewServeMux(),
		clients: make(map[*client]struct{}),
		last:    make(map[Channel][]byte),
	}
	h.mux.HandleFunc("/ws", h.handleWS)
	return h
}

// Handle registers an HTTP handler on the hub's listener.
func (h *Hub) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// Start listens and serves. ctx becomes the base context of every request;
// the server itself stops only through Stop.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return errors.New("wsserver: already started")
	}
	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("wsserver: listen: %w", err)
	}
	h.listener = ln
	h.port = ln.Addr().(*net.TCPAddr).Port
	h.server = &http.Server{
		Handler:           h.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		defer workerutil.RecoverPanic("ws-serve", nil)
		if serveErr := h.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("[WS] server error", "error", serveErr)
		}
	}()
	slog.Info("[WS] server started", "url", h.URL())
	return nil
}

// Stop closes every client and shuts the server down. Idempotent.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		clients := make([]*client, 0, len(h.clients))
		for c := range h.clients {
			clients = append(clients, c)
		}
		h.clients = make(map[*client]struct{})
		h.mu.Unlock()

		for _, c := range clients {
			closeConn(c.conn, "server stopping")
		}
		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("wsserver: shutdown: %w", err)
			}
		}
		slog.Info("[WS] server stopped")
	})
	return stopErr
}

// URL is the frame stream endpoint, empty before Start.
func (h *Hub) URL() string {
	if h.port == 0 {
		return ""
	}
	return fmt.Sprintf("ws://127.0.0.1:%d/ws", h.port)
}

// BaseURL is the HTTP origin of the listener, empty before Start.
func (h *Hub) BaseURL() string {
	if h.port == 0 {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d", h.port)
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Present implements render.Sink.
func (h *Hub) Present(f render.Frame) {
	payload, err := EncodeFrame(f)
	if err != nil {
		slog.Warn("[WS] failed to encode frame", "error", err)
		return
	}
	h.broadcast(ChannelFrames, payload)
}

// PublishStatus sends the pause state to status subscribers.
func (h *Hub) PublishStatus(paused bool) {
	payload, err := EncodeStatus(paused)
	if err != nil {
		slog.Warn("[WS] failed to encode status", "error", err)
		return
	}
	h.broadcast(ChannelStatus, payload)
}

// broadcast remembers payload as the channel's latest message and writes it
// to every subscriber.
func (h *Hub) broadcast(ch Channel, payload []byte) {
	h.mu.Lock()
	h.last[ch] = payload
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.channels[ch] {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.send(c, ch, payload)
	}
}

// send queues payload for c and drops c when its queue is full.
func (h *Hub) send(c *client, ch Channel, payload []byte) bool {
	if c.enqueue(ch, payload) {
		return true
	}
	slog.Warn("[WS] send queue full, dropping client", "remoteAddr", c.conn.RemoteAddr())
	h.drop(c, "send queue full")
	return false
}

func (h *Hub) drop(c *client, reason string) {
	h.remove(c)
	closeConn(c.conn, reason)
}

// writePump is the only writer of data messages for c.
func (h *Hub) writePump(c *client) {
	defer workerutil.RecoverPanic("ws-write-pump", func(error) {
		h.drop(c, "write pump panic")
	})
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			payload, ok := c.next()
			if !ok {
				break
			}
			if err := writeMessage(c.conn, payload); err != nil {
				slog.Warn("[WS] write failed, dropping client", "remoteAddr", c.conn.RemoteAddr(), "error", err)
				h.drop(c, "write error")
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *Hub) remove(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	return true
}

// closeConn tolerates double close; gorilla returns an error and nothing else.
func closeConn(conn *websocket.Conn, reason string) {
	if err := conn.Close(); err != nil {
		slog.Debug("[WS] connection close", "reason", reason, "error", err)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := len(h.clients) >= maxClients
	h.mu.RUnlock()
	if full {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[WS] upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		closeConn(conn, "initial read deadline failure")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c := newClient(conn)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("[WS] client connected", "remoteAddr", conn.RemoteAddr())

	go h.writePump(c)
	go h.pingLoop(c)

	defer func() {
		close(c.done)
		h.remove(c)
		closeConn(conn, "read pump exit")
		slog.Info("[WS] client disconnected", "remoteAddr", conn.RemoteAddr())
	}()
	defer workerutil.RecoverPanic("ws-read-pump", nil)

	for {
		msgType, raw, readErr := conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[WS] read error", "error", readErr)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, decodeErr := decodeSubscribe(raw)
		if decodeErr != nil {
			slog.Debug("[WS] bad client message", "error", decodeErr)
			h.sendError(c, decodeErr.Error())
			continue
		}
		h.handleSubscription(c, msg)
	}
}

// handleSubscription updates the client's channels and replays the latest
// message of each newly subscribed channel.
func (h *Hub) handleSubscription(c *client, msg subscribeMsg) {
	var replay []outbound
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	for _, ch := range msg.Channels {
		switch msg.Action {
		case subscribeAction:
			if !c.channels[ch] {
				c.channels[ch] = true
				if last := h.last[ch]; last != nil {
					replay = append(replay, outbound{channel: ch, payload: last})
				}
			}
		case unsubscribeAction:
			delete(c.channels, ch)
		}
		slog.Debug("[WS] subscription changed", "action", msg.Action, "channel", ch)
	}
	h.mu.Unlock()

	for _, msg := range replay {
		if !h.send(c, msg.channel, msg.payload) {
			return
		}
	}
}

func (h *Hub) sendError(c *client, message string) {
	payload, err := jsonError(message)
	if err != nil {
		return
	}
	h.send(c, channelControl, payload)
}

func (h *Hub) pingLoop(c *client) {
	defer workerutil.RecoverPanic("ws-ping", func(error) {
		h.drop(c, "ping loop panic")
	})
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				slog.Warn("[WS] ping failed, dropping client", "remoteAddr", c.conn.RemoteAddr(), "error", err)
				h.drop(c, "ping error")
				return
			}
		}
	}
}
