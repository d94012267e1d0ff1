package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"keybubbles/internal/workerutil"
)

const (
	defaultConnTimeout = 10 * time.Second
	maxRequestBytes    = 4 * 1024
	// The CLI and installer connect one at a time; a handful of slots is
	// plenty.
	maxConcurrentConnections = 8
	connSlotAcquireTimeout   = 2 * time.Second
)

// listenFn is a test seam.
var listenFn = listen

// Server accepts control connections on the per-user endpoint.
type Server struct {
	endpoint string
	handler  Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listener  net.Listener
	started   bool
	wg        sync.WaitGroup
	connSlots chan struct{}
}

// NewServer creates a server. An empty endpoint uses DefaultEndpoint.
func NewServer(endpoint string, handler Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if endpoint == "" {
		endpoint = DefaultEndpoint()
	}
	return &Server{
		endpoint:  endpoint,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
		connSlots: make(chan struct{}, maxConcurrentConnections),
	}
}

// Endpoint returns the pipe name or socket path.
func (s *Server) Endpoint() string { return s.endpoint }

// Start begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("control server already started")
	}
	if s.handler == nil {
		return errors.New("control server requires a handler")
	}
	ln, err := listenFn(s.endpoint)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.endpoint, err)
	}
	s.listener = ln
	s.started = true
	s.wg.Go(s.acceptLoop)
	slog.Info("[ipc] control server listening", "endpoint", s.endpoint)
	return nil
}

// Stop closes the listener and waits for in-flight requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	var closeErr error
	if ln != nil {
		closeErr = ln.Close()
	}
	s.wg.Wait()
	return closeErr
}

func (s *Server) acceptLoop() {
	consecutiveErrors := 0
	for {
		s.mu.Lock()
		ln := s.listener
		s.mu.Unlock()
		if ln == nil {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			consecutiveErrors++
			if consecutiveErrors > 10 {
				slog.Warn("[ipc] repeated accept failures", "error", err, "count", consecutiveErrors)
				time.Sleep(500 * time.Millisecond)
			} else {
				slog.Debug("[ipc] accept error", "error", err)
			}
			continue
		}
		consecutiveErrors = 0

		if !s.acquireSlot() {
			writeResponse(conn, Response{Message: "server busy, try again later"})
			_ = conn.Close()
			continue
		}
		s.wg.Go(func() {
			defer s.releaseSlot()
			s.handleConnection(conn)
		})
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	// Runs before Close so the client still gets an answer.
	defer workerutil.RecoverPanic("ipc-conn", func(err error) {
		writeResponse(conn, Response{Message: err.Error()})
	})
	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		slog.Warn("[ipc] failed to set connection deadline", "error", err)
		return
	}

	raw, err := readFrame(bufio.NewReaderSize(conn, maxRequestBytes+1), maxRequestBytes)
	if errors.Is(err, io.EOF) {
		slog.Debug("[ipc] client disconnected without a request")
		return
	}
	if err != nil {
		writeResponse(conn, Response{Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	req, err := decodeRequest(raw)
	if err != nil {
		writeResponse(conn, Response{Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	slog.Debug("[ipc] request received", "command", req.Command)
	writeResponse(conn, s.handler.Handle(req))
}

func writeResponse(conn net.Conn, resp Response) {
	raw, err := encodeResponse(resp)
	if err != nil {
		slog.Warn("[ipc] failed to encode response", "error", err)
		raw = []byte(`{"ok":false,"paused":false,"message":"internal encode error"}`)
	}
	if _, err := conn.Write(append(raw, '\n')); err != nil {
		slog.Debug("[ipc] failed to write response", "error", err)
	}
}

// readFrame reads one newline-terminated message. A final message without
// the newline is accepted at EOF.
func readFrame(reader *bufio.Reader, maxBytes int) ([]byte, error) {
	raw, err := reader.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, fmt.Errorf("message exceeds %d bytes", maxBytes)
	case errors.Is(err, io.EOF):
		if len(raw) == 0 {
			return nil, io.EOF
		}
		return raw, nil
	case err != nil:
		return nil, err
	}
	return raw, nil
}

func (s *Server) acquireSlot() bool {
	timer := time.NewTimer(connSlotAcquireTimeout)
	defer timer.Stop()
	select {
	case s.connSlots <- struct{}{}:
		return true
	case <-timer.C:
		slog.Warn("[ipc] connection slots exhausted, rejecting client")
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) releaseSlot() {
	select {
	case <-s.connSlots:
	default:
		slog.Warn("[ipc] releaseSlot without a held slot")
	}
}
