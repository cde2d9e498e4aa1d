// Package hub accepts the persistent websocket connections from endpoint
// agents, keeps the clientId registry, parses and dispatches protocol
// messages into the transfer manager, runs the heartbeat/liveness sweep,
// and sends outbound frames (download requests, retries, cancels) on behalf
// of the control plane.
package hub

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/marmos91/filepull/internal/logger"
	"github.com/marmos91/filepull/pkg/metrics"
	"github.com/marmos91/filepull/pkg/protocol"
	"github.com/marmos91/filepull/pkg/transfer"
)

// Defaults for the connection lifecycle.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStaleTimeout      = 90 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultOutboundBuffer    = 64

	// DefaultMaxMessageSize bounds one inbound frame. A FILE_CHUNK carries
	// 1 MiB of data base64-encoded (~1.37 MiB) plus envelope.
	DefaultMaxMessageSize = 2 * protocol.ChunkSize
)

// Config holds configuration for the Hub.
type Config struct {
	// HeartbeatInterval is how often the hub pings endpoints and checks
	// liveness. Default: 30s
	HeartbeatInterval time.Duration

	// StaleTimeout is how long an endpoint may go without a PONG before its
	// connection is terminated. Default: 3 × heartbeat interval.
	StaleTimeout time.Duration

	// WriteTimeout bounds a single websocket write. Default: 10s
	WriteTimeout time.Duration

	// MaxMessageSize bounds one inbound frame in bytes.
	MaxMessageSize int64

	// OutboundBuffer is the per-connection outbound queue depth.
	OutboundBuffer int
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		StaleTimeout:      DefaultStaleTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		MaxMessageSize:    DefaultMaxMessageSize,
		OutboundBuffer:    DefaultOutboundBuffer,
	}
}

// Hub is the websocket side of the server. It implements http.Handler for
// the upgrade endpoint and transfer.Notifier for retry dispatch.
type Hub struct {
	cfg      Config
	manager  *transfer.Manager
	metrics  metrics.HubMetrics
	registry *registry
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*endpoint
	closed bool
}

// New creates a Hub. met may be nil to disable metrics.
func New(cfg Config, manager *transfer.Manager, met metrics.HubMetrics) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 3 * cfg.HeartbeatInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = DefaultOutboundBuffer
	}

	return &Hub{
		cfg:      cfg,
		manager:  manager,
		metrics:  met,
		registry: newRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Agents are not browsers; origin checks do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*endpoint),
	}
}

// ServeHTTP upgrades an agent connection and runs its read loop until the
// socket closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed",
			logger.KeyRemoteAddr, r.RemoteAddr,
			logger.KeyError, err.Error())
		return
	}

	e := newEndpoint(uuid.NewString(), ws, h.cfg.OutboundBuffer, time.Now())

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[e.connID] = e
	h.mu.Unlock()

	logger.Debug("connection accepted",
		logger.KeyConnID, e.connID,
		logger.KeyRemoteAddr, e.remoteAddr)

	go e.writePump(h.cfg.WriteTimeout)
	h.readLoop(e)
}

// readLoop consumes frames until the socket closes. Panics in handlers
// terminate only this connection.
func (h *Hub) readLoop(e *endpoint) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("connection handler panic",
				logger.KeyConnID, e.connID,
				logger.KeyClientID, e.client(),
				"panic", fmt.Sprint(r))
		}
		h.teardown(e)
	}()

	e.ws.SetReadLimit(h.cfg.MaxMessageSize)
	for {
		_, data, err := e.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("connection read error",
					logger.KeyConnID, e.connID,
					logger.KeyClientID, e.client(),
					logger.KeyError, err.Error())
			}
			return
		}
		h.dispatch(e, data)
	}
}

// teardown closes a connection exactly once and removes every trace of it.
// In-flight transfers bound to the endpoint are left alone: their arrival
// timers decide their fate.
func (h *Hub) teardown(e *endpoint) {
	e.closeOnce.Do(func() {
		close(e.done)
		_ = e.ws.Close()

		h.mu.Lock()
		delete(h.conns, e.connID)
		h.mu.Unlock()

		if clientID := e.client(); clientID != "" {
			h.registry.unregister(clientID, e)
			h.recordConnected()
			logger.Info("endpoint disconnected",
				logger.KeyClientID, clientID,
				logger.KeyRemoteAddr, e.remoteAddr)
		} else {
			logger.Debug("connection closed before registration",
				logger.KeyConnID, e.connID)
		}
	})
}

// Shutdown stops accepting connections and closes every live one.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*endpoint, 0, len(h.conns))
	for _, e := range h.conns {
		conns = append(conns, e)
	}
	h.mu.Unlock()

	for _, e := range conns {
		h.teardown(e)
	}
	logger.Info("hub shut down", "connections_closed", len(conns))
}

// Clients returns snapshots of all registered endpoints, sorted by id.
func (h *Hub) Clients() []ClientSnapshot {
	return h.registry.snapshots()
}

// Client returns the snapshot of one registered endpoint.
func (h *Hub) Client(clientID string) (*ClientSnapshot, bool) {
	e, ok := h.registry.get(clientID)
	if !ok {
		return nil, false
	}
	snap := e.snapshot()
	return &snap, true
}

// IsConnected reports whether a registered endpoint holds the clientId.
func (h *Hub) IsConnected(clientID string) bool {
	_, ok := h.registry.get(clientID)
	return ok
}

// ConnectedCount returns the number of registered endpoints.
func (h *Hub) ConnectedCount() int {
	return h.registry.count()
}

// SendDownloadRequest asks an endpoint to start streaming a file.
func (h *Hub) SendDownloadRequest(clientID, requestID, filePath string) error {
	e, ok := h.registry.get(clientID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientNotConnected, clientID)
	}
	return h.send(e, protocol.NewDownloadRequest(requestID, clientID, filePath))
}

// SendCancelDownload tells an endpoint to stop streaming a transfer.
// Best-effort: a disconnected endpoint is not an error.
func (h *Hub) SendCancelDownload(clientID, requestID, reason string) {
	e, ok := h.registry.get(clientID)
	if !ok {
		return
	}
	if err := h.send(e, protocol.NewCancelDownload(requestID, reason)); err != nil {
		logger.Warn("cancel notification failed",
			logger.KeyClientID, clientID,
			logger.KeyTransferID, requestID,
			logger.KeyError, err.Error())
	}
}

// NotifyRetry implements transfer.Notifier: send a RETRY_CHUNK after the
// backoff delay. A no-op when the endpoint is gone; the arrival timer still
// governs the wait.
func (h *Hub) NotifyRetry(clientID, requestID string, chunkIndex, attempt int, reason string) {
	e, ok := h.registry.get(clientID)
	if !ok {
		logger.Debug("retry dropped, endpoint not connected",
			logger.KeyClientID, clientID,
			logger.KeyTransferID, requestID,
			logger.KeyChunkIndex, chunkIndex)
		return
	}
	if err := h.send(e, protocol.NewRetryChunk(requestID, chunkIndex, attempt, reason)); err != nil {
		logger.Warn("retry notification failed",
			logger.KeyClientID, clientID,
			logger.KeyTransferID, requestID,
			logger.KeyError, err.Error())
	}
}

// send encodes a frame and hands it to the connection's write pump.
func (h *Hub) send(e *endpoint, msg any) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", messageTag(msg), err)
	}
	if err := e.enqueue(data); err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.RecordMessageSent(messageTag(msg))
	}
	return nil
}

func (h *Hub) sendError(e *endpoint, code, message string) {
	if err := h.send(e, protocol.NewError(code, message)); err != nil {
		logger.Debug("error frame not delivered",
			logger.KeyConnID, e.connID,
			logger.KeyError, err.Error())
	}
}

func (h *Hub) recordConnected() {
	if h.metrics != nil {
		h.metrics.SetConnectedEndpoints(h.registry.count())
	}
}

// messageTag returns the protocol tag of an outbound message for logs and
// metrics.
func messageTag(msg any) string {
	switch m := msg.(type) {
	case *protocol.RegisterAck:
		return string(m.Type)
	case *protocol.DownloadRequest:
		return string(m.Type)
	case *protocol.RetryChunk:
		return string(m.Type)
	case *protocol.CancelDownload:
		return string(m.Type)
	case *protocol.Heartbeat:
		return string(m.Type)
	case *protocol.ErrorMessage:
		return string(m.Type)
	default:
		return fmt.Sprintf("%T", msg)
	}
}
