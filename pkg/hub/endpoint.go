package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marmos91/filepull/pkg/protocol"
)

// endpoint is one live agent connection. It exists from the moment the
// socket upgrades; clientID stays empty until a REGISTER is accepted.
//
// A single writer goroutine (writePump) owns the websocket write side;
// everything outbound goes through the buffered channel.
type endpoint struct {
	connID     string
	ws         *websocket.Conn
	remoteAddr string

	mu            sync.Mutex
	clientID      string
	metadata      *protocol.ClientMetadata
	connectedAt   time.Time
	lastHeartbeat time.Time

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newEndpoint(connID string, ws *websocket.Conn, buffer int, now time.Time) *endpoint {
	return &endpoint{
		connID:        connID,
		ws:            ws,
		remoteAddr:    ws.RemoteAddr().String(),
		connectedAt:   now,
		lastHeartbeat: now,
		outbound:      make(chan []byte, buffer),
		done:          make(chan struct{}),
	}
}

// register attaches the clientId to this connection.
func (e *endpoint) register(clientID string, meta *protocol.ClientMetadata) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clientID = clientID
	e.metadata = meta
	e.lastHeartbeat = time.Now()
}

// client returns the registered clientId, or "" before REGISTER.
func (e *endpoint) client() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientID
}

func (e *endpoint) registered() bool {
	return e.client() != ""
}

// touch updates the liveness timestamp.
func (e *endpoint) touch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastHeartbeat = time.Now()
}

func (e *endpoint) heartbeat() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastHeartbeat
}

// enqueue hands a frame to the write pump. It never blocks: a full queue
// means the peer cannot keep up and the caller should treat the connection
// as broken.
func (e *endpoint) enqueue(data []byte) error {
	select {
	case <-e.done:
		return fmt.Errorf("connection %s closed", e.connID)
	default:
	}

	select {
	case e.outbound <- data:
		return nil
	case <-e.done:
		return fmt.Errorf("connection %s closed", e.connID)
	default:
		return fmt.Errorf("connection %s outbound queue full", e.connID)
	}
}

// writePump serializes all websocket writes for this connection. A write
// error closes the socket, which in turn unblocks the read loop.
func (e *endpoint) writePump(writeTimeout time.Duration) {
	for {
		select {
		case data := <-e.outbound:
			_ = e.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := e.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = e.ws.Close()
				return
			}
		case <-e.done:
			return
		}
	}
}

// snapshot builds the control-plane view of this endpoint.
func (e *endpoint) snapshot() ClientSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return ClientSnapshot{
		ClientID:      e.clientID,
		RemoteAddr:    e.remoteAddr,
		ConnectedAt:   e.connectedAt,
		LastHeartbeat: e.lastHeartbeat,
		Status:        "connected",
		Metadata:      e.metadata,
	}
}
