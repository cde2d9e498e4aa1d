package hub

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/filepull/pkg/protocol"
)

var (
	// ErrClientIDTaken means a live registered connection already holds the
	// clientId.
	ErrClientIDTaken = errors.New("clientId already in use")

	// ErrClientNotConnected means no registered endpoint holds the clientId.
	ErrClientNotConnected = errors.New("client not connected")
)

// ClientSnapshot is the control-plane view of a registered endpoint.
type ClientSnapshot struct {
	ClientID      string                   `json:"clientId"`
	RemoteAddr    string                   `json:"remoteAddr,omitempty"`
	ConnectedAt   time.Time                `json:"connectedAt"`
	LastHeartbeat time.Time                `json:"lastHeartbeat"`
	Status        string                   `json:"status"`
	Metadata      *protocol.ClientMetadata `json:"metadata,omitempty"`
}

// registry maps clientId to its live connection. At most one connection
// holds a given id at any instant; a duplicate REGISTER is refused.
type registry struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint
}

func newRegistry() *registry {
	return &registry{endpoints: make(map[string]*endpoint)}
}

func (r *registry) register(clientID string, e *endpoint) error {
	if clientID == "" {
		return fmt.Errorf("cannot register with empty clientId")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.endpoints[clientID]; exists {
		return fmt.Errorf("%w: %s", ErrClientIDTaken, clientID)
	}
	r.endpoints[clientID] = e
	return nil
}

// unregister drops the clientId only if this connection still holds it,
// so a late teardown cannot evict a newer registration.
func (r *registry) unregister(clientID string, e *endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.endpoints[clientID]; ok && current == e {
		delete(r.endpoints, clientID)
	}
}

func (r *registry) get(clientID string) (*endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[clientID]
	return e, ok
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

func (r *registry) all() []*endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoints := make([]*endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		endpoints = append(endpoints, e)
	}
	return endpoints
}

func (r *registry) snapshots() []ClientSnapshot {
	endpoints := r.all()

	snaps := make([]ClientSnapshot, 0, len(endpoints))
	for _, e := range endpoints {
		snaps = append(snaps, e.snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].ClientID < snaps[j].ClientID
	})
	return snaps
}
