// Package hub fans received CAN frames out to connected bridge clients.
package hub

import (
	"fmt"
	"sync"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/logging"
	"github.com/kstaniek/go-socketcan/internal/metrics"
)

// BackpressurePolicy decides what happens to a client whose Out buffer is
// full: PolicyDrop loses the frame, PolicyKick disconnects the client.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

func (p BackpressurePolicy) String() string {
	switch p {
	case PolicyDrop:
		return "drop"
	case PolicyKick:
		return "kick"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy accepts the names printed by BackpressurePolicy.String.
func ParsePolicy(s string) (BackpressurePolicy, error) {
	switch s {
	case "drop":
		return PolicyDrop, nil
	case "kick":
		return PolicyKick, nil
	}
	return PolicyDrop, fmt.Errorf("hub: unknown policy %q", s)
}

// Client is one consumer of the broadcast stream. Filters, when set, limit
// which frames are queued on Out; error frames always pass.
type Client struct {
	Out       chan can.Frame
	Closed    chan struct{}
	Filters   can.Filters
	closeOnce sync.Once
}

// NewClient returns a client with an Out buffer of size buf.
func NewClient(buf int, filters can.Filters) *Client {
	return &Client{
		Out:     make(chan can.Frame, buf),
		Closed:  make(chan struct{}),
		Filters: filters,
	}
}

// Close marks the client done. The server tears the connection down when
// it sees Closed; repeated calls are no-ops.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

// offer queues fr without blocking and reports whether it fit.
func (c *Client) offer(fr can.Frame) bool {
	select {
	case c.Out <- fr:
		return true
	default:
		return false
	}
}

// Hub fans frames out to the registered clients. Set OutBufSize and Policy
// before the first Add.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers c.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(n)
	if n == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters and closes c. Safe to call more than once.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, found := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(n)
	if found && n == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast queues fr on every client whose filters accept it. A client
// whose queue is full loses the frame under PolicyDrop and is closed under
// PolicyKick.
func (h *Hub) Broadcast(fr can.Frame) {
	clients := h.Snapshot()
	metrics.SetBroadcastFanout(len(clients))
	sampleDepth(clients)
	for _, c := range clients {
		switch {
		case !c.Filters.Accept(fr):
			metrics.IncHubFiltered()
		case c.offer(fr):
		case h.Policy == PolicyKick:
			metrics.IncHubKick()
			c.Close()
		default:
			metrics.IncHubDrop()
		}
	}
}

func sampleDepth(clients []*Client) {
	if len(clients) == 0 {
		return
	}
	var deepest, total int
	for _, c := range clients {
		d := len(c.Out)
		deepest = max(deepest, d)
		total += d
	}
	metrics.SetQueueDepth(deepest, total/len(clients))
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
