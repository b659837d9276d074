// ABOUTME: Hub admits realtime connections and owns their channel memberships
// ABOUTME: It is the only writer to the room registry and serves as the broadcaster's sink lookup

package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/metrics"
	"github.com/2389/taskboard-gateway/internal/rooms"
)

// DefaultSendBuffer is the outbound queue length of a connection.
const DefaultSendBuffer = 64

// PrincipalResolver turns a bearer credential into a Principal.
type PrincipalResolver interface {
	Resolve(ctx context.Context, credential string) (*auth.Principal, error)
}

// Hub tracks every open connection and its channel memberships.
type Hub struct {
	resolver   PrincipalResolver
	registry   *rooms.Registry
	sendBuffer int
	metrics    *metrics.Metrics
	logger     *slog.Logger

	conns map[string]*Conn
	mu    sync.RWMutex
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSendBuffer sets the outbound queue length of new connections.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) { h.sendBuffer = n }
}

// WithHubMetrics records connection counts and admission failures.
func WithHubMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a Hub. Pass nil logger for default.
func NewHub(resolver PrincipalResolver, registry *rooms.Registry, logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		resolver:   resolver,
		registry:   registry,
		sendBuffer: DefaultSendBuffer,
		logger:     logger.With("component", "hub"),
		conns:      make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Admit resolves credential and, on success, opens a connection on t.
// On failure nothing is registered and the caller must close t itself;
// the returned error is always auth.ErrUnauthenticated.
func (h *Hub) Admit(ctx context.Context, credential string, t Transport) (*Conn, error) {
	p, err := h.resolver.Resolve(ctx, credential)
	if err != nil {
		h.metrics.AdmissionFailed(t.Name())
		h.logger.Warn("connection refused", "transport", t.Name(), "error", err)
		return nil, auth.ErrUnauthenticated
	}
	return h.Attach(p, t), nil
}

// Attach opens a connection for an already-resolved principal, joins it
// to the principal's user channel and starts its writer. The first frame
// queued is the ready frame.
func (h *Hub) Attach(p *auth.Principal, t Transport) *Conn {
	id := uuid.NewString()
	c := newConn(id, p, t, h.sendBuffer, h.logger.With("conn_id", id, "user_id", p.ID))

	h.mu.Lock()
	h.conns[id] = c
	total := len(h.conns)
	h.mu.Unlock()

	h.registry.Join(id, rooms.UserChannel(p.ID))
	h.metrics.ConnectionOpened(t.Name())
	h.metrics.ChannelJoin(string(rooms.KindUser), "ok")

	c.push(&Frame{Type: FrameReady, ConnectionID: id, UserID: p.ID})
	go c.writeLoop(func() { h.Close(c) })

	h.logger.Info("connection opened",
		"conn_id", id,
		"user_id", p.ID,
		"transport", t.Name(),
		"total_connections", total,
	)
	return c
}

// Subscribe joins c to a project channel. Joining twice is a no-op.
// Access policy is the caller's concern.
func (h *Hub) Subscribe(c *Conn, projectID string) bool {
	if !h.isOpen(c) {
		return false
	}
	ch := rooms.ProjectChannel(projectID)
	joined := h.registry.Join(c.ID, ch)
	// A Close that raced with the join has already run LeaveAll.
	if !h.isOpen(c) {
		h.registry.Leave(c.ID, ch)
		return false
	}
	return joined
}

// Unsubscribe removes c from a project channel.
func (h *Hub) Unsubscribe(c *Conn, projectID string) bool {
	return h.registry.Leave(c.ID, rooms.ProjectChannel(projectID))
}

// UnsubscribeAll leaves every project channel but keeps the user channel.
func (h *Hub) UnsubscribeAll(c *Conn) []rooms.ChannelID {
	return h.registry.LeaveKind(c.ID, rooms.KindProject)
}

// Close removes c from every channel and from the hub, then closes its
// transport. Safe to call more than once.
func (h *Hub) Close(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.ID]
	delete(h.conns, c.ID)
	total := len(h.conns)
	h.mu.Unlock()

	left := h.registry.LeaveAll(c.ID)
	c.close()

	if !ok {
		return
	}
	h.metrics.ConnectionClosed(c.Transport())
	h.logger.Info("connection closed",
		"conn_id", c.ID,
		"user_id", c.Principal.ID,
		"channels_left", len(left),
		"total_connections", total,
	)
}

// CloseAll closes every open connection. Used at shutdown.
func (h *Hub) CloseAll() {
	for _, c := range h.Connections() {
		h.Close(c)
	}
}

// Sink implements rooms.SinkLookup.
func (h *Hub) Sink(connID string) (rooms.Sink, bool) {
	c, ok := h.Get(connID)
	if !ok {
		return nil, false
	}
	return c, true
}

// Get returns an open connection by id.
func (h *Hub) Get(connID string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	return c, ok
}

// Connections returns the open connections ordered by id.
func (h *Hub) Connections() []*Conn {
	h.mu.RLock()
	out := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Channels returns the channels c is currently a member of.
func (h *Hub) Channels(c *Conn) []rooms.ChannelID {
	return h.registry.ChannelsOf(c.ID)
}

func (h *Hub) isOpen(c *Conn) bool {
	open, ok := h.Get(c.ID)
	return ok && open == c
}

// Compile-time check that Hub resolves broadcast sinks
var _ rooms.SinkLookup = (*Hub)(nil)
