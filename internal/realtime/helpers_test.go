// ABOUTME: Shared fakes for realtime tests: in-memory transport, resolver and wiring
// ABOUTME: Lets hub and server tests run without sockets

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/rooms"
	"github.com/2389/taskboard-gateway/internal/store"
	"github.com/2389/taskboard-gateway/internal/tasks"
)

var errPipeClosed = errors.New("pipe closed")

// pipeTransport is an in-memory Transport. Tests push client frames into
// in and read server frames from out.
type pipeTransport struct {
	in         chan *Frame
	out        chan *Frame
	closed     chan struct{}
	once       sync.Once
	failWrites atomic.Bool
}

func newPipe() *pipeTransport {
	return &pipeTransport{
		in:     make(chan *Frame, 16),
		out:    make(chan *Frame, 256),
		closed: make(chan struct{}),
	}
}

func (p *pipeTransport) Name() string { return "pipe" }

func (p *pipeTransport) ReadFrame(ctx context.Context) (*Frame, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *pipeTransport) WriteFrame(f *Frame) error {
	if p.failWrites.Load() {
		return errPipeClosed
	}
	select {
	case p.out <- f:
		return nil
	case <-p.closed:
		return errPipeClosed
	}
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeTransport) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// next returns the next frame the server wrote, failing after a second.
func (p *pipeTransport) next(t *testing.T) *Frame {
	t.Helper()
	select {
	case f := <-p.out:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

// nextOfType skips frames until one of the given type arrives.
func (p *pipeTransport) nextOfType(t *testing.T, typ string) *Frame {
	t.Helper()
	for {
		f := p.next(t)
		if f.Type == typ {
			return f
		}
	}
}

// assertQuiet checks that no frame arrives within a short window.
func (p *pipeTransport) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case f := <-p.out:
		t.Fatalf("unexpected frame: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func request(event, ack string, data any) *Frame {
	raw, _ := json.Marshal(data)
	return &Frame{Type: FrameRequest, Event: event, Ack: ack, Data: raw}
}

// stubResolver maps tokens to principals.
type stubResolver map[string]*auth.Principal

func (r stubResolver) Resolve(ctx context.Context, credential string) (*auth.Principal, error) {
	p, ok := r[credential]
	if !ok {
		return nil, auth.ErrUnauthenticated
	}
	return p, nil
}

// world wires a hub, broadcaster and tasks service over a MockStore seeded
// with an admin, a member, an outsider and one project.
type world struct {
	hub      *Hub
	server   *Server
	store    *store.MockStore
	resolver stubResolver
	admin    *auth.Principal
	member   *auth.Principal
	outsider *auth.Principal
	project  *store.Project
}

func newWorld(t *testing.T, access string) *world {
	t.Helper()
	st := store.NewMockStore()
	ctx := context.Background()
	now := time.Now().UTC()

	mkUser := func(name string, role store.Role) *auth.Principal {
		u := &store.User{ID: store.NewID(), Name: name, Email: name + "@example.com", Role: role, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, st.CreateUser(ctx, u))
		return &auth.Principal{ID: u.ID, Role: role}
	}
	admin := mkUser("root", store.RoleAdmin)
	member := mkUser("alice", store.RoleUser)
	outsider := mkUser("mallory", store.RoleUser)

	project := &store.Project{
		ID:          store.NewID(),
		Title:       "Launch",
		Description: "Ship it",
		Status:      store.ProjectActive,
		Members:     []string{member.ID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, st.CreateProject(ctx, project))

	resolver := stubResolver{"admin-token": admin, "member-token": member, "outsider-token": outsider}
	registry := rooms.NewRegistry()
	hub := NewHub(resolver, registry, nil)
	broadcaster := rooms.NewBroadcaster(registry, hub, nil)
	svc := tasks.New(st, broadcaster, nil)
	server := NewServer(hub, svc, Config{ProjectAccess: access}, nil, nil)
	t.Cleanup(hub.CloseAll)

	return &world{
		hub:      hub,
		server:   server,
		store:    st,
		resolver: resolver,
		admin:    admin,
		member:   member,
		outsider: outsider,
		project:  project,
	}
}

// connect admits a pipe connection with token and starts serving it.
// The ready frame is consumed.
func (w *world) connect(t *testing.T, token string) (*Conn, *pipeTransport) {
	t.Helper()
	pipe := newPipe()
	c, err := w.hub.Admit(t.Context(), token, pipe)
	require.NoError(t, err)
	go w.server.Serve(context.Background(), c)

	ready := pipe.next(t)
	require.Equal(t, FrameReady, ready.Type)
	return c, pipe
}

func decodeReply(t *testing.T, f *Frame) Reply {
	t.Helper()
	require.Equal(t, FrameAck, f.Type)
	var r Reply
	require.NoError(t, json.Unmarshal(f.Data, &r))
	return r
}
