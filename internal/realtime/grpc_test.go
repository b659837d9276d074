// ABOUTME: Tests for the gRPC Board/Connect stream over bufconn
// ABOUTME: Admission runs through the real auth stream interceptor and JWT resolver

package realtime

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/rooms"
	"github.com/2389/taskboard-gateway/internal/store"
	"github.com/2389/taskboard-gateway/internal/tasks"
)

type grpcFixture struct {
	cc      *grpc.ClientConn
	hub     *Hub
	tokens  *auth.JWTVerifier
	project *store.Project
	member  *store.User
}

func startGRPC(t *testing.T) *grpcFixture {
	t.Helper()
	st := store.NewMockStore()
	now := time.Now().UTC()
	member := &store.User{ID: store.NewID(), Name: "alice", Email: "alice@example.com", Role: store.RoleUser, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateUser(context.Background(), member))
	project := &store.Project{ID: store.NewID(), Title: "Launch", Description: "x", Status: store.ProjectActive, Members: []string{member.ID}, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateProject(context.Background(), project))

	tokens, err := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	resolver := auth.NewResolver(tokens, st)

	registry := rooms.NewRegistry()
	hub := NewHub(resolver, registry, nil)
	svc := tasks.New(st, rooms.NewBroadcaster(registry, hub, nil), nil)
	server := NewServer(hub, svc, DefaultConfig(), nil, nil)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.StreamInterceptor(auth.StreamInterceptor(resolver, nil)))
	RegisterBoard(gs, server)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })

	return &grpcFixture{cc: cc, hub: hub, tokens: tokens, project: project, member: member}
}

func (f *grpcFixture) open(t *testing.T, token string) grpc.ClientStream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	stream, err := OpenBoard(ctx, f.cc)
	require.NoError(t, err)
	return stream
}

func TestGRPC_ConnectAndSubscribe(t *testing.T) {
	f := startGRPC(t)
	token, err := f.tokens.Generate(f.member.ID, time.Hour)
	require.NoError(t, err)

	stream := f.open(t, token)

	var ready Frame
	require.NoError(t, stream.RecvMsg(&ready))
	assert.Equal(t, FrameReady, ready.Type)
	assert.Equal(t, f.member.ID, ready.UserID)

	require.NoError(t, stream.SendMsg(request(RequestSubscribeProject, "1", f.project.ID)))
	var ack Frame
	require.NoError(t, stream.RecvMsg(&ack))
	assert.True(t, decodeReply(t, &ack).Success)

	c, ok := f.hub.Get(ready.ConnectionID)
	require.True(t, ok)
	assert.Equal(t, "grpc", c.Transport())
	assert.Contains(t, f.hub.Channels(c), rooms.ProjectChannel(f.project.ID))

	require.NoError(t, stream.CloseSend())
	assert.Eventually(t, func() bool { return f.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGRPC_RefusesMissingToken(t *testing.T) {
	f := startGRPC(t)

	for _, token := range []string{"", "not-a-jwt"} {
		stream := f.open(t, token)
		var frame Frame
		err := stream.RecvMsg(&frame)
		require.Error(t, err)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
		assert.Equal(t, "authentication error", status.Convert(err).Message())
	}
	assert.Equal(t, 0, f.hub.Count())
}

func TestGRPC_MalformedFrameKeepsStream(t *testing.T) {
	f := startGRPC(t)
	token, err := f.tokens.Generate(f.member.ID, time.Hour)
	require.NoError(t, err)

	stream := f.open(t, token)
	var ready Frame
	require.NoError(t, stream.RecvMsg(&ready))

	bad := RawMessage(`{"type":"request","event":"subscribe-project","ack":7}`)
	require.NoError(t, stream.SendMsg(&bad))
	var errFrame Frame
	require.NoError(t, stream.RecvMsg(&errFrame))
	assert.Equal(t, FrameError, errFrame.Type)
	assert.Equal(t, "invalid payload", errFrame.Error)

	require.NoError(t, stream.SendMsg(request(RequestSubscribeProject, "1", f.project.ID)))
	var ack Frame
	require.NoError(t, stream.RecvMsg(&ack))
	assert.True(t, decodeReply(t, &ack).Success)
	assert.Equal(t, 1, f.hub.Count())
}
