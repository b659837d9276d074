// ABOUTME: gRPC transport: taskboard.v1.Board/Connect bidi stream carrying JSON frames
// ABOUTME: Admission happens in the auth stream interceptor before the handler runs

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/2389/taskboard-gateway/internal/auth"
)

// ConnectMethod is the full gRPC method name of the realtime stream.
const ConnectMethod = "/taskboard.v1.Board/Connect"

// CodecName is the content-subtype clients must request ("application/grpc+json").
const CodecName = "json"

// jsonCodec lets the Board service exchange Frame values without
// generated protobuf messages. RawMessage values pass through untouched so
// the server decodes frames itself and a bad one does not end the stream.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if raw, ok := v.(*RawMessage); ok {
		return *raw, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if raw, ok := v.(*RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return CodecName }

// RawMessage is an undecoded message body on the Board stream.
type RawMessage []byte

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// BoardServer is the handler interface of the Board service.
type BoardServer interface {
	Connect(stream grpc.ServerStream) error
}

var boardServiceDesc = grpc.ServiceDesc{
	ServiceName: "taskboard.v1.Board",
	HandlerType: (*BoardServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "taskboard/v1/board",
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(BoardServer).Connect(stream)
}

// RegisterBoard registers s as the Board service on registrar.
func RegisterBoard(registrar grpc.ServiceRegistrar, s *Server) {
	registrar.RegisterService(&boardServiceDesc, s)
}

// OpenBoard starts a Connect stream on cc. The caller attaches the bearer
// token as "authorization" metadata on ctx.
func OpenBoard(ctx context.Context, cc grpc.ClientConnInterface) (grpc.ClientStream, error) {
	return cc.NewStream(ctx, &boardServiceDesc.Streams[0], ConnectMethod, grpc.CallContentSubtype(CodecName))
}

// grpcTransport adapts a server stream to Transport. Close is a no-op:
// the stream ends when the handler returns.
type grpcTransport struct {
	stream grpc.ServerStream
}

func (t *grpcTransport) Name() string { return "grpc" }

func (t *grpcTransport) ReadFrame(ctx context.Context) (*Frame, error) {
	var raw RawMessage
	if err := t.stream.RecvMsg(&raw); err != nil {
		return nil, err
	}
	return decodeFrame(raw)
}

func (t *grpcTransport) WriteFrame(f *Frame) error {
	return t.stream.SendMsg(f)
}

func (t *grpcTransport) Close() error { return nil }

// Connect implements BoardServer. The principal was attached to the
// stream context by auth.StreamInterceptor.
func (s *Server) Connect(stream grpc.ServerStream) error {
	ctx := stream.Context()
	p := auth.FromContext(ctx)
	if p == nil {
		s.metrics.AdmissionFailed("grpc")
		return status.Error(codes.Unauthenticated, auth.ErrUnauthenticated.Error())
	}

	c := s.hub.Attach(p, &grpcTransport{stream: stream})
	s.Serve(ctx, c)

	// SendMsg must not run after the handler returns.
	select {
	case <-c.written:
	case <-time.After(writeWait):
		s.logger.Warn("writer still busy at stream end", "conn_id", c.ID)
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return status.FromContextError(err).Err()
	}
	return nil
}

// isStreamEnd reports whether err is a normal end of a client stream.
func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled
}
