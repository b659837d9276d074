// ABOUTME: WebSocket transport: upgrade, first-frame authentication and ping/pong keepalive
// ABOUTME: The credential travels in the auth frame, never in a header

package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single frame or control write.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsTransport adapts a gorilla websocket to Transport.
type wsTransport struct {
	socket   *websocket.Conn
	pongWait time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSTransport(socket *websocket.Conn, pongWait time.Duration) *wsTransport {
	return &wsTransport{socket: socket, pongWait: pongWait, closed: make(chan struct{})}
}

func (t *wsTransport) Name() string { return "ws" }

func (t *wsTransport) ReadFrame(ctx context.Context) (*Frame, error) {
	_, data, err := t.socket.ReadMessage()
	if err != nil {
		return nil, err
	}
	return decodeFrame(data)
}

func (t *wsTransport) WriteFrame(f *Frame) error {
	if err := t.socket.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.socket.WriteJSON(f)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		deadline := time.Now().Add(time.Second)
		_ = t.socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = t.socket.Close()
	})
	return err
}

// startKeepalive arms the read deadline, pushes it forward on every pong
// and pings the client every period until the transport closes. It must
// run before the read loop starts.
func (t *wsTransport) startKeepalive(period time.Duration) {
	_ = t.socket.SetReadDeadline(time.Now().Add(t.pongWait))
	t.socket.SetPongHandler(func(string) error {
		return t.socket.SetReadDeadline(time.Now().Add(t.pongWait))
	})
	go t.pingLoop(period)
}

func (t *wsTransport) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := t.socket.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				// Expected when the other end goes away; the read loop
				// notices through the read deadline.
				return
			}
		}
	}
}

// ServeHTTP upgrades the request and serves the connection. The first
// frame must be {"type":"auth","token":...} and arrive within the
// handshake timeout; otherwise the client gets a generic error frame and
// the socket is closed before any connection is registered.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("problem initiating websocket", "error", err)
		return
	}
	t := newWSTransport(socket, s.cfg.PongWait)

	token, err := s.readAuthFrame(t)
	if err != nil {
		s.logger.Debug("websocket handshake failed", "remote_addr", r.RemoteAddr, "error", err)
		s.metrics.AdmissionFailed(t.Name())
		s.refuse(t)
		return
	}

	c, err := s.hub.Admit(r.Context(), token, t)
	if err != nil {
		s.refuse(t)
		return
	}

	t.startKeepalive(s.cfg.PingPeriod)
	s.Serve(r.Context(), c)
}

var errNoAuthFrame = errors.New("first frame must be an auth frame")

func (s *Server) readAuthFrame(t *wsTransport) (string, error) {
	if err := t.socket.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return "", err
	}
	f, err := t.ReadFrame(context.Background())
	if err != nil {
		return "", err
	}
	if f.Type != FrameAuth || f.Token == "" {
		return "", errNoAuthFrame
	}
	return f.Token, t.socket.SetReadDeadline(time.Time{})
}

// refuse tells the client admission failed and closes the socket.
func (s *Server) refuse(t *wsTransport) {
	if err := t.WriteFrame(errorFrame("authentication error")); err != nil {
		s.logger.Debug("writing refusal", "error", err)
	}
	deadline := time.Now().Add(time.Second)
	_ = t.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication error"), deadline)
	t.closeOnce.Do(func() {
		close(t.closed)
		_ = t.socket.Close()
	})
}
