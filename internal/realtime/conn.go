// ABOUTME: One admitted realtime connection with a bounded outbound queue
// ABOUTME: A single writer goroutine drains the queue so transports never see concurrent writes

package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/rooms"
)

// Transport is a framed duplex stream. ReadFrame is called from one
// goroutine and WriteFrame from another; Close unblocks a pending read.
type Transport interface {
	ReadFrame(ctx context.Context) (*Frame, error)
	WriteFrame(f *Frame) error
	Close() error
	// Name labels the transport in logs and metrics ("ws", "grpc").
	Name() string
}

// Conn is an open connection. It exists only after admission succeeded,
// so Principal is never nil.
type Conn struct {
	ID        string
	Principal *auth.Principal

	transport Transport
	send      chan *Frame
	done      chan struct{}
	written   chan struct{} // closed when writeLoop returns
	closeOnce sync.Once
	logger    *slog.Logger
}

func newConn(id string, p *auth.Principal, t Transport, buffer int, logger *slog.Logger) *Conn {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Conn{
		ID:        id,
		Principal: p,
		transport: t,
		send:      make(chan *Frame, buffer),
		done:      make(chan struct{}),
		written:   make(chan struct{}),
		logger:    logger,
	}
}

// Transport returns the transport name.
func (c *Conn) Transport() string {
	return c.transport.Name()
}

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Enqueue implements rooms.Sink. It never blocks: a full queue or a
// closed connection drops the event.
func (c *Conn) Enqueue(ev *rooms.Event) bool {
	return c.push(eventFrame(ev))
}

// push queues a frame for the writer.
func (c *Conn) push(f *Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// reply queues a frame the client is waiting for. Replies to a closed
// connection are dropped silently.
func (c *Conn) reply(f *Frame) {
	if !c.push(f) {
		select {
		case <-c.done:
		default:
			c.logger.Warn("outbound queue full, dropping reply", "type", f.Type, "ack", f.Ack)
		}
	}
}

// writeLoop drains the queue until the connection closes or a write fails.
// onFail is called once when a write fails.
func (c *Conn) writeLoop(onFail func()) {
	defer close(c.written)
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			if err := c.transport.WriteFrame(f); err != nil {
				c.logger.Debug("write failed, closing connection", "error", err)
				onFail()
				return
			}
		}
	}
}

// close marks the connection closed and closes the transport. Safe to call
// more than once.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("closing transport", "error", err)
		}
	})
}

// Compile-time check that Conn can receive broadcasts
var _ rooms.Sink = (*Conn)(nil)
