// ABOUTME: Realtime server that runs each connection's read loop and dispatches in-band requests
// ABOUTME: Mutations go through the same tasks operations as the HTTP API, keyed to the connection's principal

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/metrics"
	"github.com/2389/taskboard-gateway/internal/rooms"
	"github.com/2389/taskboard-gateway/internal/tasks"
)

// Project access policies for subscribe-project.
const (
	AccessMembers = "members"
	AccessOpen    = "open"
)

// Config holds realtime connection settings.
type Config struct {
	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
	PongWait         time.Duration
	// ProjectAccess is AccessMembers (admins and project members only) or
	// AccessOpen (any authenticated connection).
	ProjectAccess string
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		PingPeriod:       30 * time.Second,
		PongWait:         60 * time.Second,
		ProjectAccess:    AccessMembers,
	}
}

// Mutator is the set of task operations reachable in-band.
type Mutator interface {
	CreateTask(ctx context.Context, p *auth.Principal, in tasks.CreateTaskInput) (*tasks.TaskView, error)
	DeleteTask(ctx context.Context, p *auth.Principal, id string) error
	MoveTask(ctx context.Context, p *auth.Principal, in tasks.MoveTaskInput) (*tasks.MovePayload, error)
	CanViewProject(ctx context.Context, p *auth.Principal, projectID string) error
}

// Server serves admitted connections.
type Server struct {
	hub     *Hub
	mutator Mutator
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewServer creates a Server. Zero config fields take their defaults.
// Pass nil logger for default.
func NewServer(hub *Hub, mutator Mutator, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = def.PingPeriod
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.ProjectAccess == "" {
		cfg.ProjectAccess = def.ProjectAccess
	}
	return &Server{
		hub:     hub,
		mutator: mutator,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "realtime"),
	}
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Subscribe joins c to a project channel after applying the access policy.
func (s *Server) Subscribe(ctx context.Context, c *Conn, projectID string) error {
	if projectID == "" {
		s.metrics.ChannelJoin(string(rooms.KindProject), "error")
		return errors.New("project id is required")
	}
	if s.cfg.ProjectAccess != AccessOpen {
		if err := s.mutator.CanViewProject(ctx, c.Principal, projectID); err != nil {
			result := "denied"
			if tasks.CodeOf(err) == tasks.CodeInternal {
				result = "error"
			}
			s.metrics.ChannelJoin(string(rooms.KindProject), result)
			return err
		}
	}
	if !s.hub.Subscribe(c, projectID) {
		s.metrics.ChannelJoin(string(rooms.KindProject), "noop")
		return nil
	}
	s.metrics.ChannelJoin(string(rooms.KindProject), "ok")
	c.logger.Debug("joined project", "project_id", projectID)
	return nil
}

// Serve runs c's read loop until the client goes away, a read fails or
// ctx is cancelled, then closes c.
func (s *Server) Serve(ctx context.Context, c *Conn) {
	defer s.hub.Close(c)

	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop(ctx, c) }()

	select {
	case err := <-readErr:
		if err != nil && !isStreamEnd(err) {
			c.logger.Debug("read loop ended", "error", err)
		}
	case <-c.Done():
	case <-ctx.Done():
	}
}

func (s *Server) readLoop(ctx context.Context, c *Conn) error {
	for {
		f, err := c.transport.ReadFrame(ctx)
		if errors.Is(err, errMalformedFrame) {
			c.logger.Debug("dropping malformed frame", "error", err)
			c.reply(errorFrame(errMalformedFrame.Error()))
			continue
		}
		if err != nil {
			return err
		}
		if f.Type != FrameRequest {
			c.reply(errorFrame(fmt.Sprintf("unexpected %q frame", f.Type)))
			continue
		}
		s.handleRequest(ctx, c, f)
	}
}

// handleRequest dispatches one request frame. Mutations run on a context
// that survives the connection so a disconnect never cancels storage work.
func (s *Server) handleRequest(ctx context.Context, c *Conn, f *Frame) {
	mctx := tasks.WithEntryPoint(context.WithoutCancel(ctx), c.Transport())

	switch f.Event {
	case RequestSubscribeProject:
		projectID, err := decodeString(f.Data)
		if err == nil {
			err = s.Subscribe(mctx, c, projectID)
		}
		s.ack(c, f, Reply{Success: err == nil}, err)

	case RequestLeaveProject:
		projectID, err := decodeString(f.Data)
		if err == nil {
			s.hub.Unsubscribe(c, projectID)
		}
		s.ack(c, f, Reply{Success: err == nil}, err)

	case RequestLeaveAllProjects:
		s.hub.UnsubscribeAll(c)
		s.ack(c, f, Reply{Success: true}, nil)

	case RequestCreateTask:
		var in tasks.CreateTaskInput
		if err := decodeData(f.Data, &in); err != nil {
			s.ack(c, f, Reply{}, err)
			return
		}
		view, err := s.mutator.CreateTask(mctx, c.Principal, in)
		if err != nil {
			s.ack(c, f, Reply{}, err)
			return
		}
		s.ack(c, f, Reply{Success: true, Task: view}, nil)

	case RequestDeleteTask:
		var in struct {
			TaskID    string `json:"taskId"`
			ProjectID string `json:"projectId"`
		}
		err := decodeData(f.Data, &in)
		if err == nil {
			err = s.mutator.DeleteTask(mctx, c.Principal, in.TaskID)
		}
		s.ack(c, f, Reply{Success: err == nil}, err)

	case RequestMoveTask:
		var in tasks.MoveTaskInput
		if err := decodeData(f.Data, &in); err != nil {
			s.ack(c, f, Reply{}, err)
			return
		}
		move, err := s.mutator.MoveTask(mctx, c.Principal, in)
		if err != nil {
			s.ack(c, f, Reply{}, err)
			return
		}
		s.ack(c, f, Reply{Success: true, Move: move}, nil)

	default:
		s.ack(c, f, Reply{}, errUnknownEvent)
	}
}

var errUnknownEvent = errors.New("unknown event")

// ack answers a request. Without an ack token a success is silent and a
// failure becomes an error frame.
func (s *Server) ack(c *Conn, f *Frame, reply Reply, err error) {
	if err != nil {
		reply.Success = false
		reply.Error = replyMessage(err)
		c.logger.Debug("request failed", "event", f.Event, "error", err)
	}
	if f.Ack != "" {
		c.reply(ackFrame(f.Ack, reply))
		return
	}
	if err != nil {
		c.reply(errorFrame(reply.Error))
	}
}

// replyMessage returns the caller-facing text of err.
func replyMessage(err error) string {
	var te *tasks.Error
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}

func decodeString(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", errors.New("invalid payload")
	}
	return s, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("invalid payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New("invalid payload")
	}
	return nil
}
