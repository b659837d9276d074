// ABOUTME: JSON frames exchanged on realtime connections over every transport
// ABOUTME: Client sends auth and request frames; server sends ready, ack, event and error frames

package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/taskboard-gateway/internal/rooms"
)

// Frame types.
const (
	FrameAuth    = "auth"
	FrameRequest = "request"
	FrameReady   = "ready"
	FrameAck     = "ack"
	FrameEvent   = "event"
	FrameError   = "error"
)

// Request events a client may send in a request frame.
const (
	RequestSubscribeProject = "subscribe-project"
	RequestLeaveProject     = "leave-project"
	RequestLeaveAllProjects = "leave-all-projects"
	RequestCreateTask       = "create-task"
	RequestDeleteTask       = "delete-task"
	RequestMoveTask         = "move-task"
)

// Frame is one message on a realtime connection. Which fields are set
// depends on Type.
type Frame struct {
	Type string `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// request, ack, event
	Event string          `json:"event,omitempty"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`

	// event
	Channel string     `json:"channel,omitempty"`
	Kind    rooms.Kind `json:"kind,omitempty"`

	// ready
	ConnectionID string `json:"connectionId,omitempty"`
	UserID       string `json:"userId,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// errMalformedFrame marks a message that arrived intact but is not a
// frame. The connection stays usable.
var errMalformedFrame = errors.New("invalid payload")

func decodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return &f, nil
}

// Reply is the data of an ack frame.
type Reply struct {
	Success bool   `json:"success"`
	Task    any    `json:"task,omitempty"`
	Move    any    `json:"move,omitempty"`
	Error   string `json:"error,omitempty"`
}

// eventFrame converts a broadcast event to the frame sent to one member.
func eventFrame(ev *rooms.Event) *Frame {
	return &Frame{
		Type:    FrameEvent,
		Event:   ev.Name,
		Channel: ev.Channel.Ref(),
		Kind:    ev.Channel.Kind(),
		Data:    ev.Data,
	}
}

func ackFrame(ack string, reply Reply) *Frame {
	data, _ := json.Marshal(reply)
	return &Frame{Type: FrameAck, Ack: ack, Data: data}
}

func errorFrame(msg string) *Frame {
	return &Frame{Type: FrameError, Error: msg}
}
