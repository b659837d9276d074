// ABOUTME: Channel identifiers for project and user fan-out scopes
// ABOUTME: A kind prefix keeps project and user ids from colliding in one namespace

package rooms

import (
	"fmt"
	"strings"
)

// Kind distinguishes the two channel namespaces.
type Kind string

const (
	KindProject Kind = "project"
	KindUser    Kind = "user"
)

// ChannelID is "<kind>:<ref>", e.g. "project:6ba7b810-…".
type ChannelID string

// ProjectChannel returns the channel for everyone watching a project.
func ProjectChannel(projectID string) ChannelID {
	return ChannelID(string(KindProject) + ":" + projectID)
}

// UserChannel returns the private channel of one user.
func UserChannel(userID string) ChannelID {
	return ChannelID(string(KindUser) + ":" + userID)
}

// Kind returns the namespace part of the id.
func (c ChannelID) Kind() Kind {
	kind, _, _ := strings.Cut(string(c), ":")
	return Kind(kind)
}

// Ref returns the raw project or user id.
func (c ChannelID) Ref() string {
	_, ref, _ := strings.Cut(string(c), ":")
	return ref
}

func (c ChannelID) String() string { return string(c) }

// ParseChannel validates a "<kind>:<ref>" string.
func ParseChannel(s string) (ChannelID, error) {
	kind, ref, ok := strings.Cut(s, ":")
	if !ok || ref == "" {
		return "", fmt.Errorf("malformed channel %q", s)
	}
	switch Kind(kind) {
	case KindProject, KindUser:
		return ChannelID(s), nil
	default:
		return "", fmt.Errorf("unknown channel kind %q", kind)
	}
}
