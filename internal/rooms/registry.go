// ABOUTME: Thread-safe channel membership table shared by the hub and the broadcaster
// ABOUTME: Tracks channel -> connections and connection -> channels under one lock

package rooms

import (
	"sort"
	"sync"
)

// Registry records which connections are members of which channels.
// Empty channels are removed, so lookups on them return an empty set.
type Registry struct {
	mu       sync.RWMutex
	members  map[ChannelID]map[string]struct{} // channel -> connID set
	channels map[string]map[ChannelID]struct{} // connID -> channel set
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		members:  make(map[ChannelID]map[string]struct{}),
		channels: make(map[string]map[ChannelID]struct{}),
	}
}

// Join adds connID to ch. Returns false if it was already a member.
func (r *Registry) Join(connID string, ch ChannelID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[ch]
	if !ok {
		set = make(map[string]struct{})
		r.members[ch] = set
	}
	if _, exists := set[connID]; exists {
		return false
	}
	set[connID] = struct{}{}

	chans, ok := r.channels[connID]
	if !ok {
		chans = make(map[ChannelID]struct{})
		r.channels[connID] = chans
	}
	chans[ch] = struct{}{}
	return true
}

// Leave removes connID from ch. Returns false if it was not a member.
func (r *Registry) Leave(connID string, ch ChannelID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connID, ch)
}

func (r *Registry) leaveLocked(connID string, ch ChannelID) bool {
	set, ok := r.members[ch]
	if !ok {
		return false
	}
	if _, exists := set[connID]; !exists {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.members, ch)
	}

	if chans, ok := r.channels[connID]; ok {
		delete(chans, ch)
		if len(chans) == 0 {
			delete(r.channels, connID)
		}
	}
	return true
}

// LeaveAll removes connID from every channel and returns the channels it left.
func (r *Registry) LeaveAll(connID string) []ChannelID {
	return r.leaveWhere(connID, func(ChannelID) bool { return true })
}

// LeaveKind removes connID from every channel of the given kind.
func (r *Registry) LeaveKind(connID string, kind Kind) []ChannelID {
	return r.leaveWhere(connID, func(ch ChannelID) bool { return ch.Kind() == kind })
}

func (r *Registry) leaveWhere(connID string, match func(ChannelID) bool) []ChannelID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []ChannelID
	for ch := range r.channels[connID] {
		if match(ch) {
			left = append(left, ch)
		}
	}
	for _, ch := range left {
		r.leaveLocked(connID, ch)
	}
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left
}

// MembersOf returns a snapshot of the connections in ch. The caller owns the slice.
func (r *Registry) MembersOf(ch ChannelID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.members[ch]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ChannelsOf returns the channels connID belongs to, sorted.
func (r *Registry) ChannelsOf(connID string) []ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chans := r.channels[connID]
	out := make([]ChannelID, 0, len(chans))
	for ch := range chans {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of non-empty channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
