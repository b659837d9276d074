// Package rooms implements channel membership and event fan-out.
//
// A channel is either a project channel ("project:<id>") that every
// connection watching the project joins, or a user channel ("user:<id>") that
// each of the user's connections joins automatically at admission.
//
// Registry is the only mutable membership state. The realtime hub is its only
// writer; the Broadcaster reads a snapshot of a channel's members and pushes
// each event onto every member's Sink without blocking. Slow consumers lose
// events, fast ones are unaffected.
//
// With a Relay configured (see internal/relay), Publish hands events to the
// relay and the relay's subscriber calls Deliver, so each process delivers
// every event exactly once to its own connections.
package rooms
