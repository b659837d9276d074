// Package realtime admits persistent client connections and serves the
// in-band protocol on them.
//
// A connection exists only after its credential resolved to a principal:
// over WebSocket the first frame carries the token, over gRPC the stream
// interceptor checks the authorization metadata. Admitted connections are
// joined to their user channel and may subscribe to project channels. The
// Hub is the only component that changes channel membership; it also
// resolves connection ids to outbound queues for the rooms broadcaster.
//
// Request frames reach the same tasks operations as the HTTP API, with
// the connection's principal as the actor.
package realtime
