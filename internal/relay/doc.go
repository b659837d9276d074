// Package relay carries broadcaster events between gateway processes.
//
// A single process needs no relay: the broadcaster delivers to its own
// connections directly. When relay.redis_url is set, the broadcaster
// publishes each event to a Redis pub/sub channel instead, and every
// process (the publisher included) receives it through Run and delivers it
// to its local members. Delivery stays at-most-once per connection.
package relay
