// Package gateway wires the taskboard server together and runs it.
//
// # Architecture
//
//	                 ┌──────────────────────────────┐
//	 REST ──────────►│ api (net/http)               │──┐
//	                 └──────────────────────────────┘  │
//	                 ┌──────────────────────────────┐  ▼
//	 /ws ───────────►│ realtime.Server              │─► tasks.Service ─► store
//	 Board/Connect ─►│   hub ── rooms.Registry      │        │
//	                 └──────────────────────────────┘        ▼
//	                         ▲                       rooms.Broadcaster
//	                         └───── sinks ───────────────────┘
//	                                                 (relay.Redis when configured)
//
// Every mutation, whether it arrives over REST or in-band on a realtime
// connection, goes through the same tasks.Service. The service emits events
// to the broadcaster, which enqueues them on every member connection of the
// target channel.
//
// # Components
//
// New builds, in order: the SQLite store, the JWT verifier and principal
// resolver, the room registry, the hub, the broadcaster (optionally routed
// through the Redis relay), the idempotency deduper, the task service, the
// realtime server, the gRPC server and the HTTP mux. The notifier is added
// when notifier.enabled is set.
//
// # HTTP Routes
//
//	POST   /api/auth/signup            POST /api/auth/login
//	GET    /api/users
//	GET    /api/projects               POST /api/projects (admin)
//	PUT    /api/projects/{id} (admin)  DELETE /api/projects/{id} (admin)
//	GET    /api/tasks                  POST /api/tasks (admin)
//	PUT    /api/tasks/{id}             DELETE /api/tasks/{id} (admin)
//	GET    /api/tasks/{taskId}/activitylogs
//	GET    /api/tasks/notifications
//	PUT    /api/tasks/notifications/{id}/read
//	DELETE /api/tasks/notifications/{id}
//	GET    /ws
//	GET    /health  /health/ready  <metrics.path>
//
// Errors are JSON bodies of the form {"message": "...", "errors": [...]}.
//
// # Listeners
//
// With tailscale.enabled the gateway joins the tailnet through tsnet and
// listens on :50051 (gRPC) and :80 (HTTP) there; server addresses are ignored.
//
// # Shutdown
//
// Run returns when its context is cancelled. Shutdown marks gRPC health as
// not serving, drains HTTP, closes every realtime connection, stops gRPC and
// closes the store.
package gateway
