// Package auth provides authentication and authorization for the taskboard gateway.
//
// # Credentials
//
// Users sign in with email and password (bcrypt hashes, see HashPassword and
// CheckPassword) and receive an HS256 JWT whose "sub" claim is their user id.
// Tokens are signed with auth.jwt_secret, which must be at least
// MinSecretLength bytes, and expire after auth.token_ttl (30 days by default).
//
// # Principal Resolution
//
// Resolver.Resolve turns a credential into a Principal. The token only
// carries identity: the role is re-read from storage on every resolution, so
// demoting or deleting an account takes effect on the next request or
// connection. Every failure collapses to ErrUnauthenticated.
//
// # Transports
//
// The same Resolver backs every entry point:
//
//   - HTTPAuthMiddleware / OptionalAuthMiddleware / RequireAdminHTTP for the REST API
//   - StreamInterceptor for the gRPC realtime stream (authorization metadata)
//   - the WebSocket handshake in internal/realtime (first "auth" frame)
//
// Handlers read the identity with FromContext.
package auth
