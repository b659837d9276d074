// Package dedupe rejects repeated idempotency keys on mutation requests.
//
// A client that retries a create after a timeout sends the same key; the
// second Add returns false and the mutation fails with a conflict instead of
// creating a duplicate task. Keys are scoped per user and expire after the
// configured TTL. Memory serves a single process; Redis (dedupe.backend:
// redis) shares keys across processes behind the relay.
package dedupe
