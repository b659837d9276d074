// Package tasks holds the mutation and query operations behind both the
// HTTP API and the in-band requests sent over realtime connections.
//
// Every operation takes an already-resolved *auth.Principal. Mutations
// persist through store.Store and then publish change events to the
// project channel of the affected task and, for new assignments, to the
// assignee's user channel. Failures are returned as *Error so each
// transport can map the Code to its own reply convention.
package tasks
