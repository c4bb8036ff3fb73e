// Package api implements the HTTP REST API and WebSocket change stream for devicesync.
//
// This package provides:
//   - REST endpoints mirroring the session operations (devices, components,
//     sensor readings, sync pause and resume, listeners, cleanup)
//   - WebSocket change stream of committed Device and Component changes, watched by record type or record id
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - Prometheus metrics at /api/v1/metrics
//
// # Architecture
//
// The API server is a thin layer over one session.Session. Handlers call the
// session and encode its Result objects unchanged, so clients see the same
// messages the session reports ("Sync paused!", "Add component failed, no
// device available!"). WebSocket clients send "watch" messages naming record
// types or record ids and receive a "change" message per committed change
// they watch. A client whose backlog fills is disconnected.
//
// # Security
//
// Tokens are issued by POST /auth/login and must belong to the session's
// owner. WebSocket connections use single-use tickets to prevent token
// leakage in URLs.
package api
