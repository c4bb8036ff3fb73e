// Package auth provides the Auth Provider for devicesync.
//
// A session starts by exchanging a username and password for an Identity.
// The Identity's UserID is the owner identity every synced record is
// partitioned by, so it must stay stable for the lifetime of the account.
//
// It provides:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - Local user accounts stored in SQLite
//   - Short-lived HS256 JWT access tokens for the HTTP API
//
// Login failure is terminal for a session; the caller decides whether to
// retry with different credentials.
package auth
