// Package panel serves the devicesync operator console.
//
// The console is a single HTML page with a small script, embedded into the
// binary with go:embed. It signs in through /api/v1/auth/login, drives the
// session operations through the REST API and prints change events received
// on the /api/v1/ws stream.
package panel
