// Package audit journals the operations performed through the API.
//
// Entries are written to the audit_logs table and listed most recent first
// with optional filters. Prune enforces a retention window.
package audit
