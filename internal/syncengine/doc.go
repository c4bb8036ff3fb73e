// Package syncengine mirrors the local store with the MQTT backend.
//
// The Engine is the session controller: it turns subscription sets into
// topic subscriptions, uploads the store's outbox, applies inbound records
// with last-writer-wins semantics, and can be paused and resumed without
// touching local data.
//
// # Upload path
//
// Outbox entries are published in commit order as retained envelopes on
// {prefix}/{owner}/{type}/{id}; deletes clear the retained message with an
// empty payload. Entries are acknowledged only after a successful publish,
// so a failed cycle is retried from the same point. Sensor readings take the
// asymmetric path: a Sink (InfluxDB) when configured, otherwise the ingest
// topic.
//
// # Inbound path
//
// Messages for other owners, records outside the active subscriptions and
// the client's own echoes are dropped. Everything else is handed to
// store.ApplyRemote, which writes no outbox entries.
//
// # Errors
//
// Transport failures never reach store callers. They are logged, counted in
// devicesync_sync_errors_total and retried on the next cycle.
package syncengine
