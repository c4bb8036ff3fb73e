// Package subscription manages which remote records are mirrored locally.
//
// A Subscription names a record type, a filter and a unique label. Every
// subscription is implicitly restricted to the session owner, so a client
// only ever mirrors records it owns.
//
// Updates are asynchronous. Update and RemoveAll return a *Pending at once
// and hand the new set to the Applier (the sync engine) in the background.
// Pending.Wait blocks until the round trip completes. When a newer update
// arrives before an older one completes, the older Pending finishes with
// ErrSuperseded and only the newest set is applied and evicted against.
//
// Once an update completes, local records no subscription covers are
// evicted from the store, except those with un-uploaded local changes.
package subscription
