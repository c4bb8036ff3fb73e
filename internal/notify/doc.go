// Package notify delivers committed store mutations to registered listeners.
//
// Listeners are registered either on a single object (type + id) or on a
// whole collection (type). The Local Store hands each commit's events to
// Enqueue while it still holds its write lock, so the queue always follows
// commit order, and then calls Flush once the lock is released.
//
// # Delivery model
//
// Delivery is single-threaded and cooperative:
//
//   - The set of listeners that will see an event is fixed when the event is
//     enqueued. A listener registered after a commit never observes it.
//   - Only one goroutine drains the queue at a time. A Flush that finds a
//     drain in progress returns at once and its events are delivered by the
//     draining goroutine, after everything already queued.
//   - A callback that writes to the store therefore sees its own events
//     delivered after the current queue, never re-entrantly.
//   - A slow callback delays every later delivery.
//   - A panicking callback is recovered and logged; delivery continues.
//
// Removing a listener takes effect immediately, including for events that
// were queued for it but not yet delivered.
package notify
