// Package notifier routes change records to the channel configured for
// their category on each server.
//
// # Delivery
//
// Delivery is at-most-once: a record whose category is not routed, whose
// channel no longer exists or cannot take messages is dropped; a failed send
// is logged and never retried. Every outcome is published on the event bus
// (notifier.delivered, notifier.dropped, notifier.failed).
//
// # History
//
// For debugging and operator visibility, the router keeps a small in-memory
// history of recent outcomes.
package notifier
