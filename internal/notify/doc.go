// Package notify implements the fire-and-forget outbound notification queue.
//
// The engine enqueues; a background goroutine paces deliveries and calls the
// external Sender. Delivery failure is counted, never propagated; a broken
// email gateway must not fail a login.
package notify
