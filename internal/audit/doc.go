// Package audit implements best-effort append-only security event delivery.
//
// Events flow engine → Dispatcher (bounded channel, background goroutine) →
// Sink. Delivery is at-least-once while the process lives: Close drains the
// buffer before returning. A full buffer either drops (DropIfFull) or applies
// caller-context backpressure; dropped counts are observable.
package audit
