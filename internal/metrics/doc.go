// Package metrics provides lock-free counters for authcore observability.
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. The package owns metric storage and snapshot creation only;
// export (Prometheus) lives in metrics/export/ and reads Snapshot values.
// It performs no I/O and imports no sibling package.
package metrics
