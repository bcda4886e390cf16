// Package session implements the server-side session registry. Sessions
// are stored in Redis as versioned binary records, indexed per principal,
// and revoked by flipping an active flag rather than deleting the record
// so introspection can report the logout reason until the TTL lapses.
package session
