// Package rbac resolves role and permission based authorization
// decisions. Grants are either unconditional or carry conditions
// evaluated against request attributes; decisions are memoized in Redis
// with a shorter TTL for denials than for grants.
package rbac
