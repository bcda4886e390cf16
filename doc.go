// Package authcore is an embeddable authentication and authorization
// core: credential verification with a consecutive-failure lockout,
// multi-factor step-up (TOTP, delivered codes, backup codes), JWT
// access/refresh pairs with one-shot rotation, a Redis-backed session
// registry, and a cached RBAC resolver with conditional grants.
//
// State that must be shared across instances (sessions, lockouts,
// challenges, blacklists, the permission cache) lives in Redis. Durable
// records (principals, enrolled factors, roles and permissions) are
// reached through store interfaces; the pgstore subpackage provides a
// PostgreSQL implementation.
//
// Assemble an Engine with the Builder:
//
//	engine, err := authcore.New().
//		WithRedis(redisClient).
//		WithPrincipalStore(principals).
//		WithMFAMethodStore(factors).
//		WithRBACStore(rbacStore).
//		Build()
package authcore
