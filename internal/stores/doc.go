// Package stores contains the Redis-backed ephemeral state used by the
// engine: the lockout counter, MFA step-up challenges, delivered OTP codes,
// and the token/session blacklist.
//
// Every mutation that two concurrent requests can contend on is a single
// atomic Redis operation (Lua script, SETNX, or WATCH transaction); the
// store serializes, the service never does.
package stores
