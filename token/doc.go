// Package token implements signed access/refresh token issuance and
// verification. Access and refresh tokens use separate HMAC secrets, carry
// a unique jti for revocation, and bind to a session through the sid claim.
package token
