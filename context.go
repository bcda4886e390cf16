package authcore

import "context"

type contextKey uint8

const (
	contextKeyClientIP contextKey = iota
	contextKeyUserAgent
	contextKeyFingerprint
	contextKeyLocation
	contextKeyOwnerID
	contextKeyDepartment
)

// WithClientIP attaches the caller's IP for rate limiting, session
// metadata, and IP allow-list conditions.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyClientIP, ip)
}

// WithUserAgent attaches the caller's user agent for session metadata.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, contextKeyUserAgent, ua)
}

// WithDeviceFingerprint attaches the device fingerprint used for
// new-device detection.
func WithDeviceFingerprint(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, contextKeyFingerprint, fp)
}

// WithLocation attaches a resolved coarse location for session metadata.
func WithLocation(ctx context.Context, location string) context.Context {
	return context.WithValue(ctx, contextKeyLocation, location)
}

// WithOwnerID attaches the owner of the resource under an authorization
// check, consumed by owner-match conditions.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, contextKeyOwnerID, ownerID)
}

// WithDepartment attaches the principal's department, consumed by
// department-match conditions.
func WithDepartment(ctx context.Context, department string) context.Context {
	return context.WithValue(ctx, contextKeyDepartment, department)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func clientIPFromContext(ctx context.Context) string {
	return stringFromContext(ctx, contextKeyClientIP)
}

func userAgentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, contextKeyUserAgent)
}

func fingerprintFromContext(ctx context.Context) string {
	return stringFromContext(ctx, contextKeyFingerprint)
}

func locationFromContext(ctx context.Context) string {
	return stringFromContext(ctx, contextKeyLocation)
}

func ownerIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, contextKeyOwnerID)
}

func departmentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, contextKeyDepartment)
}
