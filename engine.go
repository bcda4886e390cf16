package authcore

import (
	"github.com/tessera-id/authcore/internal/audit"
	"github.com/tessera-id/authcore/internal/metrics"
	"github.com/tessera-id/authcore/internal/notify"
	"github.com/tessera-id/authcore/internal/rate"
	"github.com/tessera-id/authcore/internal/stores"
	"github.com/tessera-id/authcore/password"
	"github.com/tessera-id/authcore/rbac"
	"github.com/tessera-id/authcore/session"
	"github.com/tessera-id/authcore/token"
)

// Engine is the authentication and authorization core. Build one with
// the Builder; a built Engine is immutable and safe for concurrent use.
type Engine struct {
	config Config

	principals PrincipalStore
	mfaMethods MFAMethodStore
	rbacStore  RBACStore

	resolver *rbac.Resolver
	policy   rbac.PolicyEngine
	sessions *session.Store
	tokens   *token.Manager

	lockouts   *stores.LockoutStore
	challenges *stores.MFAChallengeStore
	otpCodes   *stores.OTPCodeStore
	resets     *stores.ResetStore
	blacklist  *stores.BlacklistStore

	rateLimiter  *rate.Limiter
	passwordHash *password.Hasher
	totp         *totpManager

	audit   *audit.Dispatcher
	notify  *notify.Dispatcher
	metrics *metrics.Metrics
}

// Close flushes and stops the async dispatchers.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.notify != nil {
		e.notify.Close()
	}
}

// MetricsSnapshot returns a point-in-time copy of all counters. A few
// counters live with the component that maintains them and are folded in
// here instead of going through Inc.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	if e == nil || e.metrics == nil {
		return metrics.Snapshot{Counters: map[metrics.MetricID]uint64{}}
	}
	s := e.metrics.TakeSnapshot()
	if e.metrics.Enabled() {
		s.Counters[metrics.MetricPermissionCacheHit] = e.resolver.CacheHits()
		s.Counters[metrics.MetricAuditDropped] = e.audit.Dropped()
		s.Counters[metrics.MetricNotificationDropped] = e.notify.Dropped()
	}
	return s
}

// AuditDropped reports how many audit events the bounded queue shed.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id metrics.MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
