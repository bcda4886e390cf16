package metrics

import "sync/atomic"

// MetricID identifies a single counter slot.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricAccountLocked
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricMFAAttemptsExceeded
	MetricBackupCodeUsed
	MetricBackupCodeRegenerated
	MetricTokenIssued
	MetricTokenVerified
	MetricTokenRejected
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricSessionCreated
	MetricSessionInvalidated
	MetricNewDeviceLogin
	MetricLogout
	MetricLogoutAll
	MetricRegisterSuccess
	MetricRegisterConflict
	MetricPasswordChanged
	MetricPasswordResetRequested
	MetricPasswordResetConfirmed
	MetricPermissionCheckAllowed
	MetricPermissionCheckDenied
	MetricPermissionCacheHit
	MetricPermissionCacheInvalidated
	MetricNotificationDropped
	MetricAuditDropped

	MetricIDCount
)

var names = [MetricIDCount]string{
	MetricLoginSuccess:               "login_success",
	MetricLoginFailure:               "login_failure",
	MetricLoginRateLimited:           "login_rate_limited",
	MetricAccountLocked:              "account_locked",
	MetricMFARequired:                "mfa_required",
	MetricMFASuccess:                 "mfa_success",
	MetricMFAFailure:                 "mfa_failure",
	MetricMFAAttemptsExceeded:        "mfa_attempts_exceeded",
	MetricBackupCodeUsed:             "backup_code_used",
	MetricBackupCodeRegenerated:      "backup_code_regenerated",
	MetricTokenIssued:                "token_issued",
	MetricTokenVerified:              "token_verified",
	MetricTokenRejected:              "token_rejected",
	MetricRefreshSuccess:             "refresh_success",
	MetricRefreshFailure:             "refresh_failure",
	MetricRefreshReuseDetected:       "refresh_reuse_detected",
	MetricSessionCreated:             "session_created",
	MetricSessionInvalidated:         "session_invalidated",
	MetricNewDeviceLogin:             "new_device_login",
	MetricLogout:                     "logout",
	MetricLogoutAll:                  "logout_all",
	MetricRegisterSuccess:            "register_success",
	MetricRegisterConflict:           "register_conflict",
	MetricPasswordChanged:            "password_changed",
	MetricPasswordResetRequested:     "password_reset_requested",
	MetricPasswordResetConfirmed:     "password_reset_confirmed",
	MetricPermissionCheckAllowed:     "permission_check_allowed",
	MetricPermissionCheckDenied:      "permission_check_denied",
	MetricPermissionCacheHit:         "permission_cache_hit",
	MetricPermissionCacheInvalidated: "permission_cache_invalidated",
	MetricNotificationDropped:        "notification_dropped",
	MetricAuditDropped:               "audit_dropped",
}

// Name returns the stable export name for a metric ID.
func (id MetricID) Name() string {
	if id >= MetricIDCount {
		return "unknown"
	}
	return names[id]
}

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config controls whether metric recording is active.
type Config struct {
	Enabled bool
}

// Metrics holds cache-line-padded atomic counters. All operations are
// safe for concurrent use and no-ops when disabled.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]paddedCounter
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) TakeSnapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{Counters: map[MetricID]uint64{}}
	}

	s := Snapshot{Counters: make(map[MetricID]uint64, int(MetricIDCount))}
	for id := MetricID(0); id < MetricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
