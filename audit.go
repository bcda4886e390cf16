package authcore

import (
	"context"
	"time"

	"github.com/tessera-id/authcore/internal/audit"
	"github.com/tessera-id/authcore/internal/notify"
)

const (
	auditEventLoginSuccess       = "login.success"
	auditEventLoginFailure       = "login.failure"
	auditEventLoginRateLimited   = "login.rate_limited"
	auditEventAccountLocked      = "account.locked"
	auditEventAccountUnlocked    = "account.unlocked"
	auditEventMFARequired        = "mfa.required"
	auditEventMFASuccess         = "mfa.success"
	auditEventMFAFailure         = "mfa.failure"
	auditEventMFASetup           = "mfa.setup"
	auditEventMFADisabled        = "mfa.disabled"
	auditEventBackupRegenerated  = "mfa.backup_regenerated"
	auditEventRefreshSuccess     = "token.refresh_success"
	auditEventRefreshFailure     = "token.refresh_failure"
	auditEventRefreshReuse       = "token.refresh_reuse"
	auditEventTokenRejected      = "token.rejected"
	auditEventLogout             = "session.logout"
	auditEventLogoutAll          = "session.logout_all"
	auditEventNewDevice          = "session.new_device"
	auditEventRegisterSuccess    = "register.success"
	auditEventRegisterFailure    = "register.failure"
	auditEventPasswordChanged    = "password.changed"
	auditEventPasswordResetReq   = "password.reset_requested"
	auditEventPasswordResetDone  = "password.reset_confirmed"
	auditEventPermissionDenied   = "rbac.permission_denied"
	auditEventRoleChanged        = "rbac.role_changed"
	auditEventPermissionsChanged = "rbac.permissions_changed"
)

// emitAudit queues one audit event. metaFn is only invoked when a
// dispatcher is attached, so callers can build metadata lazily.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID, sessionID string,
	opErr error,
	metaFn func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := audit.Event{
		Timestamp:   time.Now(),
		EventType:   eventType,
		PrincipalID: principalID,
		SessionID:   sessionID,
		IP:          clientIPFromContext(ctx),
		Success:     success,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if metaFn != nil {
		event.Metadata = metaFn()
	}

	e.audit.Emit(ctx, event)
}

// emitNotify queues an outbound notification. Failures are counted by the
// dispatcher and never surfaced to the caller.
func (e *Engine) emitNotify(kind notify.Kind, principalID, recipient string, payload map[string]string) {
	if e == nil || e.notify == nil {
		return
	}
	e.notify.Enqueue(notify.Notification{
		Kind:        kind,
		PrincipalID: principalID,
		Recipient:   recipient,
		Payload:     payload,
		CreatedAt:   time.Now(),
	})
}
