package authcore

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/tessera-id/authcore/internal/metrics"
	"github.com/tessera-id/authcore/session"
)

// Logout ends one session. The session record is kept (marked inactive,
// reason recorded) until its TTL so introspection can report why it ended,
// and the session-scoped blacklist entry invalidates outstanding tokens
// immediately.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	sess, err := e.sessions.Revoke(ctx, sessionID, session.ReasonUserLogout)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrInvalidSession
		}
		return errors.Join(ErrBackendUnavailable, err)
	}

	if err := e.blacklist.RevokeSession(ctx, sessionID, e.tokens.RefreshTTL()); err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	e.metricInc(metrics.MetricLogout)
	e.metricInc(metrics.MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogout, true, sess.PrincipalID, sessionID, nil, nil)
	return nil
}

// LogoutAll ends every active session of a principal. exceptSessionID may
// name one session to keep, typically the caller's own.
func (e *Engine) LogoutAll(ctx context.Context, principalID, exceptSessionID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	ids, err := e.sessions.ActiveSessionIDs(ctx, principalID)
	if err != nil {
		return 0, errors.Join(ErrBackendUnavailable, err)
	}

	revoked := 0
	for _, id := range ids {
		if id == exceptSessionID {
			continue
		}
		if _, err := e.sessions.Revoke(ctx, id, session.ReasonLogoutAll); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				continue
			}
			return revoked, errors.Join(ErrBackendUnavailable, err)
		}
		if err := e.blacklist.RevokeSession(ctx, id, e.tokens.RefreshTTL()); err != nil {
			return revoked, errors.Join(ErrBackendUnavailable, err)
		}
		revoked++
		e.metricInc(metrics.MetricSessionInvalidated)
	}

	e.metricInc(metrics.MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, principalID, exceptSessionID, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(revoked)}
	})
	return revoked, nil
}

// RevokeSession force-ends a session on behalf of an operator.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	sess, err := e.sessions.Revoke(ctx, sessionID, session.ReasonAdminRevoked)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrInvalidSession
		}
		return errors.Join(ErrBackendUnavailable, err)
	}

	if err := e.blacklist.RevokeSession(ctx, sessionID, e.tokens.RefreshTTL()); err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	e.metricInc(metrics.MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogout, true, sess.PrincipalID, sessionID, nil, func() map[string]string {
		return map[string]string{"reason": session.ReasonAdminRevoked.String()}
	})
	return nil
}

// ListSessions returns every stored session for a principal, active and
// recently ended alike, newest first.
func (e *Engine) ListSessions(ctx context.Context, principalID string) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sessions, err := e.sessions.ListForPrincipal(ctx, principalID)
	if err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			ID:             s.ID,
			PrincipalID:    s.PrincipalID,
			IP:             s.IP,
			UserAgent:      s.UserAgent,
			Location:       s.Location,
			Fingerprint:    s.Fingerprint,
			CreatedAt:      time.Unix(s.CreatedAt, 0),
			LastActivityAt: time.Unix(s.LastActivityAt, 0),
			ExpiresAt:      time.Unix(s.ExpiresAt, 0),
			Active:         s.Active,
			RememberMe:     s.RememberMe,
		})
	}
	return infos, nil
}

// UnlockAccount clears the lockout state for a principal ahead of its
// natural expiry.
func (e *Engine) UnlockAccount(ctx context.Context, principalID string) error {
	if e == nil || e.lockouts == nil {
		return ErrEngineNotReady
	}

	if err := e.lockouts.Reset(ctx, principalID); err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}
	if err := e.rateLimiter.ResetLogin(ctx, principalID, clientIPFromContext(ctx)); err != nil {
		log.Print("authcore: login rate reset failed")
	}

	e.emitAudit(ctx, auditEventAccountUnlocked, true, principalID, "", nil, nil)
	return nil
}
