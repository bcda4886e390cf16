package authcore

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/tessera-id/authcore/internal/metrics"
	"github.com/tessera-id/authcore/internal/rate"
	"github.com/tessera-id/authcore/session"
	"github.com/tessera-id/authcore/token"
)

// issueTokens signs a fresh access+refresh pair for one session. Role and
// permission claims are resolved best effort; they are advisory payload,
// authorization decisions re-check live state.
func (e *Engine) issueTokens(ctx context.Context, principal *Principal, sessionID string, now time.Time) (*TokenPair, error) {
	roles, perms := e.claimsForPrincipal(ctx, principal.ID)

	access, _, err := e.tokens.IssueAccess(principal.ID, sessionID, roles, perms, now)
	if err != nil {
		return nil, err
	}
	refresh, _, err := e.tokens.IssueRefresh(principal.ID, sessionID, principal.TokenVersion, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(metrics.MetricTokenIssued)

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		SessionID:        sessionID,
		AccessExpiresAt:  now.Add(e.tokens.AccessTTL()),
		RefreshExpiresAt: now.Add(e.tokens.RefreshTTL()),
	}, nil
}

func (e *Engine) claimsForPrincipal(ctx context.Context, principalID string) (roles, perms []string) {
	assigned, err := e.rbacStore.RolesForPrincipal(ctx, principalID)
	if err != nil {
		log.Print("authcore: role claim resolution failed")
		return nil, nil
	}

	seen := map[string]struct{}{}
	for _, role := range assigned {
		roles = append(roles, role.Name)
		rolePerms, err := e.rbacStore.PermissionsForRole(ctx, role.ID)
		if err != nil {
			continue
		}
		for _, p := range rolePerms {
			if !p.Unconditional() {
				continue
			}
			key := p.Resource + ":" + p.Action
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			perms = append(perms, key)
		}
	}

	direct, err := e.rbacStore.DirectPermissions(ctx, principalID)
	if err != nil {
		return roles, perms
	}
	for _, p := range direct {
		if !p.Unconditional() {
			continue
		}
		key := p.Resource + ":" + p.Action
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		perms = append(perms, key)
	}

	return roles, perms
}

// Refresh rotates a refresh token. Rotation is one-shot: the old token's
// jti is claimed with set-if-absent semantics, so of N concurrent calls
// with the same token exactly one receives a new pair.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(metrics.MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, "", "", ErrInvalidRefreshToken, func() map[string]string {
			return map[string]string{"reason": "parse_failed"}
		})
		return nil, ErrInvalidRefreshToken
	}

	if err := e.rateLimiter.CheckRefresh(ctx, claims.SessionID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitAudit(ctx, auditEventRefreshFailure, false, claims.Subject, claims.SessionID, ErrRateLimited, nil)
			return nil, ErrRateLimited
		}
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	revoked, err := e.blacklist.IsRevoked(ctx, claims.ID, claims.SessionID)
	if err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if revoked {
		e.metricInc(metrics.MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, claims.Subject, claims.SessionID, ErrTokenBlacklisted, func() map[string]string {
			return map[string]string{"reason": "blacklisted"}
		})
		return nil, ErrTokenBlacklisted
	}

	sess, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			e.metricInc(metrics.MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshFailure, false, claims.Subject, claims.SessionID, ErrInvalidSession, nil)
			return nil, ErrInvalidSession
		}
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if !sess.Active || sess.PrincipalID != claims.Subject {
		e.metricInc(metrics.MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, claims.Subject, claims.SessionID, ErrInvalidSession, nil)
		return nil, ErrInvalidSession
	}

	principal, err := e.principals.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(metrics.MetricRefreshFailure)
			return nil, ErrUserInactive
		}
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if !principal.Active {
		e.metricInc(metrics.MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, principal.ID, claims.SessionID, ErrUserInactive, nil)
		return nil, ErrUserInactive
	}

	if claims.TokenVersion != principal.TokenVersion {
		e.metricInc(metrics.MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, principal.ID, claims.SessionID, ErrInvalidRefreshToken, func() map[string]string {
			return map[string]string{"reason": "token_version_mismatch"}
		})
		return nil, ErrInvalidRefreshToken
	}

	now := time.Now()

	// Claim the old jti for the remainder of its natural lifetime. A lost
	// claim means a concurrent refresh already rotated this token.
	claimed, err := e.blacklist.ClaimRotation(ctx, claims.ID, token.Remaining(claims.ExpiresAt, now))
	if err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if !claimed {
		e.metricInc(metrics.MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuse, false, principal.ID, claims.SessionID, ErrTokenBlacklisted, nil)
		return nil, ErrTokenBlacklisted
	}

	if err := e.sessions.Touch(ctx, claims.SessionID, now); err != nil {
		log.Print("authcore: session activity update failed")
	}

	pair, err := e.issueTokens(ctx, principal, claims.SessionID, now)
	if err != nil {
		e.metricInc(metrics.MetricRefreshFailure)
		return nil, err
	}

	e.metricInc(metrics.MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, principal.ID, claims.SessionID, nil, nil)
	return pair, nil
}

// VerifyToken introspects an access token: signature and expiry, then the
// blacklist (per-token and session-scoped), then the session active flag.
// A revocation is visible to the very next verification.
func (e *Engine) VerifyToken(ctx context.Context, accessToken string) (*VerifyResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(metrics.MetricTokenRejected)
		return nil, ErrInvalidCredentials
	}

	revoked, err := e.blacklist.IsRevoked(ctx, claims.ID, claims.SessionID)
	if err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if revoked {
		e.metricInc(metrics.MetricTokenRejected)
		e.emitAudit(ctx, auditEventTokenRejected, false, claims.Subject, claims.SessionID, ErrTokenBlacklisted, nil)
		return nil, ErrTokenBlacklisted
	}

	sess, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			e.metricInc(metrics.MetricTokenRejected)
			return nil, ErrInvalidSession
		}
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if !sess.Active {
		e.metricInc(metrics.MetricTokenRejected)
		e.emitAudit(ctx, auditEventTokenRejected, false, claims.Subject, claims.SessionID, ErrInvalidSession, nil)
		return nil, ErrInvalidSession
	}

	e.metricInc(metrics.MetricTokenVerified)

	result := &VerifyResult{
		PrincipalID: claims.Subject,
		SessionID:   claims.SessionID,
		JTI:         claims.ID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}
