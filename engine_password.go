package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tessera-id/authcore/internal"
	"github.com/tessera-id/authcore/internal/metrics"
	"github.com/tessera-id/authcore/internal/notify"
	"github.com/tessera-id/authcore/internal/stores"
	"github.com/tessera-id/authcore/session"
)

// ChangePassword rotates a principal's password after verifying the
// current one. The token version is bumped and every session is revoked,
// so all previously issued tokens stop working at once.
func (e *Engine) ChangePassword(ctx context.Context, principalID, currentPassword, newPassword string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}

	principal, err := e.principals.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return errors.Join(ErrBackendUnavailable, err)
	}
	if !principal.Active {
		return ErrAccountInactive
	}

	ok, err := e.passwordHash.Verify(currentPassword, principal.PasswordHash)
	if err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}
	if !ok {
		e.emitAudit(ctx, auditEventPasswordChanged, false, principalID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}
	if same, err := e.passwordHash.Verify(newPassword, principal.PasswordHash); err == nil && same {
		return fmt.Errorf("%w: new password matches current password", ErrPasswordPolicy)
	}

	if err := e.applyNewPassword(ctx, principal, newPassword); err != nil {
		return err
	}

	e.metricInc(metrics.MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, true, principalID, "", nil, nil)
	e.emitNotify(notify.KindPasswordChanged, principal.ID, principal.Email, nil)
	return nil
}

// RequestPasswordReset starts the reset flow. It reports success whether
// or not the email maps to an account, so callers cannot probe for
// registered addresses. The reset token only ever leaves through the
// notification channel.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}

	principal, err := e.principals.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errors.Join(ErrBackendUnavailable, err)
	}
	if !principal.Active {
		return nil
	}

	resetID, err := internal.NewOpaqueID()
	if err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}
	secret, err := internal.NewResetSecret()
	if err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	digest := internal.HashResetSecret(secret)
	if err := e.resets.Put(ctx, resetID.String(), principal.ID, digest, e.config.PasswordReset.TokenTTL); err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	token, err := internal.EncodeResetToken(resetID.String(), secret)
	if err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	e.metricInc(metrics.MetricPasswordResetRequested)
	e.emitAudit(ctx, auditEventPasswordResetReq, true, principal.ID, "", nil, nil)
	e.emitNotify(notify.KindPasswordReset, principal.ID, principal.Email, map[string]string{
		"token":   token,
		"expires": time.Now().Add(e.config.PasswordReset.TokenTTL).UTC().Format(time.RFC3339),
	})
	return nil
}

// ConfirmPasswordReset completes the reset flow. The token verifies at
// most once; a second confirmation with the same token fails.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}

	resetID, secret, err := internal.DecodeResetToken(resetToken)
	if err != nil {
		return ErrInvalidResetToken
	}

	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}

	principalID, err := e.resets.Consume(ctx, resetID, internal.HashResetSecret(secret))
	if err != nil {
		if errors.Is(err, stores.ErrResetNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetDone, false, "", "", ErrInvalidResetToken, nil)
			return ErrInvalidResetToken
		}
		return errors.Join(ErrBackendUnavailable, err)
	}

	principal, err := e.principals.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidResetToken
		}
		return errors.Join(ErrBackendUnavailable, err)
	}
	if !principal.Active {
		return ErrAccountInactive
	}

	if err := e.applyNewPassword(ctx, principal, newPassword); err != nil {
		return err
	}

	if err := e.lockouts.Reset(ctx, principal.ID); err != nil {
		log.Print("authcore: lockout reset after password reset failed")
	}

	e.metricInc(metrics.MetricPasswordResetConfirmed)
	e.emitAudit(ctx, auditEventPasswordResetDone, true, principal.ID, "", nil, nil)
	e.emitNotify(notify.KindPasswordChanged, principal.ID, principal.Email, nil)
	return nil
}

// applyNewPassword stores the new hash, bumps the token version, and
// revokes every session along with its token blacklist entry.
func (e *Engine) applyNewPassword(ctx context.Context, principal *Principal, newPassword string) error {
	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}
	if err := e.principals.UpdatePasswordHash(ctx, principal.ID, hash); err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	if _, err := e.principals.BumpTokenVersion(ctx, principal.ID); err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	revoked, err := e.sessions.RevokeAllForPrincipal(ctx, principal.ID, session.ReasonPasswordChanged)
	if err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}
	for _, id := range revoked {
		if err := e.blacklist.RevokeSession(ctx, id, e.tokens.RefreshTTL()); err != nil {
			log.Print("authcore: session blacklist after password change failed")
		}
		e.metricInc(metrics.MetricSessionInvalidated)
	}
	return nil
}
