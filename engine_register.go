package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tessera-id/authcore/internal/metrics"
	"github.com/tessera-id/authcore/internal/notify"
	"github.com/tessera-id/authcore/internal/rate"
	"github.com/tessera-id/authcore/rbac"
)

// RegisterRequest carries the inputs for account creation.
type RegisterRequest struct {
	Email      string
	Password   string
	Department string
}

// Register creates a new principal. Email comparison is case insensitive,
// the stored form is lowercased.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	if e == nil || e.principals == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)
	if err := e.rateLimiter.CheckRegister(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrRateLimited, nil)
			return nil, ErrRateLimited
		}
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", ErrConflict)
	}
	if err := e.checkPasswordPolicy(req.Password); err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, nil)
		return nil, err
	}

	// Resolve the default role before creating anything so a stale role
	// ID in the configuration fails cleanly.
	defaultRoleID := e.config.Register.DefaultRoleID
	if defaultRoleID != "" {
		if _, err := e.rbacStore.GetRole(ctx, defaultRoleID); err != nil {
			if errors.Is(err, rbac.ErrNotFound) {
				e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrNotFound, func() map[string]string {
					return map[string]string{"reason": "default_role_missing", "role_id": defaultRoleID}
				})
				return nil, fmt.Errorf("%w: default role %s", ErrNotFound, defaultRoleID)
			}
			return nil, errors.Join(ErrBackendUnavailable, err)
		}
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	principal := &Principal{
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		Department:   req.Department,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := e.principals.Create(ctx, principal); err != nil {
		if errors.Is(err, ErrConflict) {
			e.metricInc(metrics.MetricRegisterConflict)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrConflict, func() map[string]string {
				return map[string]string{"reason": "email_taken"}
			})
			return nil, ErrConflict
		}
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	if defaultRoleID != "" {
		if err := e.rbacStore.AssignRole(ctx, principal.ID, defaultRoleID); err != nil && !errors.Is(err, rbac.ErrConflict) {
			return nil, errors.Join(ErrBackendUnavailable, err)
		}
	}

	e.metricInc(metrics.MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, principal.ID, "", nil, nil)
	e.emitNotify(notify.KindWelcome, principal.ID, principal.Email, nil)
	return principal, nil
}

func (e *Engine) checkPasswordPolicy(password string) error {
	if len(password) < e.config.Password.MinLength {
		return fmt.Errorf("%w: minimum length %d", ErrPasswordPolicy, e.config.Password.MinLength)
	}
	return nil
}
