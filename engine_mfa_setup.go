package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/tessera-id/authcore/internal"
	"github.com/tessera-id/authcore/internal/metrics"
)

// MFASetupResult carries the enrollment material for a pending factor.
// Secret and ProvisionURI are only set for TOTP.
type MFASetupResult struct {
	Method       MFAMethodType
	Secret       string
	ProvisionURI string
}

// SetupMFA begins enrollment of one factor. The factor stays unverified,
// and is not offered at login, until VerifyMFASetup confirms the
// principal controls it.
func (e *Engine) SetupMFA(ctx context.Context, principalID string, method MFAMethodType, recipient string) (*MFASetupResult, error) {
	if e == nil || e.mfaMethods == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.principals.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if !principal.Active {
		return nil, ErrAccountInactive
	}

	record := MFAMethod{
		PrincipalID: principal.ID,
		Type:        method,
		CreatedAt:   time.Now(),
	}
	result := &MFASetupResult{Method: method}

	switch method {
	case MFATypeTOTP:
		secret, secretBase32, err := e.totp.GenerateSecret()
		if err != nil {
			return nil, errors.Join(ErrBackendUnavailable, err)
		}
		record.Secret = secret
		result.Secret = secretBase32
		result.ProvisionURI = e.totp.ProvisionURI(secretBase32, principal.Email)

	case MFATypeSMS, MFATypeEmail:
		if recipient == "" {
			return nil, errors.New("authcore: recipient required for delivered factors")
		}
		record.Recipient = recipient

	default:
		return nil, errors.New("authcore: unsupported mfa method")
	}

	if err := e.mfaMethods.Upsert(ctx, record); err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	// Delivered factors get their confirmation code immediately.
	if method == MFATypeSMS || method == MFATypeEmail {
		e.sendDeliveredCodes(ctx, principal, []MFAMethodType{method})
	}

	return result, nil
}

// VerifyMFASetup confirms a pending factor. The first factor a principal
// verifies turns MFA on and returns a fresh set of single-use backup
// codes; the caller sees the plaintext codes exactly once.
func (e *Engine) VerifyMFASetup(ctx context.Context, principalID string, method MFAMethodType, code string) ([]string, error) {
	if e == nil || e.mfaMethods == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.principals.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	methods, err := e.mfaMethods.MethodsForPrincipal(ctx, principal.ID)
	if err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	var pending *MFAMethod
	firstFactor := true
	for i := range methods {
		if methods[i].Verified {
			firstFactor = false
		}
		if methods[i].Type == method && !methods[i].Verified {
			pending = &methods[i]
		}
	}
	if pending == nil {
		return nil, ErrMFANotEnrolled
	}

	ok, err := e.verifyMethod(ctx, principal, *pending, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(metrics.MetricMFAFailure)
		return nil, ErrInvalidMFACode
	}

	pending.Verified = true
	if err := e.mfaMethods.Upsert(ctx, *pending); err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if err := e.principals.SetMFAEnabled(ctx, principal.ID, true); err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	e.emitAudit(ctx, auditEventMFASetup, true, principal.ID, "", nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})

	if !firstFactor {
		return nil, nil
	}
	return e.issueBackupCodes(ctx, principal)
}

// DisableMFA removes one factor. When the last verified factor goes away,
// MFA is switched off and any remaining backup codes are discarded.
func (e *Engine) DisableMFA(ctx context.Context, principalID string, method MFAMethodType) error {
	if e == nil || e.mfaMethods == nil {
		return ErrEngineNotReady
	}

	methods, err := e.mfaMethods.MethodsForPrincipal(ctx, principalID)
	if err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	found := false
	verifiedLeft := 0
	for _, m := range methods {
		if m.Type == method {
			found = true
			continue
		}
		if m.Verified {
			verifiedLeft++
		}
	}
	if !found {
		return ErrMFANotEnrolled
	}

	if err := e.mfaMethods.Delete(ctx, principalID, method); err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	if verifiedLeft == 0 {
		if err := e.mfaMethods.ReplaceBackupCodes(ctx, principalID, nil); err != nil {
			return errors.Join(ErrBackendUnavailable, err)
		}
		if err := e.principals.SetMFAEnabled(ctx, principalID, false); err != nil {
			return errors.Join(ErrBackendUnavailable, err)
		}
	}

	e.emitAudit(ctx, auditEventMFADisabled, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return nil
}

// RegenerateBackupCodes replaces the full backup code set. Codes handed
// out earlier stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	if e == nil || e.mfaMethods == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.principals.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if !principal.MFAEnabled {
		return nil, ErrMFANotEnrolled
	}

	codes, err := e.issueBackupCodes(ctx, principal)
	if err != nil {
		return nil, err
	}

	e.metricInc(metrics.MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupRegenerated, true, principal.ID, "", nil, nil)
	return codes, nil
}

func (e *Engine) issueBackupCodes(ctx context.Context, principal *Principal) ([]string, error) {
	count := e.config.MFA.BackupCodeCount
	codes := make([]string, 0, count)
	digests := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode()
		if err != nil {
			return nil, errors.Join(ErrBackendUnavailable, err)
		}
		codes = append(codes, code)
		digests = append(digests, backupCodeDigest(code))
	}

	if err := e.mfaMethods.ReplaceBackupCodes(ctx, principal.ID, digests); err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	return codes, nil
}
