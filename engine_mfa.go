package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/tessera-id/authcore/internal/metrics"
	"github.com/tessera-id/authcore/internal/notify"
	"github.com/tessera-id/authcore/internal/stores"
)

// VerifyMFA completes a step-up opened by Login. The challenge is
// single-use: the verification that succeeds consumes it, concurrent
// verifications of the same challenge fail, and too many wrong codes
// discard it.
func (e *Engine) VerifyMFA(ctx context.Context, challengeID, code string, method MFAMethodType) (*LoginResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrMFAChallengeNotFound), errors.Is(err, stores.ErrMFAChallengeExpired):
			return nil, ErrChallengeExpired
		default:
			return nil, errors.Join(ErrBackendUnavailable, err)
		}
	}

	principal, err := e.principals.FindByID(ctx, record.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrChallengeExpired
		}
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if !principal.Active {
		return nil, ErrAccountInactive
	}

	if err := e.verifyFactor(ctx, principal, method, code); err != nil {
		if errors.Is(err, ErrInvalidMFACode) {
			exceeded, recErr := e.challenges.RecordFailure(ctx, challengeID, e.config.MFA.MaxAttempts)
			if recErr != nil {
				switch {
				case errors.Is(recErr, stores.ErrMFAChallengeNotFound), errors.Is(recErr, stores.ErrMFAChallengeExpired):
					return nil, ErrChallengeExpired
				default:
					return nil, errors.Join(ErrBackendUnavailable, recErr)
				}
			}
			if exceeded {
				e.metricInc(metrics.MetricMFAAttemptsExceeded)
				e.emitAudit(ctx, auditEventMFAFailure, false, principal.ID, "", ErrMFAAttemptsExceeded, nil)
				return nil, ErrMFAAttemptsExceeded
			}
		}
		e.metricInc(metrics.MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, principal.ID, "", err, nil)
		return nil, err
	}

	consumed, err := e.challenges.Consume(ctx, challengeID)
	if err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if !consumed {
		// Another verification got there first.
		return nil, ErrChallengeExpired
	}

	// The session carries the context of the original login request, not
	// of this verification call.
	sessionCtx := ctx
	if record.IP != "" {
		sessionCtx = WithClientIP(sessionCtx, record.IP)
	}
	if record.UserAgent != "" {
		sessionCtx = WithUserAgent(sessionCtx, record.UserAgent)
	}
	if record.Fingerprint != "" {
		sessionCtx = WithDeviceFingerprint(sessionCtx, record.Fingerprint)
	}

	result, err := e.establishSession(sessionCtx, principal, record.RememberMe)
	if err != nil {
		return nil, err
	}

	e.metricInc(metrics.MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, principal.ID, result.SessionID, nil, nil)
	e.finishLogin(ctx, principal, result)
	return result, nil
}

// verifyFactor checks one code against the principal's enrolled methods.
// With no method specified, enrolled verified methods are tried in
// enrollment order, then backup codes; the error does not reveal which
// were tried.
func (e *Engine) verifyFactor(ctx context.Context, principal *Principal, method MFAMethodType, code string) error {
	enrolled, err := e.mfaMethods.MethodsForPrincipal(ctx, principal.ID)
	if err != nil {
		return errors.Join(ErrBackendUnavailable, err)
	}

	candidates := make([]MFAMethod, 0, len(enrolled))
	for _, m := range enrolled {
		if !m.Verified {
			continue
		}
		if method != "" && m.Type != method {
			continue
		}
		candidates = append(candidates, m)
	}
	if method != "" && method != MFATypeBackup && len(candidates) == 0 {
		return ErrMFANotEnrolled
	}

	for _, m := range candidates {
		ok, err := e.verifyMethod(ctx, principal, m, code)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	if method == "" || method == MFATypeBackup {
		ok, err := e.consumeBackupCode(ctx, principal, code)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	return ErrInvalidMFACode
}

func (e *Engine) verifyMethod(ctx context.Context, principal *Principal, m MFAMethod, code string) (bool, error) {
	switch m.Type {
	case MFATypeTOTP:
		ok, counter, err := e.totp.VerifyCode(m.Secret, code, time.Now())
		if err != nil || !ok {
			return false, nil
		}
		if e.config.MFA.TOTP.EnforceReplayProtection {
			if counter <= m.LastUsedCounter {
				return false, nil
			}
			if err := e.mfaMethods.UpdateLastUsedCounter(ctx, principal.ID, m.Type, counter); err != nil {
				return false, errors.Join(ErrBackendUnavailable, err)
			}
		}
		return true, nil

	case MFATypeSMS, MFATypeEmail:
		channel := "sms"
		if m.Type == MFATypeEmail {
			channel = "email"
		}
		ok, err := e.otpCodes.VerifyConsume(ctx, principal.ID, channel, code)
		if err != nil {
			return false, errors.Join(ErrBackendUnavailable, err)
		}
		return ok, nil

	default:
		return false, nil
	}
}

func (e *Engine) consumeBackupCode(ctx context.Context, principal *Principal, code string) (bool, error) {
	remaining, consumed, err := e.mfaMethods.ConsumeBackupCode(ctx, principal.ID, backupCodeDigest(code))
	if err != nil {
		return false, errors.Join(ErrBackendUnavailable, err)
	}
	if !consumed {
		return false, nil
	}

	e.metricInc(metrics.MetricBackupCodeUsed)
	if remaining <= e.config.MFA.LowBackupCodeThreshold {
		e.emitNotify(notify.KindLowBackupCodes, principal.ID, principal.Email, map[string]string{
			"remaining": strconv.Itoa(remaining),
		})
	}
	return true, nil
}

func backupCodeDigest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
