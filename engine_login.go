package authcore

import (
	"context"
	"errors"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/tessera-id/authcore/internal"
	"github.com/tessera-id/authcore/internal/ids"
	"github.com/tessera-id/authcore/internal/metrics"
	"github.com/tessera-id/authcore/internal/notify"
	"github.com/tessera-id/authcore/internal/rate"
	"github.com/tessera-id/authcore/internal/stores"
	"github.com/tessera-id/authcore/session"
)

// LoginRequest carries the credentials and optional second factor for one
// login attempt.
type LoginRequest struct {
	Email    string
	Password string
	// MFACode, when set, completes the step-up inline instead of
	// returning an MFARequired result.
	MFACode    string
	MFAMethod  MFAMethodType
	RememberMe bool
}

// Login runs the credential check, the lockout state machine, and the MFA
// step-up decision. On full success it registers a session and returns a
// token pair; when a second factor is outstanding it returns a result
// with MFARequired set and a challenge id for VerifyMFA.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)

	if err := e.rateLimiter.CheckLogin(ctx, req.Email, ip); err != nil {
		e.metricInc(metrics.MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrRateLimited, func() map[string]string {
			return map[string]string{"identifier": req.Email}
		})
		if errors.Is(err, rate.ErrRateLimited) {
			return nil, ErrRateLimited
		}
		return nil, ErrBackendUnavailable
	}

	principal, err := e.verifyCredentials(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	if !principal.MFAEnabled {
		result, err := e.establishSession(ctx, principal, req.RememberMe)
		if err != nil {
			return nil, err
		}
		e.finishLogin(ctx, principal, result)
		return result, nil
	}

	if req.MFACode != "" {
		if err := e.verifyFactor(ctx, principal, req.MFAMethod, req.MFACode); err != nil {
			e.metricInc(metrics.MetricMFAFailure)
			e.emitAudit(ctx, auditEventMFAFailure, false, principal.ID, "", err, nil)
			return nil, err
		}
		e.metricInc(metrics.MetricMFASuccess)
		e.emitAudit(ctx, auditEventMFASuccess, true, principal.ID, "", nil, nil)

		result, err := e.establishSession(ctx, principal, req.RememberMe)
		if err != nil {
			return nil, err
		}
		e.finishLogin(ctx, principal, result)
		return result, nil
	}

	return e.openChallenge(ctx, principal, req.RememberMe)
}

// verifyCredentials is the lockout state machine entry. Wrong passwords
// and unknown emails fail identically; the failure that reaches the
// threshold also sets the lock, in one atomic store call.
func (e *Engine) verifyCredentials(ctx context.Context, email, password string) (*Principal, error) {
	ip := clientIPFromContext(ctx)

	fail := func(principalID string, reason string) {
		e.metricInc(metrics.MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, principalID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": email, "reason": reason}
		})
	}

	if password == "" {
		_ = e.rateLimiter.IncrementLogin(ctx, email, ip)
		fail("", "empty_password")
		return nil, ErrInvalidCredentials
	}

	principal, err := e.principals.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = e.rateLimiter.IncrementLogin(ctx, email, ip)
			fail("", "principal_not_found")
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	if !principal.Active {
		e.metricInc(metrics.MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, "", ErrAccountInactive, func() map[string]string {
			return map[string]string{"identifier": email, "reason": "account_inactive"}
		})
		return nil, ErrAccountInactive
	}

	// An active lock fails without consuming an attempt.
	lockedUntil, err := e.lockouts.LockedUntil(ctx, principal.ID)
	if err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if !lockedUntil.IsZero() {
		e.metricInc(metrics.MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"identifier": email, "locked_until": lockedUntil.Format(time.RFC3339)}
		})
		return nil, ErrAccountLocked
	}

	ok, err := e.passwordHash.Verify(password, principal.PasswordHash)
	if err != nil || !ok {
		_ = e.rateLimiter.IncrementLogin(ctx, email, ip)
		count, until, lockErr := e.lockouts.RecordFailure(ctx, principal.ID)
		if lockErr != nil {
			return nil, errors.Join(ErrBackendUnavailable, lockErr)
		}
		if !until.IsZero() {
			e.metricInc(metrics.MetricAccountLocked)
			e.emitAudit(ctx, auditEventAccountLocked, false, principal.ID, "", ErrAccountLocked, func() map[string]string {
				return map[string]string{
					"failed_attempts": strconv.Itoa(count),
					"locked_until":    until.Format(time.RFC3339),
				}
			})
			e.emitNotify(notify.KindAccountLocked, principal.ID, principal.Email, map[string]string{
				"locked_until": until.Format(time.RFC3339),
			})
		}
		fail(principal.ID, "password_mismatch")
		return nil, ErrInvalidCredentials
	}

	if e.config.Password.RehashOnLogin {
		if needs, err := e.passwordHash.NeedsRehash(principal.PasswordHash); err == nil && needs {
			if upgraded, err := e.passwordHash.Hash(password); err == nil {
				// Best effort; a failed upgrade must not block the login.
				if err := e.principals.UpdatePasswordHash(ctx, principal.ID, upgraded); err != nil {
					log.Print("authcore: password rehash update failed")
				}
			}
		}
	}

	if err := e.lockouts.Reset(ctx, principal.ID); err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	if err := e.rateLimiter.ResetLogin(ctx, email, ip); err != nil {
		log.Print("authcore: login limiter reset failed")
	}

	return principal, nil
}

// openChallenge stores the step-up record and reports the enrolled
// verified method types, sorted.
func (e *Engine) openChallenge(ctx context.Context, principal *Principal, rememberMe bool) (*LoginResult, error) {
	methods, err := e.enrolledMethodTypes(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	challengeID, err := internal.NewOpaqueID()
	if err != nil {
		return nil, err
	}

	record := &stores.MFAChallenge{
		PrincipalID: principal.ID,
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Fingerprint: fingerprintFromContext(ctx),
		RememberMe:  rememberMe,
		ExpiresAt:   time.Now().Add(e.config.MFA.ChallengeTTL).Unix(),
	}
	if err := e.challenges.Save(ctx, challengeID.String(), record, e.config.MFA.ChallengeTTL); err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	// Delivered-code methods get their code sent when the challenge opens.
	e.sendDeliveredCodes(ctx, principal, methods)

	e.metricInc(metrics.MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, principal.ID, "", nil, nil)

	return &LoginResult{
		MFARequired: true,
		ChallengeID: challengeID.String(),
		Methods:     methods,
	}, nil
}

func (e *Engine) enrolledMethodTypes(ctx context.Context, principalID string) ([]MFAMethodType, error) {
	enrolled, err := e.mfaMethods.MethodsForPrincipal(ctx, principalID)
	if err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}

	types := make([]MFAMethodType, 0, len(enrolled))
	for _, m := range enrolled {
		if m.Verified {
			types = append(types, m.Type)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	if len(types) == 0 {
		return nil, ErrMFANotEnrolled
	}
	return types, nil
}

func (e *Engine) sendDeliveredCodes(ctx context.Context, principal *Principal, methods []MFAMethodType) {
	for _, t := range methods {
		var channel string
		switch t {
		case MFATypeSMS:
			channel = "sms"
		case MFATypeEmail:
			channel = "email"
		default:
			continue
		}

		code, err := internal.NewOTP(e.config.MFA.OTPDigits)
		if err != nil {
			log.Print("authcore: otp generation failed")
			continue
		}
		if err := e.otpCodes.Put(ctx, principal.ID, channel, code, e.config.MFA.OTPTTL); err != nil {
			log.Print("authcore: otp store failed")
			continue
		}
		e.emitNotify(notify.KindMFACode, principal.ID, principal.Email, map[string]string{
			"channel": channel,
			"code":    code,
		})
	}
}

// establishSession registers a new session, flags unfamiliar devices, and
// issues a token pair. New-device detection never blocks the login.
func (e *Engine) establishSession(ctx context.Context, principal *Principal, rememberMe bool) (*LoginResult, error) {
	sessionID := ids.New()
	ttl := e.config.Session.TTL
	if rememberMe {
		ttl = e.config.Session.RememberMeTTL
	}

	fingerprint := fingerprintFromContext(ctx)
	newDevice := false
	if fingerprint != "" {
		known, err := e.sessions.KnownFingerprint(ctx, principal.ID, fingerprint)
		if err != nil {
			log.Print("authcore: device fingerprint lookup failed")
		} else {
			newDevice = !known
		}
	}

	now := time.Now()
	sess := &session.Session{
		ID:             sessionID,
		PrincipalID:    principal.ID,
		Fingerprint:    fingerprint,
		IP:             clientIPFromContext(ctx),
		UserAgent:      session.Clip(userAgentFromContext(ctx)),
		Location:       session.Clip(locationFromContext(ctx)),
		CreatedAt:      now.Unix(),
		LastActivityAt: now.Unix(),
		ExpiresAt:      now.Add(ttl).Unix(),
		Active:         true,
		RememberMe:     rememberMe,
	}
	if err := e.sessions.Save(ctx, sess, ttl); err != nil {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	e.metricInc(metrics.MetricSessionCreated)

	pair, err := e.issueTokens(ctx, principal, sessionID, now)
	if err != nil {
		return nil, err
	}

	if newDevice {
		e.metricInc(metrics.MetricNewDeviceLogin)
		e.emitAudit(ctx, auditEventNewDevice, true, principal.ID, sessionID, nil, func() map[string]string {
			return map[string]string{"fingerprint": fingerprint}
		})
		e.emitNotify(notify.KindNewDeviceLogin, principal.ID, principal.Email, map[string]string{
			"ip":         sess.IP,
			"user_agent": sess.UserAgent,
			"location":   sess.Location,
		})
	}

	return &LoginResult{TokenPair: *pair, NewDevice: newDevice}, nil
}

func (e *Engine) finishLogin(ctx context.Context, principal *Principal, result *LoginResult) {
	e.metricInc(metrics.MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, principal.ID, result.SessionID, nil, nil)
}
