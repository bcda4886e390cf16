package authcore

import (
	"errors"
	"time"

	"github.com/tessera-id/authcore/rbac"
)

// TokenConfig holds signing material and lifetimes for both token classes.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// PasswordConfig tunes the argon2id hasher and the password policy.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	// RehashOnLogin transparently upgrades stored hashes that no longer
	// match the configured parameters.
	RehashOnLogin bool
}

// LockoutConfig controls the consecutive-failure lockout state machine.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// SessionConfig controls the session registry.
type SessionConfig struct {
	TTL           time.Duration
	RememberMeTTL time.Duration
	RedisPrefix   string
}

// TOTPConfig tunes RFC 6238 code generation and verification.
type TOTPConfig struct {
	Issuer    string
	Period    int
	Digits    int
	Skew      int
	Algorithm string
	// EnforceReplayProtection rejects a code whose time step was already
	// accepted once.
	EnforceReplayProtection bool
}

// MFAConfig controls the step-up flow.
type MFAConfig struct {
	ChallengeTTL           time.Duration
	MaxAttempts            int
	TOTP                   TOTPConfig
	OTPDigits              int
	OTPTTL                 time.Duration
	BackupCodeCount        int
	LowBackupCodeThreshold int
}

// SecurityConfig tunes the pre-auth rate limits.
type SecurityConfig struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRegisterAttempts     int
	RegisterCooldown        time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// PasswordResetConfig controls the reset token flow.
type PasswordResetConfig struct {
	TokenTTL time.Duration
}

// RegisterConfig controls account creation.
type RegisterConfig struct {
	// DefaultRoleID, when set, is granted to every newly registered
	// principal. Registration fails if the role does not exist.
	DefaultRoleID string
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
}

// MetricsConfig controls counter recording.
type MetricsConfig struct {
	Enabled bool
}

// NotifyConfig controls the outbound notification queue.
type NotifyConfig struct {
	Enabled        bool
	BufferSize     int
	SendsPerSecond float64
	Burst          int
}

// Config is the complete engine configuration. Zero values are filled by
// DefaultConfig; Build validates the result.
type Config struct {
	Token           TokenConfig
	Password        PasswordConfig
	Lockout         LockoutConfig
	Session         SessionConfig
	MFA             MFAConfig
	PermissionCache rbac.CacheConfig
	Security        SecurityConfig
	PasswordReset   PasswordResetConfig
	Register        RegisterConfig
	Audit           AuditConfig
	Metrics         MetricsConfig
	Notify          NotifyConfig
}

// DefaultConfig returns a working configuration for everything except the
// token secrets, which have no safe default and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "authcore",
			Leeway:     30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:        64 * 1024,
			Time:          3,
			Parallelism:   2,
			SaltLength:    16,
			KeyLength:     32,
			MinLength:     10,
			RehashOnLogin: true,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
			Duration:  30 * time.Minute,
		},
		Session: SessionConfig{
			TTL:           24 * time.Hour,
			RememberMeTTL: 30 * 24 * time.Hour,
			RedisPrefix:   "se",
		},
		MFA: MFAConfig{
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  5,
			TOTP: TOTPConfig{
				Issuer:                  "authcore",
				Period:                  30,
				Digits:                  6,
				Skew:                    1,
				Algorithm:               "SHA1",
				EnforceReplayProtection: true,
			},
			OTPDigits:              6,
			OTPTTL:                 5 * time.Minute,
			BackupCodeCount:        10,
			LowBackupCodeThreshold: 2,
		},
		PermissionCache: rbac.DefaultCacheConfig(),
		Security: SecurityConfig{
			EnableIPThrottle:        true,
			EnableRefreshThrottle:   true,
			MaxLoginAttempts:        20,
			LoginCooldownDuration:   10 * time.Minute,
			MaxRegisterAttempts:     10,
			RegisterCooldown:        time.Hour,
			MaxRefreshAttempts:      30,
			RefreshCooldownDuration: time.Minute,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL: time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Notify: NotifyConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// Validate rejects configurations the engine cannot operate under.
func (c Config) Validate() error {
	if len(c.Token.AccessSecret) < 32 {
		return errors.New("token access secret must be at least 32 bytes")
	}
	if len(c.Token.RefreshSecret) < 32 {
		return errors.New("token refresh secret must be at least 32 bytes")
	}
	if string(c.Token.AccessSecret) == string(c.Token.RefreshSecret) {
		return errors.New("access and refresh secrets must differ")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("invalid token TTL configuration")
	}
	if c.Lockout.Threshold < 0 {
		return errors.New("lockout threshold cannot be negative")
	}
	if c.Lockout.Threshold > 0 && c.Lockout.Duration <= 0 {
		return errors.New("lockout duration required when threshold is set")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session TTL must be positive")
	}
	if c.Session.RememberMeTTL < c.Session.TTL {
		return errors.New("remember-me TTL cannot be shorter than session TTL")
	}
	if c.MFA.ChallengeTTL <= 0 || c.MFA.MaxAttempts <= 0 {
		return errors.New("invalid mfa challenge configuration")
	}
	if c.MFA.TOTP.Period <= 0 || c.MFA.TOTP.Digits < 6 || c.MFA.TOTP.Digits > 10 {
		return errors.New("invalid totp configuration")
	}
	if c.MFA.TOTP.Skew < 0 || c.MFA.TOTP.Skew > 4 {
		return errors.New("invalid totp skew")
	}
	if c.MFA.BackupCodeCount < 0 || c.MFA.BackupCodeCount > 32 {
		return errors.New("invalid backup code count")
	}
	if c.Password.MinLength < 8 {
		return errors.New("password minimum length below 8")
	}
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("password reset TTL must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.AccessSecret = cloneBytes(cfg.Token.AccessSecret)
	out.Token.RefreshSecret = cloneBytes(cfg.Token.RefreshSecret)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
