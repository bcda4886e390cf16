package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/tessera-id/authcore/internal/audit"
	"github.com/tessera-id/authcore/internal/metrics"
	"github.com/tessera-id/authcore/internal/notify"
	"github.com/tessera-id/authcore/internal/rate"
	"github.com/tessera-id/authcore/internal/stores"
	"github.com/tessera-id/authcore/password"
	"github.com/tessera-id/authcore/rbac"
	"github.com/tessera-id/authcore/session"
	"github.com/tessera-id/authcore/token"
)

// Builder assembles an Engine. Chain the With methods, then call Build
// once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	principals PrincipalStore
	mfaMethods MFAMethodStore
	rbacStore  RBACStore
	policy     rbac.PolicyEngine

	auditSink    audit.Sink
	notifySender notify.Sender

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithPrincipalStore(store PrincipalStore) *Builder {
	b.principals = store
	return b
}

func (b *Builder) WithMFAMethodStore(store MFAMethodStore) *Builder {
	b.mfaMethods = store
	return b
}

func (b *Builder) WithRBACStore(store RBACStore) *Builder {
	b.rbacStore = store
	return b
}

// WithPolicyEngine substitutes the role-expansion engine. When omitted,
// an adjacency-list evaluator over the RBAC store is used.
func (b *Builder) WithPolicyEngine(engine rbac.PolicyEngine) *Builder {
	b.policy = engine
	return b
}

func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithNotifier(sender notify.Sender) *Builder {
	b.notifySender = sender
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.principals == nil {
		return nil, errors.New("principal store required")
	}
	if b.mfaMethods == nil {
		return nil, errors.New("mfa method store required")
	}
	if b.rbacStore == nil {
		return nil, errors.New("rbac store required")
	}

	engine := &Engine{
		config:     cfg,
		principals: b.principals,
		mfaMethods: b.mfaMethods,
		rbacStore:  b.rbacStore,
	}

	engine.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix)
	engine.lockouts = stores.NewLockoutStore(b.redis, stores.LockoutConfig{
		Threshold: cfg.Lockout.Threshold,
		Window:    cfg.Lockout.Window,
		Duration:  cfg.Lockout.Duration,
	})
	engine.challenges = stores.NewMFAChallengeStore(b.redis, "mc")
	engine.otpCodes = stores.NewOTPCodeStore(b.redis, "oc")
	engine.resets = stores.NewResetStore(b.redis, "pr")
	engine.blacklist = stores.NewBlacklistStore(b.redis)

	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:        cfg.Security.EnableIPThrottle,
		EnableRefreshThrottle:   cfg.Security.EnableRefreshThrottle,
		MaxLoginAttempts:        cfg.Security.MaxLoginAttempts,
		LoginCooldownDuration:   cfg.Security.LoginCooldownDuration,
		MaxRegisterAttempts:     cfg.Security.MaxRegisterAttempts,
		RegisterCooldown:        cfg.Security.RegisterCooldown,
		MaxRefreshAttempts:      cfg.Security.MaxRefreshAttempts,
		RefreshCooldownDuration: cfg.Security.RefreshCooldownDuration,
	})

	policy := b.policy
	if policy == nil {
		policy = rbac.NewAdjacencyEngine(b.rbacStore)
	}
	engine.policy = policy
	engine.resolver = rbac.NewResolver(
		b.rbacStore,
		policy,
		rbac.NewCache(b.redis, cfg.PermissionCache),
	)

	ph, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	tm, err := token.NewManager(token.Config{
		AccessSecret:  cfg.Token.AccessSecret,
		RefreshSecret: cfg.Token.RefreshSecret,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = tm

	engine.totp = newTOTPManager(cfg.MFA.TOTP)

	sink := b.auditSink
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: true,
	}, sink)

	sender := b.notifySender
	if sender == nil {
		sender = notify.NoOpSender{}
	}
	engine.notify = notify.NewDispatcher(notify.Config{
		Enabled:        cfg.Notify.Enabled,
		BufferSize:     cfg.Notify.BufferSize,
		SendsPerSecond: cfg.Notify.SendsPerSecond,
		Burst:          cfg.Notify.Burst,
	}, sender)

	engine.metrics = metrics.New(metrics.Config{Enabled: cfg.Metrics.Enabled})

	b.built = true
	return engine, nil
}
