package authcore

import (
	"context"
	"time"

	"github.com/tessera-id/authcore/rbac"
)

// Principal is the durable account record behind every authentication
// decision.
type Principal struct {
	ID           string
	Email        string
	PasswordHash string
	Active       bool
	MFAEnabled   bool
	// TokenVersion invalidates outstanding refresh tokens when bumped;
	// each refresh token carries the version current at issuance.
	TokenVersion int64
	Department   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PrincipalStore is the durable credential store collaborator.
// Implementations return ErrNotFound and ErrConflict from this package.
type PrincipalStore interface {
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	FindByID(ctx context.Context, id string) (*Principal, error)
	Create(ctx context.Context, p *Principal) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetMFAEnabled(ctx context.Context, id string, enabled bool) error
	SetActive(ctx context.Context, id string, active bool) error
	BumpTokenVersion(ctx context.Context, id string) (int64, error)
}

// MFAMethodType enumerates the supported second factors.
type MFAMethodType string

const (
	MFATypeTOTP   MFAMethodType = "TOTP"
	MFATypeSMS    MFAMethodType = "SMS"
	MFATypeEmail  MFAMethodType = "EMAIL"
	MFATypeBackup MFAMethodType = "BACKUP"
)

// MFAMethod is one enrolled second factor. Secret holds the raw TOTP key
// for TOTP methods; Recipient holds the phone number or email address for
// delivered-code methods.
type MFAMethod struct {
	PrincipalID     string
	Type            MFAMethodType
	Secret          []byte
	Recipient       string
	Verified        bool
	LastUsedCounter int64
	CreatedAt       time.Time
}

// MFAMethodStore persists enrolled factors and backup codes. Backup codes
// are stored as digests; ConsumeBackupCode must delete-on-match in a
// single statement so each code verifies at most once.
type MFAMethodStore interface {
	MethodsForPrincipal(ctx context.Context, principalID string) ([]MFAMethod, error)
	Upsert(ctx context.Context, m MFAMethod) error
	Delete(ctx context.Context, principalID string, t MFAMethodType) error
	UpdateLastUsedCounter(ctx context.Context, principalID string, t MFAMethodType, counter int64) error
	ReplaceBackupCodes(ctx context.Context, principalID string, digests []string) error
	ConsumeBackupCode(ctx context.Context, principalID, digest string) (remaining int, consumed bool, err error)
}

// RBACStore is the durable permission model, read side plus management.
type RBACStore interface {
	rbac.Store

	CreateRole(ctx context.Context, name, description, parentID string) (rbac.Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	AssignRole(ctx context.Context, principalID, roleID string) error
	RemoveRole(ctx context.Context, principalID, roleID string) error
	CreatePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error)
	AddPermissionToRole(ctx context.Context, roleID, permissionID string) error
	RemovePermissionFromRole(ctx context.Context, roleID, permissionID string) error
	FindPermission(ctx context.Context, resource, action string) (rbac.Permission, error)
}

// TokenPair is an issued access+refresh pair bound to one session.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is the outcome of a login attempt that passed the password
// check. Either the pair is populated, or MFARequired is set and the
// caller must complete the challenge with VerifyMFA.
type LoginResult struct {
	MFARequired bool
	ChallengeID string
	Methods     []MFAMethodType
	NewDevice   bool
	TokenPair
}

// VerifyResult is the introspection outcome for a live access token.
type VerifyResult struct {
	PrincipalID string
	SessionID   string
	JTI         string
	Roles       []string
	Permissions []string
	ExpiresAt   time.Time
}

// SessionInfo is the caller-facing view of one registered session.
type SessionInfo struct {
	ID             string
	PrincipalID    string
	IP             string
	UserAgent      string
	Location       string
	Fingerprint    string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	Active         bool
	RememberMe     bool
}
