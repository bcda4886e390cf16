package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessSecret:  []byte("access-secret-0123456789abcdef01"),
		RefreshSecret: []byte("refresh-secret-0123456789abcdef0"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		Issuer:        "authcore-test",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestAccessRoundTrip(t *testing.T) {
	m := testManager(t)
	now := time.Now()

	signed, jti, err := m.IssueAccess("p1", "s1", []string{"editor"}, []string{"document:write"}, now)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	if jti == "" {
		t.Fatal("expected a jti")
	}

	claims, err := m.ParseAccess(signed)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.Subject != "p1" || claims.SessionID != "s1" || claims.ID != jti {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "editor" {
		t.Fatalf("roles lost: %v", claims.Roles)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "document:write" {
		t.Fatalf("permissions lost: %v", claims.Permissions)
	}
}

func TestRefreshCarriesTokenVersion(t *testing.T) {
	m := testManager(t)

	signed, _, err := m.IssueRefresh("p1", "s1", 7, time.Now())
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}
	claims, err := m.ParseRefresh(signed)
	if err != nil {
		t.Fatalf("ParseRefresh failed: %v", err)
	}
	if claims.TokenVersion != 7 {
		t.Fatalf("expected version 7, got %d", claims.TokenVersion)
	}
}

func TestClassesDoNotCrossVerify(t *testing.T) {
	m := testManager(t)
	now := time.Now()

	access, _, err := m.IssueAccess("p1", "s1", nil, nil, now)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	refresh, _, err := m.IssueRefresh("p1", "s1", 0, now)
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}

	if _, err := m.ParseRefresh(access); err == nil {
		t.Fatal("access token parsed as refresh")
	}
	if _, err := m.ParseAccess(refresh); err == nil {
		t.Fatal("refresh token parsed as access")
	}
}

func TestExpiredTokenRejectedBeyondLeeway(t *testing.T) {
	m := testManager(t)

	// Issued far enough in the past that expiry plus leeway has lapsed.
	signed, _, err := m.IssueAccess("p1", "s1", nil, nil, time.Now().Add(-16*time.Minute))
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	if _, err := m.ParseAccess(signed); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestLeewayToleratesSmallSkew(t *testing.T) {
	m := testManager(t)

	// Expired ten seconds ago, inside the 30s leeway.
	signed, _, err := m.IssueAccess("p1", "s1", nil, nil, time.Now().Add(-15*time.Minute-10*time.Second))
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	if _, err := m.ParseAccess(signed); err != nil {
		t.Fatalf("token inside leeway rejected: %v", err)
	}
}

func TestWrongIssuerRejected(t *testing.T) {
	m := testManager(t)
	other, err := NewManager(Config{
		AccessSecret:  []byte("access-secret-0123456789abcdef01"),
		RefreshSecret: []byte("refresh-secret-0123456789abcdef0"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		Issuer:        "someone-else",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	signed, _, err := other.IssueAccess("p1", "s1", nil, nil, time.Now())
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	if _, err := m.ParseAccess(signed); err == nil {
		t.Fatal("wrong issuer accepted")
	}
}

func TestUnsignedAlgorithmRejected(t *testing.T) {
	m := testManager(t)

	claims := AccessClaims{
		SessionID: "s1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "p1",
			Issuer:    "authcore-test",
			Audience:  jwt.ClaimStrings{"api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}
	if _, err := m.ParseAccess(unsigned); err == nil {
		t.Fatal("alg=none accepted")
	}
}

func TestManagerConfigValidation(t *testing.T) {
	base := Config{
		AccessSecret:  []byte("access-secret-0123456789abcdef01"),
		RefreshSecret: []byte("refresh-secret-0123456789abcdef0"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	}

	shared := base
	shared.RefreshSecret = shared.AccessSecret
	if _, err := NewManager(shared); err == nil {
		t.Fatal("shared secrets accepted")
	}

	inverted := base
	inverted.RefreshTTL = time.Minute
	if _, err := NewManager(inverted); err == nil {
		t.Fatal("refresh TTL below access TTL accepted")
	}

	missing := base
	missing.AccessSecret = nil
	if _, err := NewManager(missing); err == nil {
		t.Fatal("missing secret accepted")
	}
}

func TestRemaining(t *testing.T) {
	now := time.Now()
	if got := Remaining(nil, now); got != 0 {
		t.Fatalf("nil expiry: got %v", got)
	}
	if got := Remaining(jwt.NewNumericDate(now.Add(-time.Minute)), now); got != 0 {
		t.Fatalf("past expiry: got %v", got)
	}
	got := Remaining(jwt.NewNumericDate(now.Add(time.Hour)), now)
	if got <= 59*time.Minute || got > time.Hour {
		t.Fatalf("future expiry: got %v", got)
	}
}
