package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func loginForTokens(t *testing.T, env *testEnv) *LoginResult {
	t.Helper()
	env.seedPrincipal(t, "alice@example.com", "correct-password-123")
	result, err := env.engine.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-password-123",
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return result
}

func TestRefreshRotatesPair(t *testing.T) {
	env := newTestEngine(t, testConfig())
	first := loginForTokens(t, env)

	pair, err := env.engine.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a fresh pair")
	}
	if pair.RefreshToken == first.RefreshToken {
		t.Fatal("expected refresh token rotation")
	}
	if pair.SessionID != first.SessionID {
		t.Fatalf("expected same session, got %s and %s", first.SessionID, pair.SessionID)
	}
}

func TestRefreshReuseAfterRotationRejected(t *testing.T) {
	env := newTestEngine(t, testConfig())
	first := loginForTokens(t, env)

	if _, err := env.engine.Refresh(context.Background(), first.RefreshToken); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, err := env.engine.Refresh(context.Background(), first.RefreshToken); !errors.Is(err, ErrTokenBlacklisted) {
		t.Fatalf("expected ErrTokenBlacklisted on reuse, got %v", err)
	}
}

func TestConcurrentRefreshExactlyOneWins(t *testing.T) {
	env := newTestEngine(t, testConfig())
	first := loginForTokens(t, env)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = env.engine.Refresh(context.Background(), first.RefreshToken)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else if !errors.Is(err, ErrTokenBlacklisted) {
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestRefreshFailsAfterTokenVersionBump(t *testing.T) {
	env := newTestEngine(t, testConfig())
	first := loginForTokens(t, env)

	p, err := env.principals.FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if _, err := env.principals.BumpTokenVersion(context.Background(), p.ID); err != nil {
		t.Fatalf("BumpTokenVersion failed: %v", err)
	}

	if _, err := env.engine.Refresh(context.Background(), first.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken after version bump, got %v", err)
	}
}

func TestRefreshFailsForRevokedSession(t *testing.T) {
	env := newTestEngine(t, testConfig())
	first := loginForTokens(t, env)

	if err := env.engine.Logout(context.Background(), first.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := env.engine.Refresh(context.Background(), first.RefreshToken); !errors.Is(err, ErrTokenBlacklisted) && !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected rejection after logout, got %v", err)
	}
}

func TestRefreshFailsForInactivePrincipal(t *testing.T) {
	env := newTestEngine(t, testConfig())
	first := loginForTokens(t, env)

	p, err := env.principals.FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if err := env.principals.SetActive(context.Background(), p.ID, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	if _, err := env.engine.Refresh(context.Background(), first.RefreshToken); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}

func TestRefreshGarbageTokenRejected(t *testing.T) {
	env := newTestEngine(t, testConfig())
	loginForTokens(t, env)

	if _, err := env.engine.Refresh(context.Background(), "not-a-jwt"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestVerifyTokenIntrospection(t *testing.T) {
	env := newTestEngine(t, testConfig())
	first := loginForTokens(t, env)

	result, err := env.engine.VerifyToken(context.Background(), first.AccessToken)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if result.SessionID != first.SessionID {
		t.Fatalf("expected session %s, got %s", first.SessionID, result.SessionID)
	}
	if result.PrincipalID == "" || result.JTI == "" {
		t.Fatalf("expected principal and jti, got %+v", result)
	}
}

func TestVerifyTokenSeesLogoutImmediately(t *testing.T) {
	env := newTestEngine(t, testConfig())
	first := loginForTokens(t, env)

	if _, err := env.engine.VerifyToken(context.Background(), first.AccessToken); err != nil {
		t.Fatalf("VerifyToken before logout failed: %v", err)
	}
	if err := env.engine.Logout(context.Background(), first.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := env.engine.VerifyToken(context.Background(), first.AccessToken); !errors.Is(err, ErrTokenBlacklisted) && !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected rejection after logout, got %v", err)
	}
}

func TestAccessTokenRejectedAcrossSecrets(t *testing.T) {
	env := newTestEngine(t, testConfig())
	first := loginForTokens(t, env)

	// A refresh token must never pass access verification.
	if _, err := env.engine.VerifyToken(context.Background(), first.RefreshToken); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
