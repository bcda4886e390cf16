package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/tessera-id/authcore/internal/notify"
)

func TestRegisterCreatesLoginablePrincipal(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()

	p, err := env.engine.Register(ctx, RegisterRequest{
		Email:      "Carol@Example.com ",
		Password:   "a-strong-password-1",
		Department: "engineering",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if p.Email != "carol@example.com" {
		t.Fatalf("expected normalized email, got %q", p.Email)
	}
	if p.Department != "engineering" {
		t.Fatalf("expected department kept, got %q", p.Department)
	}
	if !p.Active {
		t.Fatal("new principal should be active")
	}

	if _, err := env.engine.Login(ctx, LoginRequest{
		Email:    "carol@example.com",
		Password: "a-strong-password-1",
	}); err != nil {
		t.Fatalf("Login after register failed: %v", err)
	}

	env.engine.Close()
	if got := len(env.sender.byKind(notify.KindWelcome)); got != 1 {
		t.Fatalf("expected 1 welcome notification, got %d", got)
	}
}

func TestRegisterGrantsDefaultRole(t *testing.T) {
	cfg := testConfig()
	cfg.Register.DefaultRoleID = "r1"
	env := newTestEngine(t, cfg)
	ctx := context.Background()

	role, err := env.engine.CreateRole(ctx, "member", "baseline access", "")
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if role.ID != "r1" {
		t.Fatalf("expected first role ID r1, got %q", role.ID)
	}

	p, err := env.engine.Register(ctx, RegisterRequest{
		Email:    "dave@example.com",
		Password: "a-strong-password-1",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	roles, err := env.engine.ExpandRoles(ctx, p.ID)
	if err != nil {
		t.Fatalf("ExpandRoles failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != role.ID {
		t.Fatalf("expected the default role to be granted, got %v", roles)
	}
}

func TestRegisterFailsWhenDefaultRoleMissing(t *testing.T) {
	cfg := testConfig()
	cfg.Register.DefaultRoleID = "ghost"
	env := newTestEngine(t, cfg)

	if _, err := env.engine.Register(context.Background(), RegisterRequest{
		Email:    "eve@example.com",
		Password: "a-strong-password-1",
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing default role, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "dup@example.com", Password: "a-strong-password-1"}); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if _, err := env.engine.Register(ctx, RegisterRequest{Email: "DUP@example.com", Password: "another-password-22"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	env := newTestEngine(t, testConfig())
	if _, err := env.engine.Register(context.Background(), RegisterRequest{Email: "short@example.com", Password: "short"}); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestRegisterRejectsMalformedEmail(t *testing.T) {
	env := newTestEngine(t, testConfig())
	if _, err := env.engine.Register(context.Background(), RegisterRequest{Email: "not-an-email", Password: "a-strong-password-1"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected rejection, got %v", err)
	}
}
