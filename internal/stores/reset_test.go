package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"
)

func TestResetConsumeOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, "")
	ctx := context.Background()

	digest := sha256.Sum256([]byte("secret-1"))
	if err := store.Put(ctx, "r1", "p1", digest, time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	principal, err := store.Consume(ctx, "r1", digest)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if principal != "p1" {
		t.Fatalf("expected p1, got %q", principal)
	}

	if _, err := store.Consume(ctx, "r1", digest); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("expected ErrResetNotFound on replay, got %v", err)
	}
}

func TestResetWrongSecretLeavesRecord(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, "")
	ctx := context.Background()

	digest := sha256.Sum256([]byte("secret-1"))
	if err := store.Put(ctx, "r1", "p1", digest, time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	wrong := sha256.Sum256([]byte("secret-2"))
	if _, err := store.Consume(ctx, "r1", wrong); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("expected ErrResetNotFound for wrong secret, got %v", err)
	}

	// A mismatch must not burn the record.
	principal, err := store.Consume(ctx, "r1", digest)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if principal != "p1" {
		t.Fatalf("expected p1, got %q", principal)
	}
}

func TestResetSupersededByNewRequest(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetStore(rdb, "")
	ctx := context.Background()

	first := sha256.Sum256([]byte("secret-1"))
	second := sha256.Sum256([]byte("secret-2"))
	if err := store.Put(ctx, "r1", "p1", first, time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "r2", "p1", second, time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := store.Consume(ctx, "r1", first); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("expected superseded record gone, got %v", err)
	}
	principal, err := store.Consume(ctx, "r2", second)
	if err != nil || principal != "p1" {
		t.Fatalf("Consume failed: %q, %v", principal, err)
	}
}

func TestResetExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewResetStore(rdb, "")
	ctx := context.Background()

	digest := sha256.Sum256([]byte("secret-1"))
	if err := store.Put(ctx, "r1", "p1", digest, time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := store.Consume(ctx, "r1", digest); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}
