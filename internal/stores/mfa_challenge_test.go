package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testChallenge(principalID string, ttl time.Duration) *MFAChallenge {
	return &MFAChallenge{
		PrincipalID: principalID,
		IP:          "192.0.2.4",
		UserAgent:   "test-agent",
		Fingerprint: "fp-1",
		RememberMe:  true,
		ExpiresAt:   time.Now().Add(ttl).Unix(),
	}
}

func TestChallengeSaveGetConsume(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewMFAChallengeStore(rdb, "")
	ctx := context.Background()

	in := testChallenge("p1", time.Minute)
	if err := store.Save(ctx, "c1", in, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	out, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.PrincipalID != "p1" || out.IP != "192.0.2.4" || !out.RememberMe {
		t.Fatalf("challenge context lost: %+v", out)
	}

	consumed, err := store.Consume(ctx, "c1")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !consumed {
		t.Fatal("expected this call to consume")
	}
	consumed, err = store.Consume(ctx, "c1")
	if err != nil {
		t.Fatalf("second Consume failed: %v", err)
	}
	if consumed {
		t.Fatal("challenge consumed twice")
	}
}

func TestChallengeIDCollisionRejected(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewMFAChallengeStore(rdb, "")
	ctx := context.Background()

	if err := store.Save(ctx, "c1", testChallenge("p1", time.Minute), time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	err := store.Save(ctx, "c1", testChallenge("p2", time.Minute), time.Minute)
	if !errors.Is(err, ErrMFAChallengeExists) {
		t.Fatalf("expected ErrMFAChallengeExists, got %v", err)
	}
}

func TestChallengeExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewMFAChallengeStore(rdb, "")
	ctx := context.Background()

	if err := store.Save(ctx, "c1", testChallenge("p1", time.Minute), time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, "c1"); !errors.Is(err, ErrMFAChallengeNotFound) && !errors.Is(err, ErrMFAChallengeExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestChallengeFailuresAccumulateAndExhaust(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewMFAChallengeStore(rdb, "")
	ctx := context.Background()

	if err := store.Save(ctx, "c1", testChallenge("p1", time.Minute), time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	exceeded, err := store.RecordFailure(ctx, "c1", 3)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if exceeded {
		t.Fatal("exhausted after one failure")
	}
	record, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Attempts != 1 {
		t.Fatalf("expected 1 attempt recorded, got %d", record.Attempts)
	}

	if _, err := store.RecordFailure(ctx, "c1", 3); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	exceeded, err = store.RecordFailure(ctx, "c1", 3)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !exceeded {
		t.Fatal("expected exhaustion at the third failure")
	}

	// Exhaustion deletes the challenge.
	if _, err := store.Get(ctx, "c1"); !errors.Is(err, ErrMFAChallengeNotFound) {
		t.Fatalf("expected challenge gone, got %v", err)
	}
}
