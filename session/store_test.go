package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewStore(rdb, ""), mr
}

func testSession(id, principalID string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		PrincipalID:    principalID,
		Fingerprint:    "fp-" + id,
		IP:             "192.0.2.1",
		UserAgent:      "test-agent",
		CreatedAt:      now.Unix(),
		LastActivityAt: now.Unix(),
		ExpiresAt:      now.Add(ttl).Unix(),
		Active:         true,
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	in := testSession("s1", "p1", time.Hour)
	if err := store.Save(ctx, in, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	out, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.ID != "s1" || out.PrincipalID != "p1" || !out.Active {
		t.Fatalf("unexpected session: %+v", out)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestGetDeletesExpiredRecordLazily(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Long Redis TTL but an absolute expiry already in the past.
	in := testSession("s1", "p1", -time.Minute)
	if err := store.Save(ctx, in, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	ids, err := store.ActiveSessionIDs(ctx, "p1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected index cleanup, got %v", ids)
	}
}

func TestTouchKeepsRemainingTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	in := testSession("s1", "p1", time.Hour)
	if err := store.Save(ctx, in, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	mr.FastForward(30 * time.Minute)

	later := time.Now().Add(30 * time.Minute)
	if err := store.Touch(ctx, "s1", later); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	out, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.LastActivityAt != later.Unix() {
		t.Fatalf("expected activity at %d, got %d", later.Unix(), out.LastActivityAt)
	}
	if ttl := mr.TTL("se:s1"); ttl > 30*time.Minute {
		t.Fatalf("Touch must not extend the TTL, got %v", ttl)
	}
}

func TestRevokeKeepsRecordWithReason(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	in := testSession("s1", "p1", time.Hour)
	if err := store.Save(ctx, in, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	revoked, err := store.Revoke(ctx, "s1", ReasonAdminRevoked)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if revoked.Active {
		t.Fatal("revoked session still active")
	}

	out, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get after revoke failed: %v", err)
	}
	if out.Active || out.LogoutReason != ReasonAdminRevoked {
		t.Fatalf("expected inactive with admin_revoked, got %+v", out)
	}

	ids, err := store.ActiveSessionIDs(ctx, "p1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("revoked session still indexed: %v", ids)
	}

	// Revoking again is a no-op, the first reason wins.
	again, err := store.Revoke(ctx, "s1", ReasonUserLogout)
	if err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}
	if again.LogoutReason != ReasonAdminRevoked {
		t.Fatalf("expected first reason kept, got %v", again.LogoutReason)
	}
}

func TestRevokeAllForPrincipal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := store.Save(ctx, testSession(id, "p1", time.Hour), time.Hour); err != nil {
			t.Fatalf("Save %s failed: %v", id, err)
		}
	}
	if err := store.Save(ctx, testSession("other", "p2", time.Hour), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	revoked, err := store.RevokeAllForPrincipal(ctx, "p1", ReasonPasswordChanged)
	if err != nil {
		t.Fatalf("RevokeAllForPrincipal failed: %v", err)
	}
	if len(revoked) != 3 {
		t.Fatalf("expected 3 revoked, got %v", revoked)
	}

	out, err := store.Get(ctx, "other")
	if err != nil || !out.Active {
		t.Fatalf("unrelated principal's session touched: %+v, %v", out, err)
	}
}

func TestListForPrincipalSkipsExpired(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("live", "p1", time.Hour), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, testSession("gone", "p1", time.Minute), time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	sessions, err := store.ListForPrincipal(ctx, "p1")
	if err != nil {
		t.Fatalf("ListForPrincipal failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "live" {
		t.Fatalf("expected only the live session, got %+v", sessions)
	}
}

func TestKnownFingerprint(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	known, err := store.KnownFingerprint(ctx, "p1", "fp-s1")
	if err != nil {
		t.Fatalf("KnownFingerprint failed: %v", err)
	}
	if known {
		t.Fatal("no login happened yet")
	}

	if err := store.Save(ctx, testSession("s1", "p1", time.Hour), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	known, err = store.KnownFingerprint(ctx, "p1", "fp-s1")
	if err != nil {
		t.Fatalf("KnownFingerprint failed: %v", err)
	}
	if !known {
		t.Fatal("fingerprint of an active session should be known")
	}

	// An empty fingerprint never counts as a new device.
	known, err = store.KnownFingerprint(ctx, "p1", "")
	if err != nil || !known {
		t.Fatalf("empty fingerprint: known=%v err=%v", known, err)
	}

	// Once the device's only session ends the fingerprint is unknown again.
	if _, err := store.Revoke(ctx, "s1", ReasonUserLogout); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	known, err = store.KnownFingerprint(ctx, "p1", "fp-s1")
	if err != nil {
		t.Fatalf("KnownFingerprint failed: %v", err)
	}
	if known {
		t.Fatal("fingerprint without an active session should be unknown")
	}
}

func TestDeleteRemovesRecordAndIndex(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("s1", "p1", time.Hour), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	count, err := store.ActiveSessionCount(ctx, "p1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty index, got %d", count)
	}

	// Deleting a missing session is not an error.
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatalf("Delete of missing session failed: %v", err)
	}
}
