package stores

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBlacklistTokenAndSessionScopes(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewBlacklistStore(rdb)
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "jti-1", "sess-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("nothing revoked yet")
	}

	if err := store.RevokeToken(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if revoked, _ := store.IsRevoked(ctx, "jti-1", ""); !revoked {
		t.Fatal("expected jti revoked")
	}
	if revoked, _ := store.IsRevoked(ctx, "jti-2", "sess-1"); revoked {
		t.Fatal("different jti, same session, not revoked")
	}

	if err := store.RevokeSession(ctx, "sess-1", time.Minute); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if revoked, _ := store.IsRevoked(ctx, "jti-2", "sess-1"); !revoked {
		t.Fatal("expected session-scoped revocation to cover fresh jtis")
	}
}

func TestBlacklistEntriesExpireWithTokenLifetime(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewBlacklistStore(rdb)
	ctx := context.Background()

	if err := store.RevokeToken(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if revoked, _ := store.IsRevoked(ctx, "jti-1", ""); revoked {
		t.Fatal("entry should lapse with the token's lifetime")
	}
}

func TestBlacklistZeroTTLIsNoop(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewBlacklistStore(rdb)
	ctx := context.Background()

	// An already-expired token needs no blacklist entry.
	if err := store.RevokeToken(ctx, "jti-1", 0); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if revoked, _ := store.IsRevoked(ctx, "jti-1", ""); revoked {
		t.Fatal("expired token must not be written")
	}
}

func TestClaimRotationExactlyOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewBlacklistStore(rdb)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	claims := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			claimed, err := store.ClaimRotation(ctx, "jti-1", time.Minute)
			if err != nil {
				t.Errorf("ClaimRotation failed: %v", err)
				return
			}
			claims[slot] = claimed
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, c := range claims {
		if c {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one claim, got %d", winners)
	}

	// The claim doubles as the blacklist entry.
	if revoked, _ := store.IsRevoked(ctx, "jti-1", ""); !revoked {
		t.Fatal("claimed jti should read as revoked")
	}
}
