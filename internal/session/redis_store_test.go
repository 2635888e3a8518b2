package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"quill/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs, s
}

func TestNewRedisStore(t *testing.T) {
	rs, _ := setupTestRedis(t)
	if err := rs.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestSaveAndLookupSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveSession(ctx, "jti-1", "user-123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if !s.Exists("session:jti-1") {
		t.Fatal("expected key under session: prefix")
	}

	userID, err := rs.LookupSession(ctx, "jti-1")
	if err != nil {
		t.Fatalf("LookupSession failed: %v", err)
	}
	if userID != "user-123" {
		t.Errorf("expected user-123, got %s", userID)
	}
}

func TestSaveSessionRejectsPastExpiry(t *testing.T) {
	rs, _ := setupTestRedis(t)
	if err := rs.SaveSession(context.Background(), "jti-old", "user-1", time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected error for past expiry")
	}
}

func TestLookupExpiredSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveSession(ctx, "expired", "user-456", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	_, err := rs.LookupSession(ctx, "expired")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	_, err := rs.LookupSession(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupCorruptSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	if err := s.Set("session:broken", "{not json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	_, err := rs.LookupSession(context.Background(), "broken")
	if err == nil || errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestRevokeSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	for _, jti := range []string{"token-1", "token-2"} {
		if err := rs.SaveSession(ctx, jti, "user-"+jti, expiresAt); err != nil {
			t.Fatalf("SaveSession %s failed: %v", jti, err)
		}
	}

	if err := rs.RevokeSession(ctx, "token-1"); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if _, err := rs.LookupSession(ctx, "token-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected revoked token-1 to be gone, got %v", err)
	}

	userID, err := rs.LookupSession(ctx, "token-2")
	if err != nil {
		t.Fatalf("Lookup token-2 after revoke failed: %v", err)
	}
	if userID != "user-token-2" {
		t.Errorf("expected user-token-2, got %s", userID)
	}
}

func TestRevokeNonExistentSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	if err := rs.RevokeSession(context.Background(), "missing"); err != nil {
		t.Errorf("RevokeSession for missing token failed: %v", err)
	}
}
