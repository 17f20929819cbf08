package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"
)

func TestTwoFactorValidateAndMarkUsed(t *testing.T) {
	ctx := context.Background()
	store := NewTwoFactorSessionStore(newTestRedis(t), "")

	digest := sha256.Sum256([]byte("secret-1"))
	record := &TwoFactorSession{
		AccountID:  "acc-1",
		SecretHash: digest,
		ExpiresAt:  time.Now().Add(10 * time.Minute).UnixMilli(),
	}
	if err := store.Create(ctx, "sess-1", record, 10*time.Minute); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Validate(ctx, "sess-1", digest)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got.AccountID != "acc-1" {
		t.Fatalf("unexpected account: %q", got.AccountID)
	}

	if err := store.MarkUsed(ctx, "sess-1", "acc-1"); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if _, err := store.Validate(ctx, "sess-1", digest); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("used session must be gone, got %v", err)
	}
}

func TestTwoFactorWrongSecretLooksMissing(t *testing.T) {
	ctx := context.Background()
	store := NewTwoFactorSessionStore(newTestRedis(t), "")

	record := &TwoFactorSession{
		AccountID:  "acc-1",
		SecretHash: sha256.Sum256([]byte("secret-1")),
		ExpiresAt:  time.Now().Add(10 * time.Minute).UnixMilli(),
	}
	if err := store.Create(ctx, "sess-1", record, 10*time.Minute); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	wrong := sha256.Sum256([]byte("secret-2"))
	if _, err := store.Validate(ctx, "sess-1", wrong); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for wrong secret, got %v", err)
	}
}

func TestTwoFactorCreateRetiresPriorSession(t *testing.T) {
	ctx := context.Background()
	store := NewTwoFactorSessionStore(newTestRedis(t), "")

	first := sha256.Sum256([]byte("secret-1"))
	second := sha256.Sum256([]byte("secret-2"))
	expiry := time.Now().Add(10 * time.Minute).UnixMilli()

	if err := store.Create(ctx, "sess-1", &TwoFactorSession{AccountID: "acc-1", SecretHash: first, ExpiresAt: expiry}, 10*time.Minute); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, "sess-2", &TwoFactorSession{AccountID: "acc-1", SecretHash: second, ExpiresAt: expiry}, 10*time.Minute); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := store.Validate(ctx, "sess-1", first); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("first session must be retired, got %v", err)
	}
	if _, err := store.Validate(ctx, "sess-2", second); err != nil {
		t.Fatalf("second session must be live: %v", err)
	}
}

func TestTwoFactorExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewTwoFactorSessionStore(newTestRedis(t), "")

	digest := sha256.Sum256([]byte("secret-1"))
	expiry := time.Now().Add(10 * time.Minute)
	record := &TwoFactorSession{AccountID: "acc-1", SecretHash: digest, ExpiresAt: expiry.UnixMilli()}
	if err := store.Create(ctx, "sess-1", record, time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	store.SetClock(func() time.Time { return expiry.Add(-time.Millisecond) })
	if _, err := store.Validate(ctx, "sess-1", digest); err != nil {
		t.Fatalf("one ms before expiry should validate: %v", err)
	}

	store.SetClock(func() time.Time { return expiry })
	if _, err := store.Validate(ctx, "sess-1", digest); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("at expiry the session must be dead, got %v", err)
	}
}

func TestTwoFactorInvalidateAccount(t *testing.T) {
	ctx := context.Background()
	store := NewTwoFactorSessionStore(newTestRedis(t), "")

	digest := sha256.Sum256([]byte("secret-1"))
	record := &TwoFactorSession{
		AccountID:  "acc-1",
		SecretHash: digest,
		ExpiresAt:  time.Now().Add(10 * time.Minute).UnixMilli(),
	}
	if err := store.Create(ctx, "sess-1", record, 10*time.Minute); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.InvalidateAccount(ctx, "acc-1"); err != nil {
		t.Fatalf("InvalidateAccount failed: %v", err)
	}
	if _, err := store.Validate(ctx, "sess-1", digest); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session must be gone after invalidation, got %v", err)
	}

	// Idempotent on an account with no session.
	if err := store.InvalidateAccount(ctx, "acc-1"); err != nil {
		t.Fatalf("second invalidation should be a no-op: %v", err)
	}
}
