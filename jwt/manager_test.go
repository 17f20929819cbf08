package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		AccessKey:  []byte("access-key-0123456789abcdef01234"),
		RefreshKey: []byte("refresh-key-0123456789abcdef0123"),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "authkit-test",
	}
}

func TestIssuePairAndParse(t *testing.T) {
	m, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	access, refresh, err := m.IssuePair("acc-1", "alice@example.com", "admin")
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}
	if access == refresh {
		t.Fatal("access and refresh tokens must differ")
	}

	claims, err := m.Parse(access, ClassAccess)
	if err != nil {
		t.Fatalf("Parse access failed: %v", err)
	}
	if claims.Subject != "acc-1" || claims.Email != "alice@example.com" || claims.Role != "admin" {
		t.Fatalf("unexpected access claims: %+v", claims)
	}

	claims, err = m.Parse(refresh, ClassRefresh)
	if err != nil {
		t.Fatalf("Parse refresh failed: %v", err)
	}
	if claims.Subject != "acc-1" {
		t.Fatalf("unexpected refresh subject: %q", claims.Subject)
	}
}

func TestTokenClassesAreNotInterchangeable(t *testing.T) {
	m, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	access, refresh, err := m.IssuePair("acc-1", "alice@example.com", "user")
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}

	if _, err := m.Parse(access, ClassRefresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
	if _, err := m.Parse(refresh, ClassAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	m, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	expired, err := m.sign("acc-1", "a@example.com", "user", time.Now().Add(-time.Hour), ClassAccess)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := m.Parse(expired, ClassAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for expired token, got %v", err)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	m, err := NewManager(testConfig())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	access, _, err := m.IssuePair("acc-1", "a@example.com", "user")
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}

	parts := strings.Split(access, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", access)
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := m.Parse(tampered, ClassAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for tampered token, got %v", err)
	}
}

func TestNewManagerConfigValidation(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshKey = cfg.AccessKey
	if _, err := NewManager(cfg); err == nil {
		t.Fatal("expected error for shared signing key")
	}

	cfg = testConfig()
	cfg.AccessKey = []byte("short")
	if _, err := NewManager(cfg); err == nil {
		t.Fatal("expected error for short key")
	}

	cfg = testConfig()
	cfg.RefreshTTL = cfg.AccessTTL
	if _, err := NewManager(cfg); err == nil {
		t.Fatal("expected error for refresh TTL <= access TTL")
	}
}
