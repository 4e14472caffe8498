package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T, store Store, opts ...ServiceOption) *Service {
	t.Helper()
	svc, err := NewService(store, "test-signing-secret", opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func seedIdentity(t *testing.T, store Store, role Role, email string) *Identity {
	t.Helper()
	hash, err := HashPassword("Secureabc1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ident := &Identity{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Provider:     ProviderLocal,
		Active:       true,
	}
	if err := store.Identities(context.Background()).Create(context.Background(), ident); err != nil {
		t.Fatalf("seed identity: %v", err)
	}
	return ident
}

func TestIssueAndValidateSession(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ident := seedIdentity(t, store, RoleStudent, "student@example.com")

	token, expiresAt, err := svc.IssueSession(context.Background(), ident, "laptop")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", expiresAt)
	}

	principal, err := svc.ValidateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if principal.IdentityID != ident.ID || principal.Role != RoleStudent {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestValidateSessionMalformed(t *testing.T) {
	svc := newTestService(t, newMemStore())

	for _, raw := range []string{"", "garbage", "a.b", "not a token at all"} {
		if _, err := svc.ValidateSession(context.Background(), raw); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("ValidateSession(%q): got %v, want ErrMalformedToken", raw, err)
		}
	}
}

func TestValidateSessionWrongSignature(t *testing.T) {
	store := newMemStore()
	ident := seedIdentity(t, store, RoleStudent, "student@example.com")

	other := newTestService(t, store)
	token, _, err := other.IssueSession(context.Background(), ident, "")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	svc, err := NewService(store, "a-different-secret")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.ValidateSession(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestValidateSessionRevoked(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ident := seedIdentity(t, store, RoleAdmin, "admin@example.com")

	token, _, err := svc.IssueSession(context.Background(), ident, "")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if err := svc.RevokeSession(context.Background(), token); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := svc.ValidateSession(context.Background(), token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("got %v, want ErrTokenRevoked", err)
	}
}

func TestValidateSessionExpired(t *testing.T) {
	store := newMemStore()
	current := time.Now().UTC()
	svc := newTestService(t, store,
		WithClock(func() time.Time { return current }),
		WithSessionTTL(time.Hour))
	ident := seedIdentity(t, store, RoleStudent, "student@example.com")

	token, _, err := svc.IssueSession(context.Background(), ident, "")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := svc.ValidateSession(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ident := seedIdentity(t, store, RoleStudent, "student@example.com")

	first, _, err := svc.IssueSession(context.Background(), ident, "phone")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	second, _, err := svc.IssueSession(context.Background(), ident, "laptop")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if first == second {
		t.Fatal("expected two distinct tokens")
	}

	if err := svc.RevokeSession(context.Background(), first); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := svc.ValidateSession(context.Background(), first); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("revoked token: got %v, want ErrTokenRevoked", err)
	}
	if _, err := svc.ValidateSession(context.Background(), second); err != nil {
		t.Fatalf("second token should stay valid: %v", err)
	}

	sessions, err := svc.ActiveSessions(context.Background(), ident.ID)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Device != "laptop" {
		t.Fatalf("unexpected active sessions: %+v", sessions)
	}
}

func TestRevokeAllSessions(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ident := seedIdentity(t, store, RoleStudent, "student@example.com")

	var tokens []string
	for i := 0; i < 3; i++ {
		token, _, err := svc.IssueSession(context.Background(), ident, "")
		if err != nil {
			t.Fatalf("IssueSession: %v", err)
		}
		tokens = append(tokens, token)
	}
	if err := svc.RevokeAllSessions(context.Background(), ident.ID); err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	for _, token := range tokens {
		if _, err := svc.ValidateSession(context.Background(), token); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("got %v, want ErrTokenRevoked", err)
		}
	}
}
