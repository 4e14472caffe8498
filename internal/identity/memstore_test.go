package identity

import (
	"context"
	"sync"
	"time"

	"campusid.org/internal/ids"
)

// memStore is an in-memory Store used by the package tests. Collections keep
// insertion order so first-match semantics mirror the SQL implementation.
type memStore struct {
	mu            sync.Mutex
	identities    []*Identity
	sessions      []*SessionToken
	verifications []*VerificationToken
	invitations   []*Invitation
	permissions   []Permission
	adminPerms    map[string][]string
}

func newMemStore() *memStore {
	return &memStore{adminPerms: make(map[string][]string)}
}

func (m *memStore) Identities(context.Context) IdentityStore        { return (*memIdentities)(m) }
func (m *memStore) Sessions(context.Context) SessionStore           { return (*memSessions)(m) }
func (m *memStore) Verifications(context.Context) VerificationStore { return (*memVerifications)(m) }
func (m *memStore) Invitations(context.Context) InvitationStore     { return (*memInvitations)(m) }
func (m *memStore) Permissions(context.Context) PermissionStore     { return (*memPermissions)(m) }

func (m *memStore) ClaimInvitation(ctx context.Context, invitationID string, invited *Identity, acceptedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.ID != invitationID {
			continue
		}
		if inv.Status != InvitationPending || !acceptedAt.Before(inv.ExpiresAt) {
			return ErrInviteConsumed
		}
		if invited.ID == "" {
			invited.ID = ids.New()
		}
		for _, existing := range m.identities {
			if existing.Email == invited.Email {
				return ErrConflict
			}
		}
		inv.Status = InvitationAccepted
		inv.AcceptedBy = invited.ID
		at := acceptedAt
		inv.AcceptedAt = &at
		clone := *invited
		m.identities = append(m.identities, &clone)
		return nil
	}
	return ErrNotFound
}

type memIdentities memStore

func (m *memIdentities) Create(ctx context.Context, ident *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ident.ID == "" {
		ident.ID = ids.New()
	}
	for _, existing := range m.identities {
		if existing.Email == ident.Email {
			return ErrConflict
		}
	}
	clone := *ident
	m.identities = append(m.identities, &clone)
	return nil
}

func (m *memIdentities) Find(ctx context.Context, id string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.ID == id {
			clone := *ident
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memIdentities) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.Email == email {
			clone := *ident
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memIdentities) FindByProvider(ctx context.Context, provider Provider, externalID string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.Provider == provider && ident.ExternalID == externalID {
			clone := *ident
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memIdentities) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	return m.update(id, func(ident *Identity) {
		ident.PasswordHash = passwordHash
		at := changedAt
		ident.PasswordChangedAt = &at
	})
}

func (m *memIdentities) UpdateName(ctx context.Context, id, name string) error {
	return m.update(id, func(ident *Identity) { ident.Name = name })
}

func (m *memIdentities) SetEmailVerified(ctx context.Context, id string) error {
	return m.update(id, func(ident *Identity) { ident.EmailVerified = true })
}

func (m *memIdentities) SetAccountVerified(ctx context.Context, id string) error {
	return m.update(id, func(ident *Identity) { ident.AccountVerified = true })
}

func (m *memIdentities) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	return m.update(id, func(ident *Identity) {
		t := at
		ident.LastLogin = &t
	})
}

func (m *memIdentities) update(id string, fn func(*Identity)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.ID == id {
			fn(ident)
			return nil
		}
	}
	return ErrNotFound
}

type memSessions memStore

func (m *memSessions) Create(ctx context.Context, tok *SessionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	clone := *tok
	m.sessions = append(m.sessions, &clone)
	return nil
}

func (m *memSessions) FindByHash(ctx context.Context, tokenHash string) (*SessionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.sessions {
		if tok.TokenHash == tokenHash {
			clone := *tok
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) Revoke(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.sessions {
		if tok.ID == id {
			tok.Revoked = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *memSessions) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.sessions {
		if tok.IdentityID == identityID {
			tok.Revoked = true
		}
	}
	return nil
}

func (m *memSessions) ListActive(ctx context.Context, identityID string, now time.Time) ([]SessionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SessionToken
	for _, tok := range m.sessions {
		if tok.IdentityID == identityID && tok.ActiveAt(now) {
			out = append(out, *tok)
		}
	}
	return out, nil
}

type memVerifications memStore

func (m *memVerifications) Create(ctx context.Context, tok *VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	clone := *tok
	m.verifications = append(m.verifications, &clone)
	return nil
}

func (m *memVerifications) Consume(ctx context.Context, identityID, codeHash string, purpose VerificationPurpose, now time.Time) (*VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.verifications {
		if tok.IdentityID == identityID && tok.CodeHash == codeHash && tok.Purpose == purpose &&
			!tok.Used && now.Before(tok.ExpiresAt) {
			tok.Used = true
			clone := *tok
			return &clone, nil
		}
	}
	return nil, ErrCodeInvalid
}

func (m *memVerifications) InvalidatePending(ctx context.Context, identityID string, purpose VerificationPurpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.verifications {
		if tok.IdentityID == identityID && tok.Purpose == purpose && !tok.Used {
			tok.Used = true
		}
	}
	return nil
}

type memInvitations memStore

func (m *memInvitations) Create(ctx context.Context, inv *Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	clone := *inv
	m.invitations = append(m.invitations, &clone)
	return nil
}

func (m *memInvitations) Find(ctx context.Context, id string) (*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.ID == id {
			clone := *inv
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memInvitations) FindLatestByEmail(ctx context.Context, email string) (*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.invitations) - 1; i >= 0; i-- {
		if m.invitations[i].Email == email {
			clone := *m.invitations[i]
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memInvitations) MarkRevoked(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.ID == id {
			if inv.Status != InvitationPending {
				return ErrNotFound
			}
			inv.Status = InvitationRevoked
			return nil
		}
	}
	return ErrNotFound
}

func (m *memInvitations) RevokePendingByEmail(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.Email == email && inv.Status == InvitationPending {
			inv.Status = InvitationRevoked
		}
	}
	return nil
}

type memPermissions memStore

func (m *memPermissions) Ensure(ctx context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		exists := false
		for _, existing := range m.permissions {
			if existing.Key == p.Key {
				exists = true
				break
			}
		}
		if !exists {
			if p.ID == "" {
				p.ID = ids.New()
			}
			m.permissions = append(m.permissions, p)
		}
	}
	return nil
}

func (m *memPermissions) List(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, len(m.permissions))
	copy(out, m.permissions)
	return out, nil
}

func (m *memPermissions) SetForAdmin(ctx context.Context, identityID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cloned := make([]string, len(keys))
	copy(cloned, keys)
	m.adminPerms[identityID] = cloned
	return nil
}

func (m *memPermissions) ForAdmin(ctx context.Context, identityID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, key := range m.adminPerms[identityID] {
		for _, p := range m.permissions {
			if p.Key == key {
				out = append(out, p)
			}
		}
	}
	return out, nil
}
