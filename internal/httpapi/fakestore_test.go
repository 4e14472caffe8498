package httpapi

import (
	"context"
	"sync"
	"time"

	"campusid.org/internal/identity"
	"campusid.org/internal/ids"
)

// fakeStore is an in-memory identity.Store backing the handler tests.
type fakeStore struct {
	mu            sync.Mutex
	identities    []*identity.Identity
	sessions      []*identity.SessionToken
	verifications []*identity.VerificationToken
	invitations   []*identity.Invitation
	permissions   []identity.Permission
	adminPerms    map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{adminPerms: make(map[string][]string)}
}

func (f *fakeStore) Identities(context.Context) identity.IdentityStore { return (*fakeIdentities)(f) }
func (f *fakeStore) Sessions(context.Context) identity.SessionStore    { return (*fakeSessions)(f) }
func (f *fakeStore) Verifications(context.Context) identity.VerificationStore {
	return (*fakeVerifications)(f)
}
func (f *fakeStore) Invitations(context.Context) identity.InvitationStore {
	return (*fakeInvitations)(f)
}
func (f *fakeStore) Permissions(context.Context) identity.PermissionStore {
	return (*fakePermissions)(f)
}

func (f *fakeStore) ClaimInvitation(ctx context.Context, invitationID string, invited *identity.Identity, acceptedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.ID != invitationID {
			continue
		}
		if inv.Status != identity.InvitationPending || !acceptedAt.Before(inv.ExpiresAt) {
			return identity.ErrInviteConsumed
		}
		if invited.ID == "" {
			invited.ID = ids.New()
		}
		inv.Status = identity.InvitationAccepted
		inv.AcceptedBy = invited.ID
		at := acceptedAt
		inv.AcceptedAt = &at
		clone := *invited
		f.identities = append(f.identities, &clone)
		return nil
	}
	return identity.ErrNotFound
}

type fakeIdentities fakeStore

func (f *fakeIdentities) Create(ctx context.Context, ident *identity.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ident.ID == "" {
		ident.ID = ids.New()
	}
	for _, existing := range f.identities {
		if existing.Email == ident.Email {
			return identity.ErrConflict
		}
	}
	clone := *ident
	f.identities = append(f.identities, &clone)
	return nil
}

func (f *fakeIdentities) Find(ctx context.Context, id string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ident := range f.identities {
		if ident.ID == id {
			clone := *ident
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeIdentities) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ident := range f.identities {
		if ident.Email == email {
			clone := *ident
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeIdentities) FindByProvider(ctx context.Context, provider identity.Provider, externalID string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ident := range f.identities {
		if ident.Provider == provider && ident.ExternalID == externalID {
			clone := *ident
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeIdentities) update(id string, fn func(*identity.Identity)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ident := range f.identities {
		if ident.ID == id {
			fn(ident)
			return nil
		}
	}
	return identity.ErrNotFound
}

func (f *fakeIdentities) UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) error {
	return f.update(id, func(i *identity.Identity) {
		i.PasswordHash = hash
		at := changedAt
		i.PasswordChangedAt = &at
	})
}

func (f *fakeIdentities) UpdateName(ctx context.Context, id, name string) error {
	return f.update(id, func(i *identity.Identity) { i.Name = name })
}

func (f *fakeIdentities) SetEmailVerified(ctx context.Context, id string) error {
	return f.update(id, func(i *identity.Identity) { i.EmailVerified = true })
}

func (f *fakeIdentities) SetAccountVerified(ctx context.Context, id string) error {
	return f.update(id, func(i *identity.Identity) { i.AccountVerified = true })
}

func (f *fakeIdentities) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	return f.update(id, func(i *identity.Identity) {
		t := at
		i.LastLogin = &t
	})
}

type fakeSessions fakeStore

func (f *fakeSessions) Create(ctx context.Context, tok *identity.SessionToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	clone := *tok
	f.sessions = append(f.sessions, &clone)
	return nil
}

func (f *fakeSessions) FindByHash(ctx context.Context, hash string) (*identity.SessionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.sessions {
		if tok.TokenHash == hash {
			clone := *tok
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeSessions) Revoke(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.sessions {
		if tok.ID == id {
			tok.Revoked = true
			return nil
		}
	}
	return identity.ErrNotFound
}

func (f *fakeSessions) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.sessions {
		if tok.IdentityID == identityID {
			tok.Revoked = true
		}
	}
	return nil
}

func (f *fakeSessions) ListActive(ctx context.Context, identityID string, now time.Time) ([]identity.SessionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []identity.SessionToken
	for _, tok := range f.sessions {
		if tok.IdentityID == identityID && tok.ActiveAt(now) {
			out = append(out, *tok)
		}
	}
	return out, nil
}

type fakeVerifications fakeStore

func (f *fakeVerifications) Create(ctx context.Context, tok *identity.VerificationToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	clone := *tok
	f.verifications = append(f.verifications, &clone)
	return nil
}

func (f *fakeVerifications) Consume(ctx context.Context, identityID, codeHash string, purpose identity.VerificationPurpose, now time.Time) (*identity.VerificationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.verifications {
		if tok.IdentityID == identityID && tok.CodeHash == codeHash && tok.Purpose == purpose &&
			!tok.Used && now.Before(tok.ExpiresAt) {
			tok.Used = true
			clone := *tok
			return &clone, nil
		}
	}
	return nil, identity.ErrCodeInvalid
}

func (f *fakeVerifications) InvalidatePending(ctx context.Context, identityID string, purpose identity.VerificationPurpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.verifications {
		if tok.IdentityID == identityID && tok.Purpose == purpose && !tok.Used {
			tok.Used = true
		}
	}
	return nil
}

type fakeInvitations fakeStore

func (f *fakeInvitations) Create(ctx context.Context, inv *identity.Invitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	clone := *inv
	f.invitations = append(f.invitations, &clone)
	return nil
}

func (f *fakeInvitations) Find(ctx context.Context, id string) (*identity.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.ID == id {
			clone := *inv
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeInvitations) FindLatestByEmail(ctx context.Context, email string) (*identity.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.invitations) - 1; i >= 0; i-- {
		if f.invitations[i].Email == email {
			clone := *f.invitations[i]
			return &clone, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeInvitations) MarkRevoked(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.ID == id && inv.Status == identity.InvitationPending {
			inv.Status = identity.InvitationRevoked
			return nil
		}
	}
	return identity.ErrNotFound
}

func (f *fakeInvitations) RevokePendingByEmail(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.Email == email && inv.Status == identity.InvitationPending {
			inv.Status = identity.InvitationRevoked
		}
	}
	return nil
}

type fakePermissions fakeStore

func (f *fakePermissions) Ensure(ctx context.Context, perms []identity.Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range perms {
		exists := false
		for _, existing := range f.permissions {
			if existing.Key == p.Key {
				exists = true
				break
			}
		}
		if !exists {
			if p.ID == "" {
				p.ID = ids.New()
			}
			f.permissions = append(f.permissions, p)
		}
	}
	return nil
}

func (f *fakePermissions) List(ctx context.Context) ([]identity.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]identity.Permission, len(f.permissions))
	copy(out, f.permissions)
	return out, nil
}

func (f *fakePermissions) SetForAdmin(ctx context.Context, identityID string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cloned := make([]string, len(keys))
	copy(cloned, keys)
	f.adminPerms[identityID] = cloned
	return nil
}

func (f *fakePermissions) ForAdmin(ctx context.Context, identityID string) ([]identity.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []identity.Permission
	for _, key := range f.adminPerms[identityID] {
		for _, p := range f.permissions {
			if p.Key == key {
				out = append(out, p)
			}
		}
	}
	return out, nil
}
