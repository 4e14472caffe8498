package identity

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity subsystem.
// Session and verification tokens are child rows of an identity; appends are
// atomic inserts, never read-modify-write of an embedded collection.
type Store interface {
	Identities(ctx context.Context) IdentityStore
	Sessions(ctx context.Context) SessionStore
	Verifications(ctx context.Context) VerificationStore
	Invitations(ctx context.Context) InvitationStore
	Permissions(ctx context.Context) PermissionStore

	// ClaimInvitation creates the invited identity and transitions the
	// invitation to ACCEPTED in one transaction.
	ClaimInvitation(ctx context.Context, invitationID string, invited *Identity, acceptedAt time.Time) error
}

// IdentityStore manages identity records.
type IdentityStore interface {
	Create(ctx context.Context, id *Identity) error
	Find(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByProvider(ctx context.Context, provider Provider, externalID string) (*Identity, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	UpdateName(ctx context.Context, id, name string) error
	SetEmailVerified(ctx context.Context, id string) error
	SetAccountVerified(ctx context.Context, id string) error
	SetLastLogin(ctx context.Context, id string, at time.Time) error
}

// SessionStore manages session token rows.
type SessionStore interface {
	Create(ctx context.Context, tok *SessionToken) error
	FindByHash(ctx context.Context, tokenHash string) (*SessionToken, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForIdentity(ctx context.Context, identityID string) error
	ListActive(ctx context.Context, identityID string, now time.Time) ([]SessionToken, error)
}

// VerificationStore manages one-time code rows.
type VerificationStore interface {
	Create(ctx context.Context, tok *VerificationToken) error
	// Consume marks the first unused, unexpired row matching
	// {identity, hash, purpose} as used. ErrCodeInvalid when nothing matches.
	Consume(ctx context.Context, identityID, codeHash string, purpose VerificationPurpose, now time.Time) (*VerificationToken, error)
	// InvalidatePending marks all outstanding unused rows of the purpose used,
	// so a reissued code supersedes its predecessors.
	InvalidatePending(ctx context.Context, identityID string, purpose VerificationPurpose) error
}

// InvitationStore manages admin invitations.
type InvitationStore interface {
	Create(ctx context.Context, inv *Invitation) error
	Find(ctx context.Context, id string) (*Invitation, error)
	// FindLatestByEmail returns the most recently created invitation for the
	// email regardless of status, so claim failures can be reported precisely.
	FindLatestByEmail(ctx context.Context, email string) (*Invitation, error)
	MarkRevoked(ctx context.Context, id string) error
	// RevokePendingByEmail terminally revokes every outstanding PENDING
	// invitation for the email, so a reissued invitation supersedes its
	// predecessors and at most one stays claimable.
	RevokePendingByEmail(ctx context.Context, email string) error
}

// PermissionStore manages the capability catalog and admin assignments.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	// SetForAdmin replaces the admin's complete permission set atomically.
	SetForAdmin(ctx context.Context, identityID string, keys []string) error
	ForAdmin(ctx context.Context, identityID string) ([]Permission, error)
}
