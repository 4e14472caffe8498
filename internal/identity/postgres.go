package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"campusid.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Identities(context.Context) IdentityStore { return &identityStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore    { return &sessionStore{db: s.db} }
func (s *PGStore) Verifications(context.Context) VerificationStore {
	return &verificationStore{db: s.db}
}
func (s *PGStore) Invitations(context.Context) InvitationStore { return &invitationStore{db: s.db} }
func (s *PGStore) Permissions(context.Context) PermissionStore { return &permissionStore{db: s.db} }

// ClaimInvitation transitions the invitation to ACCEPTED and creates the
// invited identity in one transaction, so a crash cannot leave an accepted
// invitation without its identity or the reverse.
func (s *PGStore) ClaimInvitation(ctx context.Context, invitationID string, invited *Identity, acceptedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if invited.ID == "" {
		invited.ID = ids.New()
	}
	res, err := tx.ExecContext(ctx,
		`update invitations set status=$2, accepted_by=$3, accepted_at=$4
		 where id=$1 and status=$5 and expires_at > $4`,
		invitationID, InvitationAccepted, invited.ID, acceptedAt, InvitationPending,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInviteConsumed
	}

	if _, err := tx.ExecContext(ctx,
		`insert into identities(id, name, email, password_hash, role, provider, external_id,
		   email_verified, mobile_verified, account_verified, active, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)`,
		invited.ID, invited.Name, invited.Email, nullString(invited.PasswordHash),
		invited.Role, invited.Provider, invited.ExternalID,
		invited.EmailVerified, invited.MobileVerified, invited.AccountVerified,
		invited.Active, acceptedAt,
	); err != nil {
		return mapPGError(err)
	}
	return tx.Commit()
}

// Identity store -----------------------------------------------------------

type identityStore struct{ db *sql.DB }

const identityColumns = `id, name, email, password_hash, role, provider, external_id,
	email_verified, mobile_verified, account_verified, active,
	last_login, password_changed_at, created_at, updated_at`

func (s *identityStore) Create(ctx context.Context, ident *Identity) error {
	if ident.ID == "" {
		ident.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into identities(id, name, email, password_hash, role, provider, external_id,
		   email_verified, mobile_verified, account_verified, active, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		ident.ID, ident.Name, ident.Email, nullString(ident.PasswordHash),
		ident.Role, ident.Provider, ident.ExternalID,
		ident.EmailVerified, ident.MobileVerified, ident.AccountVerified,
		ident.Active, ident.CreatedAt, ident.UpdatedAt,
	)
	return mapPGError(err)
}

func (s *identityStore) Find(ctx context.Context, id string) (*Identity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where id=$1`, id))
}

func (s *identityStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where email=$1`, email))
}

func (s *identityStore) FindByProvider(ctx context.Context, provider Provider, externalID string) (*Identity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where provider=$1 and external_id=$2`,
		provider, externalID))
}

func (s *identityStore) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	return execOne(ctx, s.db,
		`update identities set password_hash=$2, password_changed_at=$3, updated_at=$3 where id=$1`,
		id, passwordHash, changedAt)
}

func (s *identityStore) UpdateName(ctx context.Context, id, name string) error {
	return execOne(ctx, s.db,
		`update identities set name=$2, updated_at=now() where id=$1`, id, name)
}

func (s *identityStore) SetEmailVerified(ctx context.Context, id string) error {
	return execOne(ctx, s.db,
		`update identities set email_verified=true, updated_at=now() where id=$1`, id)
}

func (s *identityStore) SetAccountVerified(ctx context.Context, id string) error {
	return execOne(ctx, s.db,
		`update identities set account_verified=true, updated_at=now() where id=$1`, id)
}

func (s *identityStore) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	return execOne(ctx, s.db,
		`update identities set last_login=$2 where id=$1`, id, at)
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		ident      Identity
		hash       sql.NullString
		lastLogin  sql.NullTime
		pwdChanged sql.NullTime
	)
	err := row.Scan(&ident.ID, &ident.Name, &ident.Email, &hash, &ident.Role, &ident.Provider,
		&ident.ExternalID, &ident.EmailVerified, &ident.MobileVerified, &ident.AccountVerified,
		&ident.Active, &lastLogin, &pwdChanged, &ident.CreatedAt, &ident.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ident.PasswordHash = hash.String
	if lastLogin.Valid {
		t := lastLogin.Time
		ident.LastLogin = &t
	}
	if pwdChanged.Valid {
		t := pwdChanged.Time
		ident.PasswordChangedAt = &t
	}
	return &ident, nil
}

// Session store ------------------------------------------------------------

type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, tok *SessionToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into session_tokens(id, identity_id, token_hash, issued_at, expires_at, revoked, device)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		tok.ID, tok.IdentityID, tok.TokenHash, tok.IssuedAt, tok.ExpiresAt, tok.Revoked, tok.Device,
	)
	return mapPGError(err)
}

func (s *sessionStore) FindByHash(ctx context.Context, tokenHash string) (*SessionToken, error) {
	var tok SessionToken
	err := s.db.QueryRowContext(ctx,
		`select id, identity_id, token_hash, issued_at, expires_at, revoked, device
		 from session_tokens where token_hash=$1`, tokenHash,
	).Scan(&tok.ID, &tok.IdentityID, &tok.TokenHash, &tok.IssuedAt, &tok.ExpiresAt, &tok.Revoked, &tok.Device)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *sessionStore) Revoke(ctx context.Context, id string) error {
	return execOne(ctx, s.db, `update session_tokens set revoked=true where id=$1`, id)
}

func (s *sessionStore) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	_, err := s.db.ExecContext(ctx,
		`update session_tokens set revoked=true where identity_id=$1 and revoked=false`, identityID)
	return err
}

func (s *sessionStore) ListActive(ctx context.Context, identityID string, now time.Time) ([]SessionToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, identity_id, token_hash, issued_at, expires_at, revoked, device
		 from session_tokens
		 where identity_id=$1 and revoked=false and expires_at > $2
		 order by issued_at asc`, identityID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionToken
	for rows.Next() {
		var tok SessionToken
		if err := rows.Scan(&tok.ID, &tok.IdentityID, &tok.TokenHash, &tok.IssuedAt,
			&tok.ExpiresAt, &tok.Revoked, &tok.Device); err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

// Verification store -------------------------------------------------------

type verificationStore struct{ db *sql.DB }

func (s *verificationStore) Create(ctx context.Context, tok *VerificationToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into verification_tokens(id, identity_id, code_hash, purpose, expires_at, used, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		tok.ID, tok.IdentityID, tok.CodeHash, tok.Purpose, tok.ExpiresAt, tok.Used, tok.CreatedAt,
	)
	return mapPGError(err)
}

// Consume burns the oldest matching live code in a single statement so
// concurrent attempts cannot both succeed. The liveness predicate is repeated
// outside the subquery: under READ COMMITTED a racing update re-qualifies only
// the outer WHERE against the committed row, so used=false must appear there.
func (s *verificationStore) Consume(ctx context.Context, identityID, codeHash string, purpose VerificationPurpose, now time.Time) (*VerificationToken, error) {
	var tok VerificationToken
	err := s.db.QueryRowContext(ctx,
		`update verification_tokens set used=true
		 where id = (
		   select id from verification_tokens
		   where identity_id=$1 and code_hash=$2 and purpose=$3 and used=false and expires_at > $4
		   order by created_at asc limit 1
		 ) and used=false and expires_at > $4
		 returning id, identity_id, code_hash, purpose, expires_at, used, created_at`,
		identityID, codeHash, purpose, now,
	).Scan(&tok.ID, &tok.IdentityID, &tok.CodeHash, &tok.Purpose, &tok.ExpiresAt, &tok.Used, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCodeInvalid
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *verificationStore) InvalidatePending(ctx context.Context, identityID string, purpose VerificationPurpose) error {
	_, err := s.db.ExecContext(ctx,
		`update verification_tokens set used=true
		 where identity_id=$1 and purpose=$2 and used=false`, identityID, purpose)
	return err
}

// Invitation store ---------------------------------------------------------

type invitationStore struct{ db *sql.DB }

const invitationColumns = `id, email, token_hash, role, status, expires_at, invited_by, accepted_by, accepted_at, created_at`

func (s *invitationStore) Create(ctx context.Context, inv *Invitation) error {
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into invitations(id, email, token_hash, role, status, expires_at, invited_by, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		inv.ID, inv.Email, inv.TokenHash, inv.Role, inv.Status, inv.ExpiresAt, inv.InvitedBy, inv.CreatedAt,
	)
	return mapPGError(err)
}

func (s *invitationStore) Find(ctx context.Context, id string) (*Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations where id=$1`, id))
}

func (s *invitationStore) FindLatestByEmail(ctx context.Context, email string) (*Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations where email=$1
		 order by created_at desc limit 1`, email))
}

func (s *invitationStore) MarkRevoked(ctx context.Context, id string) error {
	return execOne(ctx, s.db,
		`update invitations set status=$2 where id=$1 and status=$3`,
		id, InvitationRevoked, InvitationPending)
}

func (s *invitationStore) RevokePendingByEmail(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx,
		`update invitations set status=$2 where email=$1 and status=$3`,
		email, InvitationRevoked, InvitationPending)
	return err
}

func scanInvitation(row *sql.Row) (*Invitation, error) {
	var (
		inv        Invitation
		acceptedBy sql.NullString
		acceptedAt sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.Email, &inv.TokenHash, &inv.Role, &inv.Status,
		&inv.ExpiresAt, &inv.InvitedBy, &acceptedBy, &acceptedAt, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inv.AcceptedBy = acceptedBy.String
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	return &inv, nil
}

// Permission store ---------------------------------------------------------

type permissionStore struct{ db *sql.DB }

func (s *permissionStore) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.db.ExecContext(ctx,
			`insert into permissions(id, key, description)
			 values($1,$2,$3) on conflict (key) do nothing`,
			id, p.Key, p.Description,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) List(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, key, description, created_at from permissions order by key asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// SetForAdmin replaces the admin's complete permission set in one
// transaction: delete-all-then-insert, never incremental.
func (s *permissionStore) SetForAdmin(ctx context.Context, identityID string, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from admin_permissions where identity_id=$1`, identityID); err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx,
			`insert into admin_permissions(identity_id, permission_id)
			 select $1, id from permissions where key=$2`, identityID, key,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *permissionStore) ForAdmin(ctx context.Context, identityID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.key, p.description, p.created_at from permissions p
		 join admin_permissions ap on ap.permission_id=p.id
		 where ap.identity_id=$1 order by p.key asc`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Helpers ------------------------------------------------------------------

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func execOne(ctx context.Context, db *sql.DB, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// mapPGError translates driver uniqueness violations into ErrConflict.
func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}
