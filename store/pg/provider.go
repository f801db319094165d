package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/qualisys/qauth"
	"github.com/qualisys/qauth/permission"
)

var (
	_ qauth.IdentityProvider     = (*Provider)(nil)
	_ qauth.FederatedProvisioner = (*Provider)(nil)
)

const identityColumns = `id, email, password_hash, role, active, mfa_enabled`

// Options configures a Provider.
type Options struct {
	// AutoProvision creates an identity with DefaultRole on the first
	// federated login of an unknown email.
	AutoProvision bool
	DefaultRole   permission.Role
}

// Provider reads identities and memberships from PostgreSQL.
type Provider struct {
	db   *sql.DB
	opts Options
}

// Open connects through the pgx driver and pings the server.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return db, nil
}

func NewProvider(db *sql.DB, opts Options) *Provider {
	if opts.DefaultRole == "" {
		opts.DefaultRole = permission.Viewer
	}
	return &Provider{db: db, opts: opts}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (*qauth.Identity, error) {
	var (
		id   qauth.Identity
		role string
	)
	if err := row.Scan(&id.ID, &id.Email, &id.PasswordHash, &role, &id.Active, &id.MFAEnabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	id.Role = permission.Role(role)
	return &id, nil
}

// IdentityByEmail returns nil, nil when no identity has email.
func (p *Provider) IdentityByEmail(ctx context.Context, email string) (*qauth.Identity, error) {
	row := p.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where lower(email) = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanIdentity(row)
}

// IdentityByID returns nil, nil when id does not exist.
func (p *Provider) IdentityByID(ctx context.Context, id string) (*qauth.Identity, error) {
	row := p.db.QueryRowContext(ctx, `select `+identityColumns+` from identities where id = $1`, id)
	return scanIdentity(row)
}

// Memberships lists every membership of identityID, active or not.
func (p *Provider) Memberships(ctx context.Context, identityID string) ([]qauth.Membership, error) {
	rows, err := p.db.QueryContext(ctx,
		`select tenant_id, role, active from tenant_memberships where identity_id = $1 order by tenant_id`,
		identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []qauth.Membership
	for rows.Next() {
		var (
			m    qauth.Membership
			role string
		)
		if err := rows.Scan(&m.TenantID, &role, &m.Active); err != nil {
			return nil, err
		}
		m.Role = permission.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Provider) UpdatePasswordHash(ctx context.Context, identityID, hash string) error {
	res, err := p.db.ExecContext(ctx,
		`update identities set password_hash = $1, updated_at = now() where id = $2`, hash, identityID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pg: identity %q not found", identityID)
	}
	return nil
}

// TOTPSecret returns nil when MFA is disabled or no secret is stored.
func (p *Provider) TOTPSecret(ctx context.Context, identityID string) ([]byte, error) {
	var secret []byte
	err := p.db.QueryRowContext(ctx,
		`select totp_secret from identities where id = $1 and mfa_enabled`, identityID).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return secret, err
}

// ProvisionFederated links fi to an identity, creating one when
// AutoProvision is set. It returns nil, nil when provisioning is off.
func (p *Provider) ProvisionFederated(ctx context.Context, fi qauth.FederatedIdentity) (*qauth.Identity, error) {
	if !p.opts.AutoProvision {
		return nil, nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ident, err := scanIdentity(tx.QueryRowContext(ctx,
		`insert into identities(id, email, role) values($1, $2, $3)
		 on conflict (email) do update set updated_at = now()
		 returning `+identityColumns,
		uuid.NewString(), strings.ToLower(fi.Email), string(p.opts.DefaultRole)))
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, errors.New("pg: provisioning returned no row")
	}
	if _, err := tx.ExecContext(ctx,
		`insert into federated_identities(provider, subject, identity_id) values($1, $2, $3)
		 on conflict (provider, subject) do nothing`,
		fi.Provider, fi.Subject, ident.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ident, nil
}
