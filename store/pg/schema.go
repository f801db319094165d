package pg

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the tables the provider reads. Hosts with their own
// migrations only need matching column names.
const Schema = `
create table if not exists identities (
	id            text primary key,
	email         text not null unique,
	password_hash text not null default '',
	role          text not null default 'viewer',
	active        boolean not null default true,
	mfa_enabled   boolean not null default false,
	totp_secret   bytea,
	created_at    timestamptz not null default now(),
	updated_at    timestamptz not null default now()
);

create table if not exists tenant_memberships (
	identity_id text not null references identities(id) on delete cascade,
	tenant_id   text not null,
	role        text not null,
	active      boolean not null default true,
	primary key (identity_id, tenant_id)
);

create table if not exists federated_identities (
	provider    text not null,
	subject     text not null,
	identity_id text not null references identities(id) on delete cascade,
	primary key (provider, subject)
);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("pg: migrate: %w", err)
	}
	return nil
}
