// Package pg implements qauth.IdentityProvider on PostgreSQL through
// database/sql and the pgx driver.
//
// The provider only reads identities and memberships and writes password
// hashes. Account administration belongs to the host application.
package pg
