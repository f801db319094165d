// Package password verifies credentials for the login flow.
//
// # Output format
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes ($2a$, $2b$, $2y$) imported from older systems still verify, and
// are reported as needing a rehash on the next successful login.
//
// # Decoy verification
//
// [Verifier.Check] always performs one full hash computation. When the account
// has no stored hash (unknown email, federated-only account, corrupt record) the
// password is checked against a decoy hash built with the same parameters, so
// response time does not reveal whether the account exists.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other qauth package.
//   - Log plaintext passwords.
package password
