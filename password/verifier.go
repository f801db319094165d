package password

import "errors"

const decoyPassword = "qauth-decoy-credential-0000"

// Result is the outcome of a credential check.
type Result struct {
	Match bool
	// NeedsRehash is set on a match whose stored hash is bcrypt or uses weaker
	// Argon2 parameters than the current configuration.
	NeedsRehash bool
}

// Verifier compares plaintext passwords to stored hashes in roughly constant
// time regardless of whether a usable hash exists.
type Verifier struct {
	argon *Argon2
	decoy string
}

// NewVerifier builds a Verifier and its decoy hash from a.
func NewVerifier(a *Argon2) (*Verifier, error) {
	if a == nil {
		return nil, errors.New("password: nil hasher")
	}
	decoy, err := a.hashUnchecked(decoyPassword)
	if err != nil {
		return nil, err
	}
	return &Verifier{argon: a, decoy: decoy}, nil
}

// Hasher returns the Argon2 hasher backing v.
func (v *Verifier) Hasher() *Argon2 {
	return v.argon
}

// Check verifies password against stored. An empty or unparsable stored hash
// never matches, but still costs one Argon2 computation.
func (v *Verifier) Check(password, stored string) Result {
	if stored == "" {
		v.burn(password)
		return Result{}
	}

	if isBcrypt(stored) {
		ok, err := verifyBcrypt(password, stored)
		if err != nil {
			v.burn(password)
			return Result{}
		}
		return Result{Match: ok, NeedsRehash: ok}
	}

	ok, err := v.argon.Verify(password, stored)
	if err != nil {
		v.burn(password)
		return Result{}
	}
	if !ok {
		return Result{}
	}
	upgrade, _ := v.argon.NeedsUpgrade(stored)
	return Result{Match: true, NeedsRehash: upgrade}
}

// CheckDecoy performs the decoy computation only. Callers use it on paths
// that reject before reaching a stored hash, such as a disabled account.
func (v *Verifier) CheckDecoy(password string) {
	v.burn(password)
}

func (v *Verifier) burn(password string) {
	_, _ = v.argon.Verify(password, v.decoy)
}
