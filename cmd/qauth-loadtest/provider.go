package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/qualisys/qauth"
	"github.com/qualisys/qauth/password"
	"github.com/qualisys/qauth/permission"
)

// memProvider keeps seeded identities in memory. Every identity belongs to
// a single tenant so logins never stop at tenant selection.
type memProvider struct {
	mu      sync.RWMutex
	byEmail map[string]*qauth.Identity
	byID    map[string]*qauth.Identity
}

func newMemProvider() *memProvider {
	return &memProvider{
		byEmail: make(map[string]*qauth.Identity),
		byID:    make(map[string]*qauth.Identity),
	}
}

func (p *memProvider) seed(engine *qauth.Engine, states []*userState) error {
	pc := engine.Config().Password
	hasher, err := password.NewArgon2(password.Config{
		Memory:      pc.Memory,
		Time:        pc.Time,
		Parallelism: pc.Parallelism,
		SaltLength:  pc.SaltLength,
		KeyLength:   pc.KeyLength,
		MinLength:   pc.MinLength,
	})
	if err != nil {
		return err
	}
	// All identities share one hash.
	hash, err := hasher.Hash(seedPassword)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range states {
		id := &qauth.Identity{
			ID:           fmt.Sprintf("id-%d", i),
			Email:        fmt.Sprintf("user%d@load.test", i),
			PasswordHash: hash,
			Role:         permission.Developer,
			Active:       true,
		}
		p.byEmail[id.Email] = id
		p.byID[id.ID] = id
		states[i] = &userState{email: id.Email}
	}
	return nil
}

func (p *memProvider) IdentityByEmail(_ context.Context, email string) (*qauth.Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if id, ok := p.byEmail[email]; ok {
		cp := *id
		return &cp, nil
	}
	return nil, nil
}

func (p *memProvider) IdentityByID(_ context.Context, id string) (*qauth.Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.byID[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (p *memProvider) Memberships(_ context.Context, _ string) ([]qauth.Membership, error) {
	return []qauth.Membership{{TenantID: "load", Role: permission.Developer, Active: true}}, nil
}

func (p *memProvider) UpdatePasswordHash(_ context.Context, id, hash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("unknown identity %s", id)
	}
	v.PasswordHash = hash
	return nil
}

func (p *memProvider) TOTPSecret(context.Context, string) ([]byte, error) {
	return nil, nil
}
