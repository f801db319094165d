package permission

import (
	"errors"
	"strings"
	"sync"
)

// Role is a tenant membership role name.
type Role string

const (
	Owner        Role = "owner"
	Admin        Role = "admin"
	PMCSM        Role = "pm_csm"
	QAManual     Role = "qa_manual"
	QAAutomation Role = "qa_automation"
	Developer    Role = "developer"
	Viewer       Role = "viewer"
)

var (
	// ErrForbidden means the grant does not cover the tenant or role.
	ErrForbidden = errors.New("forbidden")
	// ErrTenantSelectionRequired means the grant is not bound to any tenant yet.
	ErrTenantSelectionRequired = errors.New("tenant selection required")
	// ErrUnknownRole is returned for roles the registry does not rank.
	ErrUnknownRole = errors.New("unknown role")
)

// Grant is what an authenticated caller holds.
type Grant struct {
	TenantID string
	Role     Role
}

// Registry maps roles to ranks. Higher ranks include lower ones.
type Registry struct {
	mu     sync.RWMutex
	ranks  map[Role]int
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ranks: make(map[Role]int)}
}

// DefaultRegistry returns a frozen registry with the QUALISYS role ladder.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for role, rank := range map[Role]int{
		Owner:        60,
		Admin:        50,
		PMCSM:        40,
		QAManual:     30,
		QAAutomation: 30,
		Developer:    20,
		Viewer:       10,
	} {
		_ = r.Register(role, rank)
	}
	r.Freeze()
	return r
}

// Register ranks role. It fails after [Registry.Freeze].
func (r *Registry) Register(role Role, rank int) error {
	role = normalize(role)
	if role == "" {
		return errors.New("role name cannot be empty")
	}
	if rank <= 0 {
		return errors.New("role rank must be > 0")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errors.New("registry frozen")
	}
	if _, exists := r.ranks[role]; exists {
		return errors.New("role already registered")
	}
	r.ranks[role] = rank
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Rank returns the rank of role.
func (r *Registry) Rank(role Role) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rank, ok := r.ranks[normalize(role)]
	return rank, ok
}

// Known reports whether role is registered.
func (r *Registry) Known(role Role) bool {
	_, ok := r.Rank(role)
	return ok
}

// Satisfies reports whether have ranks at or above need. Unknown roles
// satisfy nothing.
func (r *Registry) Satisfies(have, need Role) bool {
	h, ok := r.Rank(have)
	if !ok {
		return false
	}
	n, ok := r.Rank(need)
	if !ok {
		return false
	}
	return h >= n
}

// Authorize checks g against tenantID and need. An empty tenantID means the
// grant's own tenant.
func (r *Registry) Authorize(g Grant, tenantID string, need Role) error {
	if !r.Known(need) {
		return ErrUnknownRole
	}
	if g.TenantID == "" {
		return ErrTenantSelectionRequired
	}
	if tenantID != "" && tenantID != g.TenantID {
		return ErrForbidden
	}
	if !r.Satisfies(g.Role, need) {
		return ErrForbidden
	}
	return nil
}

func normalize(role Role) Role {
	return Role(strings.ToLower(strings.TrimSpace(string(role))))
}
