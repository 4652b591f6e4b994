package rbac

import (
	"sort"
	"strings"
	"sync"
)

// TenantRegistry stores tenants keyed by slug.
type TenantRegistry struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	clock   Clock
}

// NewTenantRegistry creates an empty registry.
func NewTenantRegistry(clock Clock) *TenantRegistry {
	return &TenantRegistry{
		tenants: make(map[string]*Tenant),
		clock:   clock,
	}
}

// Create registers a tenant. New tenants are active unless a status is given.
func (r *TenantRegistry) Create(t Tenant) (*Tenant, error) {
	if !validSegment(t.ID) {
		return nil, newError(KindInvalidSegment, "tenant", t.ID, "tenant id must be non-empty [a-z0-9-]")
	}
	if t.Status == "" {
		t.Status = TenantActive
	}
	if !t.Status.Valid() {
		return nil, newError(KindInvalid, "tenant", t.ID, "unknown status "+string(t.Status))
	}
	if strings.TrimSpace(t.DisplayName) == "" {
		t.DisplayName = t.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tenants[t.ID]; exists {
		return nil, newError(KindDuplicateCode, "tenant", t.ID, "tenant already exists")
	}
	t.CreatedAt = r.clock.now()
	stored := t
	r.tenants[t.ID] = &stored
	out := stored
	return &out, nil
}

// Get returns a copy of the tenant.
func (r *TenantRegistry) Get(id string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[id]
	if !ok {
		return nil, notFound("tenant", id)
	}
	out := *t
	return &out, nil
}

// List returns all tenants ordered by id.
func (r *TenantRegistry) List() []Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus changes a tenant's status. It is the only mutable tenant field.
func (r *TenantRegistry) SetStatus(id string, status TenantStatus) (*Tenant, error) {
	if !status.Valid() {
		return nil, newError(KindInvalid, "tenant", id, "unknown status "+string(status))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[id]
	if !ok {
		return nil, notFound("tenant", id)
	}
	t.Status = status
	out := *t
	return &out, nil
}

// Remove deletes a tenant. Callers check that nothing still references it.
func (r *TenantRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[id]; !ok {
		return notFound("tenant", id)
	}
	delete(r.tenants, id)
	return nil
}

// RequireActive returns UnknownTenant or TenantInactive when id cannot be used.
func (r *TenantRegistry) RequireActive(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[id]
	if !ok {
		return newError(KindUnknownTenant, "tenant", id, "")
	}
	if t.Status != TenantActive {
		return newError(KindTenantInactive, "tenant", id, "tenant is "+string(t.Status))
	}
	return nil
}

// RequireExists returns UnknownTenant when id is not registered.
func (r *TenantRegistry) RequireExists(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.tenants[id]; !ok {
		return newError(KindUnknownTenant, "tenant", id, "")
	}
	return nil
}
