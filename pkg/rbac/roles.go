package rbac

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/tenantrbac/pkg/ids"
	"github.com/platinummonkey/tenantrbac/pkg/observability"
)

const (
	defaultRoleCacheSize = 1024
	defaultRoleCacheTTL  = 10 * time.Minute
)

// SetSource is what the role registry needs from the set aggregator.
type SetSource interface {
	Get(setID string) (*PermissionSet, error)
	EffectivePermissions(setID string) ([]string, error)
	OnChange(fn func(setID string))
	// referable is Get, except that sets being removed are not found.
	referable(setID string) (*PermissionSet, error)
}

// CreateRoleInput describes a new role.
type CreateRoleInput struct {
	TenantID    string
	Name        string
	Description string
	SetIDs      []string
}

// RoleOptions configures the effective-permission cache.
type RoleOptions struct {
	CacheSize int
	CacheTTL  time.Duration
	Metrics   *observability.Metrics
}

type roleRecord struct {
	Role
	sets stringSet
}

func (r *roleRecord) snapshot() *Role {
	out := r.Role
	out.PermissionSetIDs = r.sets.sorted()
	return &out
}

// RoleRegistry stores roles and caches each role's effective permissions.
// Cached entries are dropped whenever the role's sets or any member set's
// membership changes.
type RoleRegistry struct {
	mu       sync.RWMutex
	roles    map[string]*roleRecord
	names    map[string]map[string]string // tenant -> lower(name) -> id
	bySet    map[string]stringSet         // set id -> role ids
	removing stringSet
	sets     SetSource
	clock    Clock
	metrics  *observability.Metrics

	cache *expirable.LRU[string, stringSet]
	// gen increments on every invalidation. A union computed under an older
	// generation is not cached.
	gen uint64
}

// NewRoleRegistry creates a registry and subscribes to set changes.
func NewRoleRegistry(sets SetSource, clock Clock, opts RoleOptions) *RoleRegistry {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultRoleCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultRoleCacheTTL
	}
	r := &RoleRegistry{
		roles:    make(map[string]*roleRecord),
		names:    make(map[string]map[string]string),
		bySet:    make(map[string]stringSet),
		removing: make(stringSet),
		sets:     sets,
		clock:    clock,
		metrics:  opts.Metrics,
		cache:    expirable.NewLRU[string, stringSet](opts.CacheSize, nil, opts.CacheTTL),
	}
	sets.OnChange(r.InvalidateSet)
	return r
}

// Create adds a role. Every set must exist, be active and belong to tenantID.
func (r *RoleRegistry) Create(in CreateRoleInput) (*Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, newError(KindInvalid, "role", "", "name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, setID := range in.SetIDs {
		if err := r.checkSet(in.TenantID, setID); err != nil {
			return nil, err
		}
	}
	members := newStringSet(in.SetIDs...)
	key := strings.ToLower(name)
	if _, taken := r.names[in.TenantID][key]; taken {
		return nil, newError(KindDuplicateName, "role", name, "name already used in tenant "+in.TenantID)
	}
	now := r.clock.now()
	rec := &roleRecord{
		Role: Role{
			ID:          ids.WithPrefix("role"),
			TenantID:    in.TenantID,
			Name:        name,
			Description: in.Description,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		sets: members,
	}
	r.roles[rec.ID] = rec
	if r.names[in.TenantID] == nil {
		r.names[in.TenantID] = make(map[string]string)
	}
	r.names[in.TenantID][key] = rec.ID
	for setID := range members {
		r.indexSet(setID, rec.ID)
	}
	return rec.snapshot(), nil
}

// checkSet must be called with r.mu held for writing.
func (r *RoleRegistry) checkSet(tenantID, setID string) error {
	set, err := r.sets.referable(setID)
	if err != nil || !set.IsActive {
		return newError(KindUnknownSet, "permission_set", setID, "not an active permission set")
	}
	if set.TenantID != tenantID {
		return newError(KindCrossTenantReference, "permission_set", setID, "permission set belongs to tenant "+set.TenantID)
	}
	return nil
}

// AddPermissionSet adds a set to the role. Adding a present set is a no-op.
func (r *RoleRegistry) AddPermissionSet(roleID, setID string) (*Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.roles[roleID]
	if !ok {
		return nil, newError(KindUnknownRole, "role", roleID, "")
	}
	if err := r.checkSet(rec.TenantID, setID); err != nil {
		return nil, err
	}
	if !rec.sets.has(setID) {
		rec.sets[setID] = struct{}{}
		rec.UpdatedAt = r.clock.now()
		r.indexSet(setID, roleID)
		r.invalidateLocked(roleID)
	}
	return rec.snapshot(), nil
}

// RemovePermissionSet removes a set from the role. Removing an absent set is
// a no-op.
func (r *RoleRegistry) RemovePermissionSet(roleID, setID string) (*Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.roles[roleID]
	if !ok {
		return nil, newError(KindUnknownRole, "role", roleID, "")
	}
	if rec.sets.has(setID) {
		delete(rec.sets, setID)
		rec.UpdatedAt = r.clock.now()
		r.unindexSet(setID, roleID)
		r.invalidateLocked(roleID)
	}
	return rec.snapshot(), nil
}

// EffectivePermissions returns the union of the role's active member sets.
func (r *RoleRegistry) EffectivePermissions(roleID string) ([]string, error) {
	perms, err := r.effective(roleID)
	if err != nil {
		return nil, err
	}
	return perms.sorted(), nil
}

// Grants reports whether an active role includes code.
func (r *RoleRegistry) Grants(roleID, code string) (bool, error) {
	r.mu.RLock()
	rec, ok := r.roles[roleID]
	active := ok && rec.IsActive
	r.mu.RUnlock()

	if !ok {
		return false, newError(KindUnknownRole, "role", roleID, "")
	}
	if !active {
		return false, nil
	}
	perms, err := r.effective(roleID)
	if err != nil {
		return false, err
	}
	return perms.has(code), nil
}

// effective returns the cached union for roleID, computing it on a miss.
// The returned set must not be modified.
func (r *RoleRegistry) effective(roleID string) (stringSet, error) {
	r.mu.RLock()
	rec, ok := r.roles[roleID]
	var setIDs []string
	gen := r.gen
	if ok {
		setIDs = rec.sets.sorted()
	}
	r.mu.RUnlock()

	if !ok {
		return nil, newError(KindUnknownRole, "role", roleID, "")
	}
	if cached, hit := r.cache.Get(roleID); hit {
		r.metrics.CacheHit()
		return cached, nil
	}
	r.metrics.CacheMiss()

	union := make(stringSet)
	for _, setID := range setIDs {
		set, err := r.sets.Get(setID)
		if err != nil || !set.IsActive {
			continue
		}
		for _, code := range set.Members {
			union[code] = struct{}{}
		}
	}

	r.mu.Lock()
	if r.gen == gen {
		if _, still := r.roles[roleID]; still {
			r.cache.Add(roleID, union)
		}
	}
	r.mu.Unlock()
	return union, nil
}

// InvalidateSet drops cached unions of every role containing setID.
func (r *RoleRegistry) InvalidateSet(setID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	for roleID := range r.bySet[setID] {
		r.cache.Remove(roleID)
	}
}

// InvalidateAll drops every cached union.
func (r *RoleRegistry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	r.cache.Purge()
}

// invalidateLocked must be called with r.mu held for writing.
func (r *RoleRegistry) invalidateLocked(roleID string) {
	r.gen++
	r.cache.Remove(roleID)
}

func (r *RoleRegistry) indexSet(setID, roleID string) {
	idx, ok := r.bySet[setID]
	if !ok {
		idx = make(stringSet)
		r.bySet[setID] = idx
	}
	idx[roleID] = struct{}{}
}

func (r *RoleRegistry) unindexSet(setID, roleID string) {
	if idx, ok := r.bySet[setID]; ok {
		delete(idx, roleID)
		if len(idx) == 0 {
			delete(r.bySet, setID)
		}
	}
}

// Get returns a snapshot of the role.
func (r *RoleRegistry) Get(roleID string) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.roles[roleID]
	if !ok {
		return nil, notFound("role", roleID)
	}
	return rec.snapshot(), nil
}

func (r *RoleRegistry) referable(roleID string) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.roles[roleID]
	if !ok || r.removing.has(roleID) {
		return nil, notFound("role", roleID)
	}
	return rec.snapshot(), nil
}

// beginRemove marks a role as being removed. It cannot be granted until
// Remove or cancelRemove.
func (r *RoleRegistry) beginRemove(roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roles[roleID]; !ok {
		return newError(KindUnknownRole, "role", roleID, "")
	}
	if r.removing.has(roleID) {
		return newError(KindInUse, "role", roleID, "delete already in progress")
	}
	r.removing[roleID] = struct{}{}
	return nil
}

func (r *RoleRegistry) cancelRemove(roleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.removing, roleID)
}

// FindByName looks a role up by name within a tenant.
func (r *RoleRegistry) FindByName(tenantID, name string) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.names[tenantID][strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, notFound("role", name)
	}
	return r.roles[id].snapshot(), nil
}

// List returns the tenant's roles ordered by name, optionally filtered by a
// case-insensitive keyword over name and description.
func (r *RoleRegistry) List(tenantID, query string) []Role {
	q := strings.ToLower(strings.TrimSpace(query))

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Role, 0, len(r.names[tenantID]))
	for _, id := range r.names[tenantID] {
		rec := r.roles[id]
		if q != "" && !containsFold(q, rec.Name, rec.Description) {
			continue
		}
		out = append(out, *rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Update renames or redescribes a role.
func (r *RoleRegistry) Update(roleID, name, description string) (*Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.roles[roleID]
	if !ok {
		return nil, newError(KindUnknownRole, "role", roleID, "")
	}
	name = strings.TrimSpace(name)
	if name != "" && !strings.EqualFold(name, rec.Name) {
		key := strings.ToLower(name)
		if _, taken := r.names[rec.TenantID][key]; taken {
			return nil, newError(KindDuplicateName, "role", name, "name already used in tenant "+rec.TenantID)
		}
		delete(r.names[rec.TenantID], strings.ToLower(rec.Name))
		r.names[rec.TenantID][key] = rec.ID
	}
	if name != "" {
		rec.Name = name
	}
	rec.Description = description
	rec.UpdatedAt = r.clock.now()
	return rec.snapshot(), nil
}

// SetActive toggles a role. Inactive roles grant nothing.
func (r *RoleRegistry) SetActive(roleID string, active bool) (*Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.roles[roleID]
	if !ok {
		return nil, newError(KindUnknownRole, "role", roleID, "")
	}
	rec.IsActive = active
	rec.UpdatedAt = r.clock.now()
	return rec.snapshot(), nil
}

// Remove hard-deletes a role. Callers mark it with beginRemove and check
// bindings first.
func (r *RoleRegistry) Remove(roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.roles[roleID]
	if !ok {
		return newError(KindUnknownRole, "role", roleID, "")
	}
	for setID := range rec.sets {
		r.unindexSet(setID, roleID)
	}
	delete(r.removing, roleID)
	delete(r.roles, roleID)
	delete(r.names[rec.TenantID], strings.ToLower(rec.Name))
	r.invalidateLocked(roleID)
	return nil
}

// Referencing returns the ids of roles containing setID.
func (r *RoleRegistry) Referencing(setID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.bySet[setID].sorted()
}

// Count returns the number of roles owned by tenantID.
func (r *RoleRegistry) Count(tenantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.names[tenantID])
}
