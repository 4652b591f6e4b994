package rbac

import (
	"sort"
	"strings"
	"sync"

	"github.com/platinummonkey/tenantrbac/pkg/ids"
)

// CreateSetInput describes a new permission set.
type CreateSetInput struct {
	TenantID        string
	Name            string
	Description     string
	Members         []string
	IsSystemManaged bool
}

type setRecord struct {
	PermissionSet
	members stringSet
}

func (r *setRecord) snapshot() *PermissionSet {
	out := r.PermissionSet
	out.Members = r.members.sorted()
	return &out
}

// SetAggregator groups catalog permissions into named sets per tenant.
// Membership is flat: sets never contain other sets.
type SetAggregator struct {
	mu       sync.RWMutex
	sets     map[string]*setRecord
	names    map[string]map[string]string // tenant -> lower(name) -> id
	removing stringSet
	catalog  PermissionSource
	clock    Clock
	onChange []func(setID string)
}

// NewSetAggregator creates an aggregator validating members against catalog.
func NewSetAggregator(catalog PermissionSource, clock Clock) *SetAggregator {
	return &SetAggregator{
		sets:     make(map[string]*setRecord),
		names:    make(map[string]map[string]string),
		removing: make(stringSet),
		catalog:  catalog,
		clock:    clock,
	}
}

// OnChange registers fn to run after any change that can alter what a set
// grants. fn runs without the aggregator's lock held.
func (a *SetAggregator) OnChange(fn func(setID string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = append(a.onChange, fn)
}

func (a *SetAggregator) notify(setID string) {
	a.mu.RLock()
	fns := a.onChange
	a.mu.RUnlock()
	for _, fn := range fns {
		fn(setID)
	}
}

// Create adds a set. Every member must be an active permission of tenantID.
func (a *SetAggregator) Create(in CreateSetInput) (*PermissionSet, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, newError(KindInvalid, "permission_set", "", "name is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	members := make(stringSet, len(in.Members))
	for _, code := range in.Members {
		if err := a.checkMember(in.TenantID, code); err != nil {
			return nil, err
		}
		members[code] = struct{}{}
	}
	key := strings.ToLower(name)
	if _, taken := a.names[in.TenantID][key]; taken {
		return nil, newError(KindDuplicateName, "permission_set", name, "name already used in tenant "+in.TenantID)
	}

	now := a.clock.now()
	rec := &setRecord{
		PermissionSet: PermissionSet{
			ID:              ids.WithPrefix("pset"),
			TenantID:        in.TenantID,
			Name:            name,
			Description:     in.Description,
			IsSystemManaged: in.IsSystemManaged,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		members: members,
	}
	a.sets[rec.ID] = rec
	if a.names[in.TenantID] == nil {
		a.names[in.TenantID] = make(map[string]string)
	}
	a.names[in.TenantID][key] = rec.ID
	return rec.snapshot(), nil
}

// checkMember validates code as a member of a set owned by tenantID. It is
// called with a.mu held so a code cannot be removed between the check and
// the insert.
func (a *SetAggregator) checkMember(tenantID, code string) error {
	parsed, err := ParseCode(code)
	if err != nil {
		return err
	}
	if parsed.Tenant != tenantID {
		return newError(KindCrossTenantReference, "permission", code, "permission belongs to tenant "+parsed.Tenant)
	}
	p, err := a.catalog.referable(code)
	if err != nil || !p.IsActive {
		return newError(KindUnknownPermission, "permission", code, "not an active permission of tenant "+tenantID)
	}
	return nil
}

// AddMember adds code to the set. Adding a present member is a no-op.
func (a *SetAggregator) AddMember(setID, code string) (*PermissionSet, error) {
	a.mu.Lock()
	rec, ok := a.sets[setID]
	if !ok {
		a.mu.Unlock()
		return nil, newError(KindUnknownSet, "permission_set", setID, "")
	}
	if rec.IsSystemManaged {
		a.mu.Unlock()
		return nil, newError(KindImmutable, "permission_set", setID, "permission set is system-managed and cannot be edited")
	}
	if err := a.checkMember(rec.TenantID, code); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	changed := !rec.members.has(code)
	if changed {
		rec.members[code] = struct{}{}
		rec.UpdatedAt = a.clock.now()
	}
	out := rec.snapshot()
	a.mu.Unlock()

	if changed {
		a.notify(setID)
	}
	return out, nil
}

// RemoveMember removes code from the set. Removing an absent code is a no-op.
func (a *SetAggregator) RemoveMember(setID, code string) (*PermissionSet, error) {
	a.mu.Lock()
	rec, ok := a.sets[setID]
	if !ok {
		a.mu.Unlock()
		return nil, newError(KindUnknownSet, "permission_set", setID, "")
	}
	if rec.IsSystemManaged {
		a.mu.Unlock()
		return nil, newError(KindImmutable, "permission_set", setID, "permission set is system-managed and cannot be edited")
	}
	changed := rec.members.has(code)
	if changed {
		delete(rec.members, code)
		rec.UpdatedAt = a.clock.now()
	}
	out := rec.snapshot()
	a.mu.Unlock()

	if changed {
		a.notify(setID)
	}
	return out, nil
}

// EffectivePermissions returns the set's current membership, sorted.
func (a *SetAggregator) EffectivePermissions(setID string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.sets[setID]
	if !ok {
		return nil, newError(KindUnknownSet, "permission_set", setID, "")
	}
	return rec.members.sorted(), nil
}

// Contains reports whether code is a member of the set.
func (a *SetAggregator) Contains(setID, code string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.sets[setID]
	if !ok {
		return false, newError(KindUnknownSet, "permission_set", setID, "")
	}
	return rec.members.has(code), nil
}

// Get returns a snapshot of the set.
func (a *SetAggregator) Get(setID string) (*PermissionSet, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.sets[setID]
	if !ok {
		return nil, notFound("permission_set", setID)
	}
	return rec.snapshot(), nil
}

func (a *SetAggregator) referable(setID string) (*PermissionSet, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.sets[setID]
	if !ok || a.removing.has(setID) {
		return nil, notFound("permission_set", setID)
	}
	return rec.snapshot(), nil
}

// beginRemove marks a set as being removed. Roles cannot gain it until
// Remove or cancelRemove.
func (a *SetAggregator) beginRemove(setID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.sets[setID]
	if !ok {
		return newError(KindUnknownSet, "permission_set", setID, "")
	}
	if rec.IsSystemManaged {
		return newError(KindImmutable, "permission_set", setID, "system-managed permission sets cannot be deleted")
	}
	if a.removing.has(setID) {
		return newError(KindInUse, "permission_set", setID, "delete already in progress")
	}
	a.removing[setID] = struct{}{}
	return nil
}

func (a *SetAggregator) cancelRemove(setID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.removing, setID)
}

// FindByName looks a set up by its name within a tenant.
func (a *SetAggregator) FindByName(tenantID, name string) (*PermissionSet, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	id, ok := a.names[tenantID][strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, notFound("permission_set", name)
	}
	return a.sets[id].snapshot(), nil
}

// List returns the tenant's sets ordered by name. A non-empty query keeps
// sets whose name or description contains it, case-insensitively.
func (a *SetAggregator) List(tenantID, query string) []PermissionSet {
	q := strings.ToLower(strings.TrimSpace(query))

	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]PermissionSet, 0, len(a.names[tenantID]))
	for _, id := range a.names[tenantID] {
		rec := a.sets[id]
		if q != "" && !containsFold(q, rec.Name, rec.Description) {
			continue
		}
		out = append(out, *rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Update renames or redescribes a set. System-managed sets are immutable.
func (a *SetAggregator) Update(setID, name, description string) (*PermissionSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.sets[setID]
	if !ok {
		return nil, newError(KindUnknownSet, "permission_set", setID, "")
	}
	if rec.IsSystemManaged {
		return nil, newError(KindImmutable, "permission_set", setID, "permission set is system-managed and cannot be edited")
	}
	name = strings.TrimSpace(name)
	if name != "" && !strings.EqualFold(name, rec.Name) {
		key := strings.ToLower(name)
		if _, taken := a.names[rec.TenantID][key]; taken {
			return nil, newError(KindDuplicateName, "permission_set", name, "name already used in tenant "+rec.TenantID)
		}
		delete(a.names[rec.TenantID], strings.ToLower(rec.Name))
		a.names[rec.TenantID][key] = rec.ID
	}
	if name != "" {
		rec.Name = name
	}
	rec.Description = description
	rec.UpdatedAt = a.clock.now()
	return rec.snapshot(), nil
}

// SetActive toggles a set. This is the one change allowed on system sets.
func (a *SetAggregator) SetActive(setID string, active bool) (*PermissionSet, error) {
	a.mu.Lock()
	rec, ok := a.sets[setID]
	if !ok {
		a.mu.Unlock()
		return nil, newError(KindUnknownSet, "permission_set", setID, "")
	}
	changed := rec.IsActive != active
	rec.IsActive = active
	rec.UpdatedAt = a.clock.now()
	out := rec.snapshot()
	a.mu.Unlock()

	if changed {
		a.notify(setID)
	}
	return out, nil
}

// Remove hard-deletes a set. System-managed sets cannot be deleted. Callers
// mark the set with beginRemove and check role references first.
func (a *SetAggregator) Remove(setID string) error {
	a.mu.Lock()
	rec, ok := a.sets[setID]
	if !ok {
		a.mu.Unlock()
		return newError(KindUnknownSet, "permission_set", setID, "")
	}
	if rec.IsSystemManaged {
		a.mu.Unlock()
		return newError(KindImmutable, "permission_set", setID, "system-managed permission sets cannot be deleted")
	}
	delete(a.removing, setID)
	delete(a.sets, setID)
	delete(a.names[rec.TenantID], strings.ToLower(rec.Name))
	a.mu.Unlock()

	a.notify(setID)
	return nil
}

// Referencing returns the ids of sets containing code.
func (a *SetAggregator) Referencing(code string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []string
	for id, rec := range a.sets {
		if rec.members.has(code) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of sets owned by tenantID.
func (a *SetAggregator) Count(tenantID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.names[tenantID])
}

func containsFold(lowerQuery string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), lowerQuery) {
			return true
		}
	}
	return false
}
