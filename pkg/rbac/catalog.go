package rbac

import (
	"sort"
	"strings"
	"sync"
)

// PermissionSource resolves permission codes. Catalog implements it.
type PermissionSource interface {
	Get(code string) (*Permission, error)
	// referable is Get, except that codes being removed are not found.
	referable(code string) (*Permission, error)
}

// Catalog stores permissions keyed by code with a per-tenant index.
type Catalog struct {
	mu       sync.RWMutex
	byCode   map[string]*Permission
	byTenant map[string]stringSet
	removing stringSet
	clock    Clock
}

// NewCatalog creates an empty catalog.
func NewCatalog(clock Clock) *Catalog {
	return &Catalog{
		byCode:   make(map[string]*Permission),
		byTenant: make(map[string]stringSet),
		removing: make(stringSet),
		clock:    clock,
	}
}

// Register adds a permission. Module, resource and action are taken from the
// code. An empty TenantID is filled from the code's tenant segment.
func (c *Catalog) Register(p Permission) (*Permission, error) {
	parsed, err := ParseCode(p.Code)
	if err != nil {
		return nil, err
	}
	if p.TenantID == "" {
		p.TenantID = parsed.Tenant
	}
	if p.TenantID != parsed.Tenant {
		return nil, newError(KindTenantMismatch, "permission", p.Code,
			"tenant "+p.TenantID+" does not match code tenant "+parsed.Tenant)
	}
	p.Module = parsed.Module
	p.Resource = parsed.Resource
	p.Action = parsed.Action
	if strings.TrimSpace(p.DisplayName) == "" {
		p.DisplayName = p.Code
	}
	p.IsActive = true

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byCode[p.Code]; exists {
		return nil, newError(KindDuplicateCode, "permission", p.Code, "code already registered")
	}
	now := c.clock.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	stored := p
	c.byCode[p.Code] = &stored
	idx, ok := c.byTenant[p.TenantID]
	if !ok {
		idx = make(stringSet)
		c.byTenant[p.TenantID] = idx
	}
	idx[p.Code] = struct{}{}

	out := stored
	return &out, nil
}

// Get returns a copy of the permission with the given code.
func (c *Catalog) Get(code string) (*Permission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.byCode[code]
	if !ok {
		return nil, notFound("permission", code)
	}
	out := *p
	return &out, nil
}

func (c *Catalog) referable(code string) (*Permission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.byCode[code]
	if !ok || c.removing.has(code) {
		return nil, notFound("permission", code)
	}
	out := *p
	return &out, nil
}

// beginRemove marks code as being removed. Sets cannot gain it as a member
// until Remove or cancelRemove.
func (c *Catalog) beginRemove(code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byCode[code]; !ok {
		return notFound("permission", code)
	}
	if c.removing.has(code) {
		return newError(KindInUse, "permission", code, "delete already in progress")
	}
	c.removing[code] = struct{}{}
	return nil
}

func (c *Catalog) cancelRemove(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.removing, code)
}

// ListByTenant returns the tenant's permissions ordered by module, resource,
// action and code.
func (c *Catalog) ListByTenant(tenantID string) []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.collect(tenantID, func(*Permission) bool { return true })
}

// ListByModule returns the tenant's permissions within one module.
func (c *Catalog) ListByModule(tenantID, module string) []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.collect(tenantID, func(p *Permission) bool { return p.Module == module })
}

// Update changes the descriptive fields. The code never changes.
func (c *Catalog) Update(code, displayName, description string) (*Permission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byCode[code]
	if !ok {
		return nil, notFound("permission", code)
	}
	if strings.TrimSpace(displayName) != "" {
		p.DisplayName = displayName
	}
	p.Description = description
	p.UpdatedAt = c.clock.now()
	out := *p
	return &out, nil
}

// Deactivate marks the permission inactive without removing it.
func (c *Catalog) Deactivate(code string) error {
	_, err := c.SetActive(code, false)
	return err
}

// SetActive toggles the permission's active flag.
func (c *Catalog) SetActive(code string, active bool) (*Permission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byCode[code]
	if !ok {
		return nil, notFound("permission", code)
	}
	p.IsActive = active
	p.UpdatedAt = c.clock.now()
	out := *p
	return &out, nil
}

// Remove hard-deletes a permission. Callers mark it with beginRemove and
// check references first.
func (c *Catalog) Remove(code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byCode[code]
	if !ok {
		return notFound("permission", code)
	}
	delete(c.removing, code)
	delete(c.byCode, code)
	if idx, ok := c.byTenant[p.TenantID]; ok {
		delete(idx, code)
		if len(idx) == 0 {
			delete(c.byTenant, p.TenantID)
		}
	}
	return nil
}

// Count returns the number of permissions registered for tenantID.
func (c *Catalog) Count(tenantID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.byTenant[tenantID])
}

// CountAll returns the number of registered permissions.
func (c *Catalog) CountAll() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.byCode)
}

// collect must be called with c.mu held.
func (c *Catalog) collect(tenantID string, keep func(*Permission) bool) []Permission {
	idx := c.byTenant[tenantID]
	out := make([]Permission, 0, len(idx))
	for code := range idx {
		p := c.byCode[code]
		if keep(p) {
			out = append(out, *p)
		}
	}
	sortPermissions(out)
	return out
}

func sortPermissions(ps []Permission) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.Code < b.Code
	})
}
