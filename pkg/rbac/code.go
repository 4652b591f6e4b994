package rbac

import (
	"strings"
)

const codeSegments = 4

// Code is a parsed permission code of the form tenant.module.resource.action.
type Code struct {
	Tenant   string `json:"tenant"`
	Module   string `json:"module"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// String formats the code back into its dotted form.
func (c Code) String() string {
	return c.Tenant + "." + c.Module + "." + c.Resource + "." + c.Action
}

// Short returns the resource.action abbreviation used by display tables.
func (c Code) Short() string {
	return c.Resource + "." + c.Action
}

// ParseCode splits a permission code into its four segments. Every segment
// must be non-empty and consist of lowercase letters, digits and hyphens.
func ParseCode(code string) (Code, error) {
	parts := strings.Split(code, ".")
	if len(parts) != codeSegments {
		return Code{}, newError(KindMalformedCode, "permission", code, "expected tenant.module.resource.action")
	}
	for _, p := range parts {
		if !validSegment(p) {
			return Code{}, newError(KindMalformedCode, "permission", code, "segments must be non-empty [a-z0-9-]")
		}
	}
	return Code{Tenant: parts[0], Module: parts[1], Resource: parts[2], Action: parts[3]}, nil
}

// FormatCode builds a permission code from its segments.
func FormatCode(tenant, module, resource, action string) (string, error) {
	for _, seg := range []struct{ name, value string }{
		{"tenant", tenant},
		{"module", module},
		{"resource", resource},
		{"action", action},
	} {
		if !validSegment(seg.value) {
			return "", newError(KindInvalidSegment, seg.name, seg.value, "segment must be non-empty [a-z0-9-] without dots")
		}
	}
	return Code{Tenant: tenant, Module: module, Resource: resource, Action: action}.String(), nil
}

// ValidSlug reports whether s is usable as a tenant id or code segment.
func ValidSlug(s string) bool {
	return validSegment(s)
}

func validSegment(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}
