// Package seed loads YAML fixtures into an rbac.Service.
//
// A fixture lists tenants, permissions, permission sets, roles and users.
// Sets and roles refer to each other by name, so a fixture reads the way an
// administrator would describe the setup:
//
//	permission_sets:
//	  - tenant: hrms
//	    name: HRMS Leave Management
//	    members: [leave.approve, leave.reject]
//	roles:
//	  - {tenant: hrms, name: Leave Manager, sets: [HRMS Leave Management]}
//
// Short resource.action members expand to <tenant>.<resource>.<resource>.<action>.
// Apply goes through the Service, so every entity is validated and audited
// with actor "system". Demo returns the bundled development fixture.
package seed
