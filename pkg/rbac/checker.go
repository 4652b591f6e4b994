package rbac

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenantrbac/pkg/audit"
	"github.com/platinummonkey/tenantrbac/pkg/observability"
)

const tracerName = "github.com/platinummonkey/tenantrbac/pkg/rbac"

// Checker decides whether a user may perform an action in a tenant
type Checker interface {
	// Check never fails; every outcome, including bad input, is a Decision
	Check(ctx context.Context, userID, tenantID, code string) Decision
}

// PrincipalSource reads a user's standing in one tenant. BindingStore
// implements it.
type PrincipalSource interface {
	Principal(userID, tenantID string) (*Principal, error)
}

// GrantSource answers whether a role grants a code. RoleRegistry implements it.
type GrantSource interface {
	Get(roleID string) (*Role, error)
	Grants(roleID, code string) (bool, error)
	EffectivePermissions(roleID string) ([]string, error)
}

// PermissionLister is the catalog view used by the evaluator. Catalog
// implements it.
type PermissionLister interface {
	PermissionSource
	ListByTenant(tenantID string) []Permission
}

// TenantGate reports whether a tenant can be used. TenantRegistry implements it.
type TenantGate interface {
	RequireActive(tenantID string) error
}

// EvaluatorOptions configures NewEvaluator
type EvaluatorOptions struct {
	Recorder audit.Recorder
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Clock    Clock
}

// Evaluator resolves checks against the tenant, binding, role and catalog
// stores. It holds no mutable state of its own.
type Evaluator struct {
	tenants  TenantGate
	catalog  PermissionLister
	roles    GrantSource
	bindings PrincipalSource
	recorder audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
	clock    Clock
	tracer   trace.Tracer
}

// NewEvaluator creates an evaluator. A nil Recorder disables auditing.
func NewEvaluator(tenants TenantGate, catalog PermissionLister, roles GrantSource, bindings PrincipalSource, opts EvaluatorOptions) *Evaluator {
	if opts.Recorder == nil {
		opts.Recorder = audit.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	return &Evaluator{
		tenants:  tenants,
		catalog:  catalog,
		roles:    roles,
		bindings: bindings,
		recorder: opts.Recorder,
		logger:   opts.Logger.WithField("component", "rbac_evaluator"),
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		tracer:   otel.Tracer(tracerName),
	}
}

// Check evaluates code for userID in tenantID and records exactly one audit
// event describing the outcome.
func (e *Evaluator) Check(ctx context.Context, userID, tenantID, code string) Decision {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "rbac.Check", trace.WithAttributes(
		attribute.String("rbac.user_id", userID),
		attribute.String("rbac.tenant_id", tenantID),
		attribute.String("rbac.code", code),
	))
	defer span.End()

	d := e.evaluate(userID, tenantID, code)
	d.UserID = userID
	d.TenantID = tenantID
	d.Code = code
	d.CheckedAt = e.clock.now()

	span.SetAttributes(
		attribute.String("rbac.effect", string(d.Effect)),
		attribute.String("rbac.reason", string(d.Reason)),
	)
	e.metrics.ObserveDecision(string(d.Effect), string(d.Reason), time.Since(start))
	e.record(ctx, d)
	return d
}

func (e *Evaluator) evaluate(userID, tenantID, code string) Decision {
	p, err := e.bindings.Principal(userID, tenantID)
	if err != nil {
		return precondition(KindUnknownUser, "unknown user")
	}
	if !p.Active {
		return precondition(KindUserInactive, "user is inactive")
	}
	if err := e.tenants.RequireActive(tenantID); err != nil {
		if KindOf(err) == KindUnknownTenant {
			return precondition(KindTenantInactive, "unknown tenant")
		}
		return precondition(KindTenantInactive, "tenant is suspended")
	}
	parsed, err := ParseCode(code)
	if err != nil {
		return precondition(KindMalformedCode, "permission code is malformed")
	}
	if parsed.Tenant != tenantID {
		return Decision{
			Effect: Deny,
			Reason: ReasonTenantMismatch,
			Cause:  KindTenantMismatch,
			Detail: "code belongs to tenant " + parsed.Tenant,
		}
	}
	if p.TenantAdmin {
		return Decision{Effect: Allow, Reason: ReasonTenantAdmin}
	}

	perm, err := e.catalog.Get(code)
	if err != nil {
		return Decision{Effect: Deny, Reason: ReasonNoGrant, Detail: "permission is not registered"}
	}
	if !perm.IsActive {
		return Decision{Effect: Deny, Reason: ReasonNoGrant, Detail: "permission is inactive"}
	}

	var matched []string
	for _, roleID := range p.RoleIDs {
		ok, err := e.roles.Grants(roleID, code)
		if err != nil {
			// role removed between the principal read and now
			continue
		}
		if ok {
			matched = append(matched, roleID)
		}
	}
	if len(matched) == 0 {
		return Decision{Effect: Deny, Reason: ReasonNoGrant, Detail: "no held role grants this permission"}
	}
	return Decision{Effect: Allow, Reason: ReasonRoleGrant, MatchedRoles: matched}
}

func precondition(cause Kind, detail string) Decision {
	return Decision{Effect: Deny, Reason: ReasonPrecondition, Cause: cause, Detail: detail}
}

// DecisionSeverity grades a decision for the audit trail
func DecisionSeverity(d Decision) audit.Severity {
	switch {
	case d.Allowed():
		return audit.SeverityInfo
	case d.Reason == ReasonPrecondition:
		return audit.SeverityError
	default:
		return audit.SeverityWarning
	}
}

func (e *Evaluator) record(ctx context.Context, d Decision) {
	detail := d.Detail
	if d.Cause != "" && d.Reason == ReasonPrecondition {
		detail = string(d.Cause) + ": " + d.Detail
	}
	_, err := e.recorder.Record(ctx, audit.Event{
		ActorUserID:  d.UserID,
		TenantID:     d.TenantID,
		Action:       audit.ActionPermissionCheck,
		ResourceCode: d.Code,
		Succeeded:    d.Allowed(),
		Severity:     DecisionSeverity(d),
		Reason:       string(d.Reason),
		Detail:       detail,
	})
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("failed to record permission check")
	}
}

// Permissions lists the active codes userID may use in tenantID. Tenant
// admins get every active permission of the tenant.
func (e *Evaluator) Permissions(userID, tenantID string) ([]string, error) {
	p, err := e.bindings.Principal(userID, tenantID)
	if err != nil {
		return nil, err
	}
	if err := e.tenants.RequireActive(tenantID); err != nil {
		if KindOf(err) == KindUnknownTenant {
			return nil, err
		}
		return []string{}, nil
	}
	if !p.Active {
		return []string{}, nil
	}

	codes := make(stringSet)
	if p.TenantAdmin {
		for _, perm := range e.catalog.ListByTenant(tenantID) {
			if perm.IsActive {
				codes[perm.Code] = struct{}{}
			}
		}
		return codes.sorted(), nil
	}
	for _, roleID := range p.RoleIDs {
		role, err := e.roles.Get(roleID)
		if err != nil || !role.IsActive {
			continue
		}
		perms, err := e.roles.EffectivePermissions(roleID)
		if err != nil {
			continue
		}
		for _, code := range perms {
			if perm, err := e.catalog.Get(code); err == nil && perm.IsActive {
				codes[code] = struct{}{}
			}
		}
	}
	return codes.sorted(), nil
}
