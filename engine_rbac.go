package authcore

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/tessera-id/authcore/internal/metrics"
	"github.com/tessera-id/authcore/rbac"
)

// CheckPermission resolves whether a principal may perform action on
// resource. Conditional grants read the request attributes (owner,
// department, client IP) from the context. Resolution errors deny.
func (e *Engine) CheckPermission(ctx context.Context, principalID, resource, action string) bool {
	if e == nil || e.resolver == nil {
		return false
	}

	rc := rbac.RequestContext{
		PrincipalID: principalID,
		OwnerID:     ownerIDFromContext(ctx),
		IP:          clientIPFromContext(ctx),
		Department:  departmentFromContext(ctx),
		Now:         time.Now(),
	}

	allowed, err := e.resolver.Check(ctx, principalID, resource, action, rc)
	if err != nil {
		log.Print("authcore: permission resolution failed, denying")
		e.metricInc(metrics.MetricPermissionCheckDenied)
		return false
	}

	if allowed {
		e.metricInc(metrics.MetricPermissionCheckAllowed)
	} else {
		e.metricInc(metrics.MetricPermissionCheckDenied)
		e.emitAudit(ctx, auditEventPermissionDenied, false, principalID, "", ErrPermissionDenied, func() map[string]string {
			return map[string]string{"resource": resource, "action": action}
		})
	}
	return allowed
}

// RequirePermission is CheckPermission with an error result, for call
// sites that gate an operation.
func (e *Engine) RequirePermission(ctx context.Context, principalID, resource, action string) error {
	if !e.CheckPermission(ctx, principalID, resource, action) {
		return ErrPermissionDenied
	}
	return nil
}

// ExpandRoles returns the IDs of every role a principal holds, assigned
// or inherited through the role hierarchy.
func (e *Engine) ExpandRoles(ctx context.Context, principalID string) ([]string, error) {
	if e == nil || e.resolver == nil {
		return nil, ErrEngineNotReady
	}

	roles, err := e.policy.ExpandRoles(ctx, principalID)
	if err != nil {
		return nil, mapRBACErr(err)
	}
	return roles, nil
}

// CreateRole registers a role, optionally as a child of parentID.
func (e *Engine) CreateRole(ctx context.Context, name, description, parentID string) (rbac.Role, error) {
	if e == nil || e.rbacStore == nil {
		return rbac.Role{}, ErrEngineNotReady
	}

	role, err := e.rbacStore.CreateRole(ctx, name, description, parentID)
	if err != nil {
		return rbac.Role{}, mapRBACErr(err)
	}

	e.emitAudit(ctx, auditEventRoleChanged, true, "", "", nil, func() map[string]string {
		return map[string]string{"role": role.Name, "op": "create"}
	})
	return role, nil
}

// DeleteRole removes a role and invalidates cached decisions for every
// principal that held it.
func (e *Engine) DeleteRole(ctx context.Context, roleID string) error {
	if e == nil || e.rbacStore == nil {
		return ErrEngineNotReady
	}

	if err := e.invalidateRoleCache(ctx, roleID); err != nil {
		return err
	}
	if err := e.rbacStore.DeleteRole(ctx, roleID); err != nil {
		return mapRBACErr(err)
	}

	e.emitAudit(ctx, auditEventRoleChanged, true, "", "", nil, func() map[string]string {
		return map[string]string{"role_id": roleID, "op": "delete"}
	})
	return nil
}

// AssignRole grants a role to a principal. The principal's cached
// decisions are invalidated so the change is visible to the next check.
func (e *Engine) AssignRole(ctx context.Context, principalID, roleID string) error {
	if e == nil || e.rbacStore == nil {
		return ErrEngineNotReady
	}

	if err := e.rbacStore.AssignRole(ctx, principalID, roleID); err != nil {
		return mapRBACErr(err)
	}
	if err := e.resolver.InvalidatePrincipal(ctx, principalID); err != nil {
		log.Print("authcore: permission cache invalidation failed")
	}
	e.metricInc(metrics.MetricPermissionCacheInvalidated)

	e.emitAudit(ctx, auditEventRoleChanged, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"role_id": roleID, "op": "assign"}
	})
	return nil
}

// RemoveRole revokes a role from a principal.
func (e *Engine) RemoveRole(ctx context.Context, principalID, roleID string) error {
	if e == nil || e.rbacStore == nil {
		return ErrEngineNotReady
	}

	if err := e.rbacStore.RemoveRole(ctx, principalID, roleID); err != nil {
		return mapRBACErr(err)
	}
	if err := e.resolver.InvalidatePrincipal(ctx, principalID); err != nil {
		log.Print("authcore: permission cache invalidation failed")
	}
	e.metricInc(metrics.MetricPermissionCacheInvalidated)

	e.emitAudit(ctx, auditEventRoleChanged, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"role_id": roleID, "op": "remove"}
	})
	return nil
}

// CreatePermission registers a permission, with optional conditions.
func (e *Engine) CreatePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error) {
	if e == nil || e.rbacStore == nil {
		return rbac.Permission{}, ErrEngineNotReady
	}

	created, err := e.rbacStore.CreatePermission(ctx, p)
	if err != nil {
		return rbac.Permission{}, mapRBACErr(err)
	}
	return created, nil
}

// AssignPermissionToRole attaches a permission to a role and invalidates
// cached decisions for every principal holding the role.
func (e *Engine) AssignPermissionToRole(ctx context.Context, roleID, permissionID string) error {
	if e == nil || e.rbacStore == nil {
		return ErrEngineNotReady
	}

	if err := e.rbacStore.AddPermissionToRole(ctx, roleID, permissionID); err != nil {
		return mapRBACErr(err)
	}
	if err := e.invalidateRoleCache(ctx, roleID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventPermissionsChanged, true, "", "", nil, func() map[string]string {
		return map[string]string{"role_id": roleID, "permission_id": permissionID, "op": "add"}
	})
	return nil
}

// RemovePermissionFromRole detaches a permission from a role.
func (e *Engine) RemovePermissionFromRole(ctx context.Context, roleID, permissionID string) error {
	if e == nil || e.rbacStore == nil {
		return ErrEngineNotReady
	}

	if err := e.rbacStore.RemovePermissionFromRole(ctx, roleID, permissionID); err != nil {
		return mapRBACErr(err)
	}
	if err := e.invalidateRoleCache(ctx, roleID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventPermissionsChanged, true, "", "", nil, func() map[string]string {
		return map[string]string{"role_id": roleID, "permission_id": permissionID, "op": "remove"}
	})
	return nil
}

func (e *Engine) invalidateRoleCache(ctx context.Context, roleID string) error {
	if err := e.resolver.InvalidateRole(ctx, roleID); err != nil {
		log.Print("authcore: permission cache invalidation failed")
	}
	e.metricInc(metrics.MetricPermissionCacheInvalidated)
	return nil
}

func mapRBACErr(err error) error {
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, rbac.ErrConflict):
		return ErrConflict
	default:
		return errors.Join(ErrBackendUnavailable, err)
	}
}
