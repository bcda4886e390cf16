package rbac

import "context"

const maxHierarchyDepth = 16

// AdjacencyEngine is the default PolicyEngine. It expands a principal's
// roles through the parent hierarchy and matches unconditional grants.
type AdjacencyEngine struct {
	store Store
}

func NewAdjacencyEngine(store Store) *AdjacencyEngine {
	return &AdjacencyEngine{store: store}
}

// ExpandRoles returns the principal's assigned roles plus every ancestor
// reachable through ParentID links. Cycles are tolerated: each role is
// visited once.
func (e *AdjacencyEngine) ExpandRoles(ctx context.Context, subject string) ([]string, error) {
	assigned, err := e.store.RolesForPrincipal(ctx, subject)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(assigned))
	expanded := make([]string, 0, len(assigned))

	var walk func(role Role, depth int) error
	walk = func(role Role, depth int) error {
		if depth > maxHierarchyDepth {
			return nil
		}
		if _, ok := seen[role.ID]; ok {
			return nil
		}
		seen[role.ID] = struct{}{}
		expanded = append(expanded, role.ID)

		if role.ParentID == "" {
			return nil
		}
		parent, err := e.store.GetRole(ctx, role.ParentID)
		if err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}
		return walk(parent, depth+1)
	}

	for _, role := range assigned {
		if err := walk(role, 0); err != nil {
			return nil, err
		}
	}

	return expanded, nil
}

// HasPermission reports whether any of the subject's expanded roles holds
// an unconditional grant for the resource/action pair.
func (e *AdjacencyEngine) HasPermission(ctx context.Context, subject, resource, action string) (bool, error) {
	roleIDs, err := e.ExpandRoles(ctx, subject)
	if err != nil {
		return false, err
	}

	for _, roleID := range roleIDs {
		perms, err := e.store.PermissionsForRole(ctx, roleID)
		if err != nil {
			return false, err
		}
		for _, p := range perms {
			if p.Unconditional() && p.Matches(resource, action) {
				return true, nil
			}
		}
	}

	return false, nil
}
