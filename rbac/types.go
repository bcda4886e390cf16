package rbac

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned for missing roles, permissions, or assignments.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned for duplicate role names and repeated assignments.
	ErrConflict = errors.New("resource conflict")
)

// Permission grants an action on a resource. A permission carrying
// conditions is only active when every condition holds against the
// request context.
type Permission struct {
	ID         string
	Resource   string
	Action     string
	Conditions []Condition
}

// Unconditional reports whether the grant applies regardless of context.
func (p Permission) Unconditional() bool {
	return len(p.Conditions) == 0
}

// Matches reports whether the permission covers the given resource/action.
func (p Permission) Matches(resource, action string) bool {
	return p.Resource == resource && p.Action == action
}

// Role is a named bundle of permissions. ParentID, when set, links the
// role into a hierarchy: a role inherits every permission of its parent.
type Role struct {
	ID          string
	Name        string
	Description string
	ParentID    string
}

// Store is the durable side of the permission model. Implementations
// back it with relational storage.
type Store interface {
	GetRole(ctx context.Context, roleID string) (Role, error)
	RolesForPrincipal(ctx context.Context, principalID string) ([]Role, error)
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
	DirectPermissions(ctx context.Context, principalID string) ([]Permission, error)
	PrincipalsWithRole(ctx context.Context, roleID string) ([]string, error)
}

// PolicyEngine answers role-derived permission questions. The default
// implementation walks the role adjacency list; a rule engine can be
// substituted without touching the resolver.
type PolicyEngine interface {
	HasPermission(ctx context.Context, subject, resource, action string) (bool, error)
	ExpandRoles(ctx context.Context, subject string) ([]string, error)
}
