package pgstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tessera-id/authcore"
	"github.com/tessera-id/authcore/internal/ids"
	"github.com/tessera-id/authcore/rbac"
)

var _ authcore.RBACStore = (*Store)(nil)

func (s *Store) GetRole(ctx context.Context, roleID string) (rbac.Role, error) {
	var (
		role   rbac.Role
		parent sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, parent_id
		from roles
		where id = $1
	`, roleID).Scan(&role.ID, &role.Name, &role.Description, &parent)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Role{}, err
	}
	if parent.Valid {
		role.ParentID = parent.String
	}
	return role, nil
}

func (s *Store) RolesForPrincipal(ctx context.Context, principalID string) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.parent_id
		from principal_roles pr
		join roles r on r.id = pr.role_id
		where pr.principal_id = $1
		order by r.name
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRoles(rows)
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.resource, p.action, p.conditions
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (s *Store) DirectPermissions(ctx context.Context, principalID string) ([]rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.resource, p.action, p.conditions
		from principal_permissions pp
		join permissions p on p.id = pp.permission_id
		where pp.principal_id = $1
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (s *Store) PrincipalsWithRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select principal_id from principal_roles where role_id = $1
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var principals []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		principals = append(principals, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return principals, nil
}

func (s *Store) CreateRole(ctx context.Context, name, description, parentID string) (rbac.Role, error) {
	role := rbac.Role{ID: ids.New(), Name: name, Description: description, ParentID: parentID}
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name, description, parent_id)
		values ($1, $2, $3, $4)
	`, role.ID, name, description, nullIfEmpty(parentID))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return rbac.Role{}, rbac.ErrConflict
			case pgErrForeignKeyViolation:
				return rbac.Role{}, rbac.ErrNotFound
			}
		}
		return rbac.Role{}, err
	}
	return role, nil
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *Store) AssignRole(ctx context.Context, principalID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into principal_roles (principal_id, role_id) values ($1, $2)
	`, principalID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return rbac.ErrConflict
			case pgErrForeignKeyViolation:
				return rbac.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) RemoveRole(ctx context.Context, principalID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from principal_roles where principal_id = $1 and role_id = $2
	`, principalID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *Store) CreatePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error) {
	var conditions []byte
	if !p.Unconditional() {
		encoded, err := rbac.MarshalConditions(p.Conditions)
		if err != nil {
			return rbac.Permission{}, err
		}
		conditions = encoded
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into permissions (id, resource, action, conditions)
		values ($1, $2, $3, $4)
	`, p.ID, p.Resource, p.Action, conditions); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.Permission{}, rbac.ErrConflict
		}
		return rbac.Permission{}, err
	}
	return p, nil
}

func (s *Store) AddPermissionToRole(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id) values ($1, $2)
	`, roleID, permissionID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return rbac.ErrConflict
			case pgErrForeignKeyViolation:
				return rbac.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) RemovePermissionFromRole(ctx context.Context, roleID, permissionID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from role_permissions where role_id = $1 and permission_id = $2
	`, roleID, permissionID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *Store) FindPermission(ctx context.Context, resource, action string) (rbac.Permission, error) {
	var (
		p   rbac.Permission
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, resource, action, conditions
		from permissions
		where resource = $1 and action = $2 and conditions is null
	`, resource, action).Scan(&p.ID, &p.Resource, &p.Action, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Permission{}, err
	}
	return p, nil
}

func scanRoles(rows *sql.Rows) ([]rbac.Role, error) {
	var roles []rbac.Role
	for rows.Next() {
		var (
			role   rbac.Role
			parent sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &parent); err != nil {
			return nil, err
		}
		if parent.Valid {
			role.ParentID = parent.String
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func scanPermissions(rows *sql.Rows) ([]rbac.Permission, error) {
	var perms []rbac.Permission
	for rows.Next() {
		var (
			p   rbac.Permission
			raw []byte
		)
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &raw); err != nil {
			return nil, err
		}
		conditions, err := rbac.UnmarshalConditions(raw)
		if err != nil {
			return nil, err
		}
		p.Conditions = conditions
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
