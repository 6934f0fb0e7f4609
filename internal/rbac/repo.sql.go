package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyard/tallyard/internal/platform/db"
	"github.com/tallyard/tallyard/internal/shared"
)

// Repository provides PostgreSQL backed persistence for roles, permissions,
// grants and active-role resolution.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, name, description, is_system, system_key, created_at, updated_at`

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr(err)
	}
	return roles, nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, mapStoreErr(err)
	}
	return role, nil
}

// InsertRole creates a custom role. The name_key column carries the
// case-folded name and is unique, so duplicates surface as ErrDuplicateName.
func (r *Repository) InsertRole(ctx context.Context, name, nameKey, description string) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, name_key, description)
		VALUES ($1, $2, $3)
		RETURNING `+roleColumns, name, nameKey, description)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, mapStoreErr(err)
	}
	return role, nil
}

// DeleteRole removes a custom role and its grant rows in one transaction.
// The is_system predicate is a second line of defence under the service
// check.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1 AND is_system = FALSE`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
	return mapStoreErr(err)
}

// CountActiveAssignments counts users whose active assignment references the
// role.
func (r *Repository) CountActiveAssignments(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1 AND is_active`, roleID).Scan(&count); err != nil {
		return 0, mapStoreErr(err)
	}
	return count, nil
}

// RoleGrants returns only the grant rows that exist for the role.
func (r *Repository) RoleGrants(ctx context.Context, roleID int64) ([]RoleGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.menu, p.submenu, p.action, rp.can_access
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.menu, p.submenu, p.action`, roleID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()
	var grants []RoleGrant
	for rows.Next() {
		var g RoleGrant
		var action string
		if err := rows.Scan(&g.PermissionID, &g.Key.Menu, &g.Key.Submenu, &action, &g.CanAccess); err != nil {
			return nil, mapStoreErr(err)
		}
		g.Key.Action = Action(action)
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr(err)
	}
	return grants, nil
}

// UpsertGrants writes a complete batch for one role in one transaction. Each
// key is resolved against the seeded permissions table; a key the catalog
// sync has not persisted yet fails the whole batch.
func (r *Repository) UpsertGrants(ctx context.Context, roleID int64, updates []GrantUpdate) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, u := range updates {
			tag, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id, can_access)
				SELECT $1::bigint, p.id, $5::boolean
				FROM permissions p
				WHERE p.menu = $2 AND p.submenu = $3 AND p.action = $4
				ON CONFLICT (role_id, permission_id)
				DO UPDATE SET can_access = EXCLUDED.can_access, updated_at = NOW()`,
				roleID, u.Key.Menu, u.Key.Submenu, string(u.Key.Action), u.CanAccess)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s", shared.ErrPermissionNotFound, u.Key)
			}
		}
		return nil
	})
	return mapStoreErr(err)
}

// ActiveRoleForUser resolves a user's single active role. ErrNotFound means
// the user has no active assignment and must be denied.
func (r *Repository) ActiveRoleForUser(ctx context.Context, userID int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT r.id, r.name, r.description, r.is_system, r.system_key, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.is_active
		LIMIT 1`, userID)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, mapStoreErr(err)
	}
	return role, nil
}

// ListPermissions returns the persisted catalog rows in stable order.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, menu, submenu, action, description FROM permissions ORDER BY menu, submenu, action`)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		var action string
		if err := rows.Scan(&p.ID, &p.Key.Menu, &p.Key.Submenu, &action, &p.Description); err != nil {
			return nil, mapStoreErr(err)
		}
		p.Key.Action = Action(action)
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr(err)
	}
	return perms, nil
}

// SyncCatalog upserts every catalog triple into the permissions table and
// returns the number of rows touched. Stale rows are kept; removing a
// catalog entry is a migration concern.
func (r *Repository) SyncCatalog(ctx context.Context, nodes []Node) (int, error) {
	touched := 0
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, n := range nodes {
			for _, a := range n.Actions {
				if _, err := tx.Exec(ctx, `
					INSERT INTO permissions (menu, submenu, action, description)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (menu, submenu, action)
					DO UPDATE SET description = EXCLUDED.description`,
					n.Menu, n.Submenu, string(a), n.Description); err != nil {
					return err
				}
				touched++
			}
		}
		return nil
	})
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return touched, nil
}

// mapStoreErr translates driver errors into the domain taxonomy. Anything
// that is not a domain condition becomes ErrStoreUnavailable so callers can
// distinguish "the store said no" from "the store is down".
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrDuplicateName),
		errors.Is(err, shared.ErrPermissionNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return shared.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", shared.ErrDuplicateName, pgErr.ConstraintName)
	}
	return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.SystemKey, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, err
	}
	return role, nil
}
