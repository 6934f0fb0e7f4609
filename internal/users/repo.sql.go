package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyard/tallyard/internal/platform/db"
	"github.com/tallyard/tallyard/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, name, is_active, created_at, updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, wrapStoreErr(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return users, nil
}

// GetUser fetches one user by ID.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	var user User
	err := r.pool.QueryRow(ctx, `SELECT id, email, name, is_active, created_at, updated_at FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Email, &user.Name, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, wrapStoreErr(err)
	}
	return user, nil
}

// ActiveAssignment returns the user's single active role assignment.
func (r *Repository) ActiveAssignment(ctx context.Context, userID int64) (RoleAssignment, error) {
	var a RoleAssignment
	err := r.pool.QueryRow(ctx, `
		SELECT ur.user_id, ur.role_id, r.name, ur.is_active, ur.created_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.is_active
		LIMIT 1`, userID).
		Scan(&a.UserID, &a.RoleID, &a.RoleName, &a.IsActive, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleAssignment{}, shared.ErrNotFound
		}
		return RoleAssignment{}, wrapStoreErr(err)
	}
	return a, nil
}

// Reassign deactivates the user's current assignment and activates the new
// one inside a single transaction, so the at-most-one-active invariant holds
// even under concurrent reassignment. History rows are kept.
func (r *Repository) Reassign(ctx context.Context, userID, roleID int64) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: role %d", shared.ErrNotFound, roleID)
		}
		if _, err := tx.Exec(ctx, `UPDATE user_roles SET is_active = FALSE, updated_at = NOW() WHERE user_id = $1 AND is_active`, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, is_active) VALUES ($1, $2, TRUE)`, userID, roleID); err != nil {
			return err
		}
		return nil
	})
	return wrapStoreErr(err)
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
}
