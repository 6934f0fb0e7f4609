package users

import "time"

// User represents an operator account.
type User struct {
	ID        int64
	Email     string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleAssignment is one row of assignment history. A user has at most one
// active assignment; prior rows stay with is_active = false.
type RoleAssignment struct {
	UserID    int64
	RoleID    int64
	RoleName  string
	IsActive  bool
	CreatedAt time.Time
}
