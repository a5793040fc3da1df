package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const userColumns = `u.id, u.email, u.password, u.first_name, u.last_name, u.enabled,
       u.created_at, u.updated_at, u.last_login,
       COALESCE(string_agg(r.role, ',' ORDER BY r.role), '') AS roles`

const getUserByID = `-- name: GetUserByID :one
SELECT ` + userColumns + `
FROM users u
LEFT JOIN user_roles r ON r.user_id = u.id
WHERE u.id = $1
GROUP BY u.id
`

func (q *Queries) GetUserByID(ctx context.Context, id int64) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByID, id)
	return scanUser(row)
}

const getUserByEmail = `-- name: GetUserByEmail :one
SELECT ` + userColumns + `
FROM users u
LEFT JOIN user_roles r ON r.user_id = u.id
WHERE u.email = $1
GROUP BY u.id
`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	return scanUser(row)
}

const existsByEmail = `-- name: ExistsByEmail :one
SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)
`

func (q *Queries) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, existsByEmail, email).Scan(&exists)
	return exists, err
}

// The user row and its roles are written by one statement so a failed role
// insert never leaves an account without roles.
const createUser = `-- name: CreateUser :one
WITH inserted AS (
    INSERT INTO users (email, password, first_name, last_name)
    VALUES ($1, $2, $3, $4)
    RETURNING id, email, password, first_name, last_name, enabled, created_at, updated_at, last_login
), granted AS (
    INSERT INTO user_roles (user_id, role)
    SELECT inserted.id, unnest($5::text[]) FROM inserted
)
SELECT id, email, password, first_name, last_name, enabled, created_at, updated_at, last_login
FROM inserted
`

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	roles := arg.Roles
	if roles == nil {
		roles = []string{}
	}
	row := q.db.QueryRowContext(ctx, createUser,
		arg.Email,
		arg.PasswordHash,
		arg.FirstName,
		arg.LastName,
		roles,
	)
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.PasswordHash,
		&i.FirstName,
		&i.LastName,
		&i.Enabled,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.LastLogin,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, err
	}
	i.Roles = append([]string(nil), roles...)
	return i, nil
}

const updateLastLogin = `-- name: UpdateLastLogin :exec
UPDATE users SET last_login = $2, updated_at = NOW() WHERE id = $1
`

func (q *Queries) UpdateLastLogin(ctx context.Context, arg UpdateLastLoginParams) error {
	res, err := q.db.ExecContext(ctx, updateLastLogin, arg.ID, arg.LastLogin)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const listUsers = `-- name: ListUsers :many
SELECT ` + userColumns + `
FROM users u
LEFT JOIN user_roles r ON r.user_id = u.id
GROUP BY u.id
ORDER BY u.id
LIMIT $1 OFFSET $2
`

func (q *Queries) ListUsers(ctx context.Context, arg ListUsersParams) ([]User, error) {
	rows, err := q.db.QueryContext(ctx, listUsers, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []User{}
	for rows.Next() {
		i, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countUsers = `-- name: CountUsers :one
SELECT COUNT(*) FROM users
`

func (q *Queries) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countUsers).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		i     User
		roles string
	)
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.PasswordHash,
		&i.FirstName,
		&i.LastName,
		&i.Enabled,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.LastLogin,
		&roles,
	)
	if err != nil {
		return User{}, err
	}
	i.Roles = splitRoles(roles)
	return i, nil
}

func splitRoles(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

// String is used in log lines; the hash is never printed.
func (u User) String() string {
	return fmt.Sprintf("User{ID: %d, Email: %s, Roles: %v}", u.ID, u.Email, u.Roles)
}
