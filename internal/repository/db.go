// Package repository provides persistence for user accounts.
//
// Queries talks to PostgreSQL through database/sql with the pgx driver.
// MemoryStore keeps accounts in process for local runs and tests. Both
// satisfy Querier, and both report a missing row as sql.ErrNoRows.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateEmail is returned when an insert collides with an existing email.
var ErrDuplicateEmail = errors.New("repository: email already exists")

// DBTX is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Querier is the storage contract used by the service layer.
type Querier interface {
	GetUserByID(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	CreateUser(ctx context.Context, arg CreateUserParams) (User, error)
	UpdateLastLogin(ctx context.Context, arg UpdateLastLoginParams) error
	ListUsers(ctx context.Context, arg ListUsersParams) ([]User, error)
	CountUsers(ctx context.Context) (int64, error)
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// User is a users row joined with its roles.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	FirstName    sql.NullString
	LastName     sql.NullString
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    sql.NullTime
	Roles        []string
}

type CreateUserParams struct {
	Email        string
	PasswordHash string
	FirstName    sql.NullString
	LastName     sql.NullString
	Roles        []string
}

type UpdateLastLoginParams struct {
	ID        int64
	LastLogin time.Time
}

type ListUsersParams struct {
	Limit  int32
	Offset int32
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

var (
	_ Querier = (*Queries)(nil)
	_ Querier = (*MemoryStore)(nil)
)
