// Package service contains the business logic layer.
//
// Services orchestrate interactions between repositories and domain logic.
// They are responsible for:
// - Input validation
// - Business rule enforcement
// - Error translation (database errors -> domain errors)
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/quizauth/internal/domain"
	"github.com/DukeRupert/quizauth/internal/metrics"
	"github.com/DukeRupert/quizauth/internal/repository"
	"github.com/DukeRupert/quizauth/internal/token"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// BcryptCost is the cost factor for bcrypt password hashing.
	// Cost 12 is roughly 250ms on modern hardware.
	BcryptCost = 12

	// DefaultMinPasswordLength applies when Options leaves it unset.
	DefaultMinPasswordLength = 6

	// Client-facing messages. They never reveal which check failed.
	msgInvalidCredentials = "Invalid email or password"
	msgDuplicateEmail     = "User with this email already exists"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UserService defines the account operations used by the HTTP handlers.
type UserService interface {
	// Register creates an account and issues a session token for it.
	// Returns domain.ECONFLICT if the email already exists.
	// Returns a *domain.ValidationError for bad input.
	Register(ctx context.Context, params domain.RegisterParams) (*domain.AuthResult, error)

	// Login checks credentials and issues a session token.
	// Returns domain.EUNAUTHORIZED for unknown email or wrong password
	// without saying which.
	Login(ctx context.Context, params domain.LoginParams) (*domain.AuthResult, error)

	// GetByID returns domain.ENOTFOUND if the user does not exist.
	GetByID(ctx context.Context, id int64) (*domain.User, error)

	// GetByEmail returns domain.ENOTFOUND if the user does not exist.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// List returns one page of users ordered by ID.
	List(ctx context.Context, params domain.ListParams) (*domain.UserPage, error)
}

// TokenIssuer signs identity claims into a session token.
type TokenIssuer interface {
	Issue(claims token.Claims) (string, error)
}

// Options tunes the account policy.
type Options struct {
	MinPasswordLength int

	// AdminEmails are granted ROLE_ADMIN on registration. Compared after
	// normalization.
	AdminEmails []string

	// BcryptCost defaults to BcryptCost. Lowered only by tests.
	BcryptCost int

	// Now overrides the clock used for last-login stamps.
	Now func() time.Time
}

// =============================================================================
// Implementation
// =============================================================================

// userService is the concrete implementation of UserService.
type userService struct {
	queries     repository.Querier
	tokens      TokenIssuer
	logger      *slog.Logger
	minPassword int
	cost        int
	adminEmails map[string]struct{}
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewUserService creates a new UserService instance.
//
// Dependencies:
// - queries: user storage (PostgreSQL or in-memory)
// - tokens: signs session tokens after a successful register or login
// - logger: structured logger for operation logging
func NewUserService(queries repository.Querier, tokens TokenIssuer, logger *slog.Logger, opts Options) UserService {
	s := &userService{
		queries:     queries,
		tokens:      tokens,
		logger:      logger,
		minPassword: opts.MinPasswordLength,
		cost:        opts.BcryptCost,
		adminEmails: make(map[string]struct{}, len(opts.AdminEmails)),
		now:         opts.Now,
	}
	if s.minPassword <= 0 {
		s.minPassword = DefaultMinPasswordLength
	}
	if s.cost == 0 {
		s.cost = BcryptCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, email := range opts.AdminEmails {
		if email = NormalizeEmail(email); email != "" {
			s.adminEmails[email] = struct{}{}
		}
	}
	return s
}

// =============================================================================
// Register Implementation
// =============================================================================

// Register creates a new user account and signs a token for it.
//
// Flow:
// 1. Normalize and validate input
// 2. Reject an email that already exists
// 3. Hash the password with bcrypt
// 4. Create the user with its roles
// 5. Issue a token for the new account
func (s *userService) Register(ctx context.Context, params domain.RegisterParams) (*domain.AuthResult, error) {
	const op = "UserService.Register"

	params.Email = NormalizeEmail(params.Email)
	params.FirstName = strings.TrimSpace(params.FirstName)
	params.LastName = strings.TrimSpace(params.LastName)

	if err := validateRegister(op, params, s.minPassword); err != nil {
		metrics.RegistrationRecorded(metrics.ResultInvalid)
		return nil, err
	}

	exists, err := s.queries.ExistsByEmail(ctx, params.Email)
	if err != nil {
		metrics.RegistrationRecorded(metrics.ResultError)
		return nil, domain.Internal(err, op, "Failed to check email availability")
	}
	if exists {
		// Hash anyway so a duplicate costs the same time as a new account.
		_, _ = s.hashPassword(params.Password)
		metrics.RegistrationRecorded(metrics.ResultDuplicate)
		return nil, domain.Conflict(op, msgDuplicateEmail)
	}

	passwordHash, err := s.hashPassword(params.Password)
	if err != nil {
		metrics.RegistrationRecorded(metrics.ResultError)
		return nil, domain.Internal(err, op, "Failed to hash password")
	}

	roles := domain.NewRoleSet(domain.DefaultRole)
	if _, ok := s.adminEmails[params.Email]; ok {
		roles.Add(domain.RoleAdmin)
	}

	repoUser, err := s.queries.CreateUser(ctx, repository.CreateUserParams{
		Email:        params.Email,
		PasswordHash: string(passwordHash),
		FirstName:    domain.ToNullString(params.FirstName),
		LastName:     domain.ToNullString(params.LastName),
		Roles:        roles.Strings(),
	})
	if err != nil {
		// Lost a race with a concurrent registration.
		if errors.Is(err, repository.ErrDuplicateEmail) {
			metrics.RegistrationRecorded(metrics.ResultDuplicate)
			return nil, domain.Conflict(op, msgDuplicateEmail)
		}
		metrics.RegistrationRecorded(metrics.ResultError)
		return nil, domain.Internal(err, op, "Failed to create user")
	}

	user, err := repoUserToDomain(repoUser)
	if err != nil {
		metrics.RegistrationRecorded(metrics.ResultError)
		return nil, domain.Internal(err, op, "Failed to load user")
	}

	signed, err := s.issue(user)
	if err != nil {
		metrics.RegistrationRecorded(metrics.ResultError)
		return nil, domain.Internal(err, op, "Failed to issue token")
	}

	metrics.RegistrationRecorded(metrics.ResultSuccess)
	s.logger.Info("user registered", "user_id", user.ID, "roles", user.Roles.Strings())

	return &domain.AuthResult{User: user.Sanitized(), Token: signed}, nil
}

// =============================================================================
// Login Implementation
// =============================================================================

// Login authenticates a user and signs a fresh token.
//
// Unknown email, wrong password and disabled account all return the same
// EUNAUTHORIZED error. The unknown-email path compares against a dummy hash
// so response time does not reveal whether the account exists.
func (s *userService) Login(ctx context.Context, params domain.LoginParams) (*domain.AuthResult, error) {
	const op = "UserService.Login"

	params.Email = NormalizeEmail(params.Email)

	if err := validateLogin(op, params); err != nil {
		metrics.LoginRecorded(metrics.ResultInvalid)
		return nil, err
	}

	repoUser, err := s.queries.GetUserByEmail(ctx, params.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = s.comparePassword(s.dummy(), params.Password)
			metrics.LoginRecorded(metrics.ResultBadPassword)
			s.logger.Debug("login rejected", "reason", "unknown_email")
			return nil, domain.Unauthorized(op, msgInvalidCredentials)
		}
		metrics.LoginRecorded(metrics.ResultError)
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	if err := s.comparePassword([]byte(repoUser.PasswordHash), params.Password); err != nil {
		metrics.LoginRecorded(metrics.ResultBadPassword)
		s.logger.Debug("login rejected", "reason", "wrong_password", "user_id", repoUser.ID)
		return nil, domain.Unauthorized(op, msgInvalidCredentials)
	}

	if !repoUser.Enabled {
		metrics.LoginRecorded(metrics.ResultBadPassword)
		s.logger.Info("login rejected", "reason", "account_disabled", "user_id", repoUser.ID)
		return nil, domain.Unauthorized(op, msgInvalidCredentials)
	}

	user, err := repoUserToDomain(repoUser)
	if err != nil {
		metrics.LoginRecorded(metrics.ResultError)
		return nil, domain.Internal(err, op, "Failed to load user")
	}

	now := s.now().UTC()
	if err := s.queries.UpdateLastLogin(ctx, repository.UpdateLastLoginParams{ID: user.ID, LastLogin: now}); err != nil {
		s.logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLogin = &now
	}

	signed, err := s.issue(user)
	if err != nil {
		metrics.LoginRecorded(metrics.ResultError)
		return nil, domain.Internal(err, op, "Failed to issue token")
	}

	metrics.LoginRecorded(metrics.ResultSuccess)
	s.logger.Info("user logged in", "user_id", user.ID)

	return &domain.AuthResult{User: user.Sanitized(), Token: signed}, nil
}

// =============================================================================
// Lookups
// =============================================================================

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	const op = "UserService.GetByID"

	repoUser, err := s.queries.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, fmt.Sprintf("User not found with id: %d", id))
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}
	return s.toSanitized(op, repoUser)
}

func (s *userService) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	const op = "UserService.GetByEmail"

	email = NormalizeEmail(email)
	repoUser, err := s.queries.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, fmt.Sprintf("User not found with email: %s", email))
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}
	return s.toSanitized(op, repoUser)
}

func (s *userService) List(ctx context.Context, params domain.ListParams) (*domain.UserPage, error) {
	const op = "UserService.List"

	params = params.Normalize()

	total, err := s.queries.CountUsers(ctx)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to count users")
	}

	rows, err := s.queries.ListUsers(ctx, repository.ListUsersParams{
		Limit:  int32(params.Limit),
		Offset: int32(params.Offset),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to list users")
	}

	page := &domain.UserPage{
		Users:  make([]*domain.User, 0, len(rows)),
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	for _, row := range rows {
		u, err := s.toSanitized(op, row)
		if err != nil {
			return nil, err
		}
		page.Users = append(page.Users, u)
	}
	return page, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *userService) issue(u *domain.User) (string, error) {
	return s.tokens.Issue(token.Claims{
		Subject: u.Email,
		UserID:  u.ID,
		Roles:   u.Roles.Clone(),
	})
}

func (s *userService) hashPassword(password string) ([]byte, error) {
	start := time.Now()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	metrics.PasswordHashObserved("hash", time.Since(start))
	return hash, err
}

func (s *userService) comparePassword(hash []byte, password string) error {
	start := time.Now()
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	metrics.PasswordHashObserved("compare", time.Since(start))
	return err
}

// dummy returns a hash at the configured cost for unknown-email logins.
func (s *userService) dummy() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.cost)
		if err != nil {
			// Any well-formed hash keeps the comparison cost realistic.
			hash = []byte("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW")
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *userService) toSanitized(op string, row repository.User) (*domain.User, error) {
	u, err := repoUserToDomain(row)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to load user")
	}
	return u.Sanitized(), nil
}

// repoUserToDomain converts a storage row. An unknown stored role is a data
// error, not something to silently drop.
func repoUserToDomain(row repository.User) (*domain.User, error) {
	roles, err := domain.ParseRoleSet(row.Roles)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", row.ID, err)
	}
	return &domain.User{
		ID:           row.ID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		FirstName:    domain.NullStringValue(row.FirstName),
		LastName:     domain.NullStringValue(row.LastName),
		Roles:        roles,
		Enabled:      row.Enabled,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		LastLogin:    domain.NullTimePtr(row.LastLogin),
	}, nil
}
