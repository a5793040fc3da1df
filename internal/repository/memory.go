package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Querier. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*User
	byEmail map[string]int64
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		byID:    make(map[int64]*User),
		byEmail: make(map[string]int64),
		now:     time.Now,
	}
}

func (m *MemoryStore) GetUserByID(_ context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return cloneUser(u), nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return cloneUser(m.byID[id]), nil
}

func (m *MemoryStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.byEmail[email]
	return ok, nil
}

func (m *MemoryStore) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[arg.Email]; ok {
		return User{}, ErrDuplicateEmail
	}

	now := m.now().UTC()
	u := &User{
		ID:           m.nextID,
		Email:        arg.Email,
		PasswordHash: arg.PasswordHash,
		FirstName:    arg.FirstName,
		LastName:     arg.LastName,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Roles:        sortedRoles(arg.Roles),
	}
	m.nextID++
	m.byID[u.ID] = u
	m.byEmail[u.Email] = u.ID

	return cloneUser(u), nil
}

func (m *MemoryStore) UpdateLastLogin(_ context.Context, arg UpdateLastLoginParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[arg.ID]
	if !ok {
		return sql.ErrNoRows
	}
	u.LastLogin = sql.NullTime{Time: arg.LastLogin, Valid: true}
	u.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) ListUsers(_ context.Context, arg ListUsersParams) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	items := []User{}
	start := int(arg.Offset)
	if start < 0 || start >= len(ids) {
		return items, nil
	}
	end := len(ids)
	if arg.Limit >= 0 && start+int(arg.Limit) < end {
		end = start + int(arg.Limit)
	}
	for _, id := range ids[start:end] {
		items = append(items, cloneUser(m.byID[id]))
	}
	return items, nil
}

func (m *MemoryStore) CountUsers(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.byID)), nil
}

func cloneUser(u *User) User {
	c := *u
	c.Roles = append([]string{}, u.Roles...)
	return c
}

func sortedRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
