package users

import (
	"context"
	"sync"
	"time"

	"github.com/socialmap/socialmap/backend/go-services/internal/models"
)

// MemoryRepository is an in-process UserRepository used when MongoDB is not
// configured and by unit tests. It enforces the same unique-email constraint.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byEmail map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]string),
	}
}

// snapshot copies a stored record so callers can't mutate the store.
func snapshot(u *models.User, withHash bool) *models.User {
	cp := *u
	if !withHash {
		cp.PasswordHash = ""
	}
	return &cp
}

func (m *MemoryRepository) Create(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byEmail[u.Email]; taken {
		return ErrDuplicateEmail
	}
	m.byID[u.ID] = snapshot(u, true)
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryRepository) FindByEmail(ctx context.Context, email string, withHash bool) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, nil
	}
	return snapshot(m.byID[id], withHash), nil
}

func (m *MemoryRepository) FindByEmailAndFederatedID(ctx context.Context, email, federatedID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, nil
	}
	u := m.byID[id]
	if u.FederatedID == "" || u.FederatedID != federatedID {
		return nil, nil
	}
	return snapshot(u, false), nil
}

func (m *MemoryRepository) FindByID(ctx context.Context, id string, withHash bool) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return snapshot(u, withHash), nil
}

func (m *MemoryRepository) Update(ctx context.Context, id string, c Changes) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Email != nil && *c.Email != u.Email {
		if _, taken := m.byEmail[*c.Email]; taken {
			return nil, ErrDuplicateEmail
		}
		delete(m.byEmail, u.Email)
		u.Email = *c.Email
		m.byEmail[u.Email] = u.ID
	}
	if c.Name != nil {
		u.Name = *c.Name
	}
	if c.Avatar != nil {
		u.Avatar = *c.Avatar
	}
	if c.FederatedID != nil {
		u.FederatedID = *c.FederatedID
	}
	u.UpdatedAt = time.Now().UTC()
	return snapshot(u, false), nil
}

func (m *MemoryRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return nil
}
