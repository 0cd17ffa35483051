package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/socialmap/socialmap/backend/go-services/internal/models"
)

// PasswordHasher is the slice of the password package the store needs.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
}

// NewUser carries the fields accepted at creation time. Role is not among them.
type NewUser struct {
	Name        string
	Email       string
	Password    string
	FederatedID string
	Avatar      string
}

// Service is the credential store: it normalizes emails, hashes passwords
// before they reach the repository and assigns ids, roles and timestamps.
type Service struct {
	repo   UserRepository
	hasher PasswordHasher
}

func NewService(r UserRepository, h PasswordHasher) *Service {
	return &Service{repo: r, hasher: h}
}

// FindByEmail returns the user with the given email or nil.
func (s *Service) FindByEmail(ctx context.Context, email string, withHash bool) (*models.User, error) {
	return s.repo.FindByEmail(ctx, models.NormalizeEmail(email), withHash)
}

// FindByEmailAndFederatedID requires an exact (email, federatedId) match.
func (s *Service) FindByEmailAndFederatedID(ctx context.Context, email, federatedID string) (*models.User, error) {
	if federatedID == "" {
		return nil, nil
	}
	return s.repo.FindByEmailAndFederatedID(ctx, models.NormalizeEmail(email), federatedID)
}

// FindByID returns the user or nil; the hash is only loaded when withHash is set.
func (s *Service) FindByID(ctx context.Context, id string, withHash bool) (*models.User, error) {
	return s.repo.FindByID(ctx, id, withHash)
}

// Create persists a new user. A plaintext password is hashed first; a hashing
// failure aborts the write. Duplicate emails surface as ErrDuplicateEmail.
func (s *Service) Create(ctx context.Context, in NewUser) (*models.User, error) {
	now := time.Now().UTC()
	u := &models.User{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Email:       models.NormalizeEmail(in.Email),
		FederatedID: in.FederatedID,
		Avatar:      in.Avatar,
		Role:        models.RoleUser,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Password != "" {
		h, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = h
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.PasswordHash = ""
	return u, nil
}

// Update applies profile changes. Emails are normalized; no uniqueness
// pre-check is made here, the repository constraint is the only guard.
func (s *Service) Update(ctx context.Context, id string, c Changes) (*models.User, error) {
	if c.empty() {
		u, err := s.repo.FindByID(ctx, id, false)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, ErrNotFound
		}
		return u, nil
	}
	if c.Email != nil {
		e := models.NormalizeEmail(*c.Email)
		c.Email = &e
	}
	return s.repo.Update(ctx, id, c)
}

// UpdatePassword re-hashes and stores a new password. Checking the old one is
// the caller's job.
func (s *Service) UpdatePassword(ctx context.Context, id, plaintext string) error {
	h, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, id, h)
}
