package models

import (
	"strings"
	"time"
)

// Role is system-assigned; clients can never set it.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the persisted credential record. PasswordHash is only populated when
// a repository is explicitly asked for it and is never JSON encoded.
type User struct {
	ID           string    `bson:"_id" json:"id"`
	Name         string    `bson:"name" json:"name"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"passwordHash,omitempty" json:"-"`
	FederatedID  string    `bson:"federatedId,omitempty" json:"federatedId,omitempty"`
	Avatar       string    `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Role         Role      `bson:"role" json:"role"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

// PublicUser is the shape returned to API callers.
type PublicUser struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
	Avatar      string `json:"avatar"`
	FederatedID string `json:"federatedId,omitempty"`
}

// Public projects the record onto its response shape.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Role:        u.Role,
		Avatar:      u.Avatar,
		FederatedID: u.FederatedID,
	}
}

// HasPassword reports whether the local password path is usable.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// NormalizeEmail trims and lower-cases an address; every lookup and write goes
// through it so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
