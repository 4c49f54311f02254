package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserRole gates access to the admin endpoints
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

func (r UserRole) Valid() bool {
	return r == UserRoleUser || r == UserRoleAdmin
}

// ParseUserRole accepts a role name in any case
func ParseUserRole(s string) (UserRole, error) {
	role := UserRole(strings.ToLower(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
	return role, nil
}

type User struct {
	ID              uuid.UUID `json:"id"`
	ExternalSubject string    `json:"-"`
	Email           string    `json:"email"`
	FirstName       *string   `json:"first_name,omitempty"`
	LastName        *string   `json:"last_name,omitempty"`
	Role            UserRole  `json:"role"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == UserRoleAdmin
}

// Identity is what the identity provider vouches for
type Identity struct {
	Subject   string
	Email     string
	FirstName *string
	LastName  *string
}

type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName *string   `json:"first_name,omitempty"`
	LastName  *string   `json:"last_name,omitempty"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// UserSummary is a user row in the admin listing
type UserSummary struct {
	User
	ServerCount int `json:"server_count"`
}

// UserListResponse is the response for the admin user listing
type UserListResponse struct {
	Users []UserSummary `json:"users"`
	Total int           `json:"total"`
}
