// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxUsernameLen = 36

var (
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameTooLong = errors.New("username too long")
)

type UserID string

// Role is the administrative standing of a participant within one room.
type Role string

const (
	RoleHost        Role = "host"
	RoleSubHost     Role = "subhost"
	RoleParticipant Role = "participant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleSubHost, RoleParticipant:
		return true
	}
	return false
}

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, username string) (*User, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &User{ID: id, Username: username}, nil
}
