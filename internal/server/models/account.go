package models

import "time"

// Account is the persisted identity record for a platform member.
//
// RefreshToken and RefreshTokenExpires are always set or cleared together:
// a refresh secret without an expiry (or the reverse) is an invalid state,
// enforced here by UpdateSession/ClearSession being the only mutation paths
// and in the database by a CHECK constraint.
type Account struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	FullName            string
	Bio                 string
	IsActive            bool
	RefreshToken        *string
	RefreshTokenExpires *time.Time
	LastLoginAt         *time.Time
	CreatedAt           time.Time
}

// WithSession returns a copy of the account with the refresh slot replaced
// and the login timestamp updated. The receiver is not modified, so session
// rotation reads as a single value transition from the old state to the new.
func (a Account) WithSession(refreshToken string, expires, loginAt time.Time) Account {
	a.RefreshToken = &refreshToken
	a.RefreshTokenExpires = &expires
	a.LastLoginAt = &loginAt
	return a
}

// WithoutSession returns a copy of the account with the refresh slot cleared.
func (a Account) WithoutSession() Account {
	a.RefreshToken = nil
	a.RefreshTokenExpires = nil
	return a
}
