// Package accounts declares the persistence contract for account records,
// including the single-slot refresh secret that lives on the account row.
package accounts

import (
	"context"
	"time"

	"github.com/dkravets/kinolog/internal/server/models"
)

// Repository defines the account-store operations consumed by the session
// service. Implementations return common.ErrorNotFound when a lookup
// matches nothing.
type Repository interface {
	// Create inserts a new account and returns it with the generated id
	// and creation timestamp filled in.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)

	// GetByID looks an account up by its id.
	GetByID(ctx context.Context, id string) (*models.Account, error)

	// GetByEmail looks an account up by email, case-insensitively.
	GetByEmail(ctx context.Context, email string) (*models.Account, error)

	// GetByUsername looks an account up by username, case-insensitively.
	GetByUsername(ctx context.Context, username string) (*models.Account, error)

	// GetByRefreshToken finds the account whose current refresh secret
	// equals token.
	GetByRefreshToken(ctx context.Context, token string) (*models.Account, error)

	// GetByRefreshTokenForUpdate is GetByRefreshToken with a row lock, so
	// that two concurrent redeemers of the same secret serialize and only
	// the first one wins. Must run inside a transaction.
	GetByRefreshTokenForUpdate(ctx context.Context, token string) (*models.Account, error)

	// UpdateSession atomically replaces the refresh secret, its expiry,
	// and the last-login timestamp. The previous secret becomes unusable
	// the moment this commits, regardless of its remaining lifetime.
	UpdateSession(ctx context.Context, accountID, refreshToken string, expires, lastLogin time.Time) error

	// ClearSession drops the refresh secret and its expiry together.
	ClearSession(ctx context.Context, accountID string) error
}
