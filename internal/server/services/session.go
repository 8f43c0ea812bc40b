// Package services contains server-side business logic. This file implements
// SessionService, which handles registration, login, and the refresh-token
// rotation that keeps at most one valid refresh secret per account.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkravets/kinolog/internal/common"
	"github.com/dkravets/kinolog/internal/cryptox"
	"github.com/dkravets/kinolog/internal/dbx"
	"github.com/dkravets/kinolog/internal/logging"
	"github.com/dkravets/kinolog/internal/server/auth"
	"github.com/dkravets/kinolog/internal/server/models"
	"github.com/dkravets/kinolog/internal/server/repositories/accounts"
	"github.com/dkravets/kinolog/internal/server/repositories/repomanager"
)

// Session is the result of a successful Register, Login, or Refresh call:
// a short-lived access token, the newly rotated refresh secret, the absolute
// access-token expiry, and a snapshot of the account after the transition.
type Session struct {
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt time.Time
	Account              models.Account
}

// RegisterParams carries everything needed to create an account. FullName
// and Bio are optional profile fields shown on the member's page.
type RegisterParams struct {
	Username string
	Email    string
	Password string
	FullName string
	Bio      string
}

func (p RegisterParams) validate() error {
	if p.Username == "" || p.Email == "" || p.Password == "" {
		return fmt.Errorf("%w: username, email and password are required", common.ErrValidation)
	}
	if !strings.Contains(p.Email, "@") {
		return fmt.Errorf("%w: malformed email", common.ErrValidation)
	}
	return nil
}

// SessionService provides authentication-related operations:
//   - Register: create accounts and open their first session
//   - Login: verify credentials and mint tokens
//   - Refresh: rotate refresh secrets and mint new access tokens
//   - Logout: drop the current refresh secret
//
// Every failure expected from caller input maps to a sentinel in the common
// package; only genuine system faults surface as common.ErrorInternal.
type SessionService struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	tokens  *auth.Issuer
	refresh *auth.RefreshManager
	logger  logging.Logger
	now     func() time.Time
}

// SessionServiceOption adjusts a SessionService after construction.
type SessionServiceOption func(*SessionService)

// WithSessionNow overrides the clock, primarily for tests.
func WithSessionNow(now func() time.Time) SessionServiceOption {
	return func(s *SessionService) { s.now = now }
}

// NewSessionService constructs a SessionService from its collaborators.
func NewSessionService(db *sql.DB, repos repomanager.RepositoryManager, tokens *auth.Issuer, refresh *auth.RefreshManager, logger logging.Logger, opts ...SessionServiceOption) *SessionService {
	s := &SessionService{
		db:      db,
		repos:   repos,
		tokens:  tokens,
		refresh: refresh,
		logger:  logger.With("module", "session_service"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new active account and opens its first session.
// Duplicate email or username is reported before any password hashing.
func (s *SessionService) Register(ctx context.Context, params RegisterParams) (*Session, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	repo := s.repos.Accounts(s.db)

	if err := s.checkFree(ctx, repo.GetByEmail, params.Email, common.ErrEmailExists); err != nil {
		return nil, err
	}
	if err := s.checkFree(ctx, repo.GetByUsername, params.Username, common.ErrUsernameExists); err != nil {
		return nil, err
	}

	hash, err := cryptox.HashPassword(params.Password)
	if err != nil {
		if errors.Is(err, common.ErrValidation) {
			return nil, err
		}
		s.logger.Error(ctx, "password hashing failed", "error", err.Error())
		return nil, common.ErrorInternal
	}

	account := &models.Account{
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: hash,
		FullName:     params.FullName,
		Bio:          params.Bio,
		IsActive:     true,
	}

	var session *Session
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repos.Accounts(tx)
		created, err := repoTx.Create(ctx, account)
		if err != nil {
			return fmt.Errorf("error creating account: %w", err)
		}
		var startErr error
		session, startErr = s.startSession(ctx, repoTx, *created)
		return startErr
	}); err != nil {
		s.logger.Error(ctx, "registration failed", "username", params.Username, "error", err.Error())
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "account registered", "account_id", session.Account.ID, "username", params.Username)
	return session, nil
}

// Login verifies the email/password pair and, on success, rotates the
// account's refresh secret and returns a fresh session. All rejection
// reasons collapse into the ErrUnauthorized family; the external surface
// must not distinguish them.
func (s *SessionService) Login(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", common.ErrValidation)
	}

	account, err := s.repos.Accounts(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "login rejected", "reason", "account not found")
			return nil, common.ErrAccountNotFound
		}
		s.logger.Error(ctx, "login lookup failed", "error", err.Error())
		return nil, common.ErrorInternal
	}

	if !account.IsActive {
		s.logger.Warn(ctx, "login rejected", "reason", "account inactive", "account_id", account.ID)
		return nil, common.ErrAccountInactive
	}

	if !cryptox.VerifyPassword(password, account.PasswordHash) {
		s.logger.Warn(ctx, "login rejected", "reason", "invalid credentials", "account_id", account.ID)
		return nil, common.ErrInvalidCredentials
	}

	var session *Session
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var startErr error
		session, startErr = s.startSession(ctx, s.repos.Accounts(tx), *account)
		return startErr
	}); err != nil {
		s.logger.Error(ctx, "login failed", "account_id", account.ID, "error", err.Error())
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "login", "account_id", account.ID)
	return session, nil
}

// Refresh redeems a refresh secret for a new session. The presented secret
// is compared against the stored one under a row lock, so of two concurrent
// redeemers only the first wins; the loser sees ErrInvalidRefreshToken once
// the swap has committed. A redeemed secret is superseded immediately,
// regardless of its remaining lifetime.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, common.ErrInvalidRefreshToken
	}

	var session *Session
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Accounts(tx)

		account, err := repo.GetByRefreshTokenForUpdate(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidRefreshToken
			}
			return fmt.Errorf("error searching refresh token: %w", err)
		}

		if account.RefreshTokenExpires == nil || !account.RefreshTokenExpires.After(s.now()) {
			return common.ErrRefreshTokenExpired
		}
		if !account.IsActive {
			return common.ErrAccountInactive
		}

		var startErr error
		session, startErr = s.startSession(ctx, repo, *account)
		return startErr
	})
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			s.logger.Warn(ctx, "refresh rejected", "reason", err.Error())
			return nil, err
		}
		s.logger.Error(ctx, "refresh failed", "error", err.Error())
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "session refreshed", "account_id", session.Account.ID)
	return session, nil
}

// Logout drops the account's refresh secret. Outstanding access tokens stay
// valid until their natural expiry; only the renewal path is cut.
func (s *SessionService) Logout(ctx context.Context, accountID string) error {
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", common.ErrValidation)
	}

	if err := s.repos.Accounts(s.db).ClearSession(ctx, accountID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrAccountNotFound
		}
		s.logger.Error(ctx, "logout failed", "account_id", accountID, "error", err.Error())
		return common.ErrorInternal
	}

	s.logger.Info(ctx, "logout", "account_id", accountID)
	return nil
}

// Account returns the current snapshot of an account by id.
func (s *SessionService) Account(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.repos.Accounts(s.db).GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrAccountNotFound
		}
		s.logger.Error(ctx, "account lookup failed", "account_id", accountID, "error", err.Error())
		return nil, common.ErrorInternal
	}
	return account, nil
}

// --- helpers below ---

// startSession is the shared rotation step of Register, Login, and Refresh:
// mint an access token, generate a fresh refresh secret, and persist the new
// session fields in one atomic repository call. The loaded account snapshot
// is never mutated; the next state is computed as a value and written whole.
func (s *SessionService) startSession(ctx context.Context, repo accounts.Repository, account models.Account) (*Session, error) {
	now := s.now()

	accessToken, err := s.tokens.Issue(account.ID, account.Username, account.Email)
	if err != nil {
		return nil, fmt.Errorf("error issuing access token: %w", err)
	}

	refreshToken, err := s.refresh.Generate()
	if err != nil {
		return nil, fmt.Errorf("error generating refresh token: %w", err)
	}

	next := account.WithSession(refreshToken, s.refresh.ExpiresAt(now), now)

	if err := repo.UpdateSession(ctx, next.ID, *next.RefreshToken, *next.RefreshTokenExpires, *next.LastLoginAt); err != nil {
		return nil, fmt.Errorf("error persisting session: %w", err)
	}

	return &Session{
		AccessToken:          accessToken,
		RefreshToken:         refreshToken,
		AccessTokenExpiresAt: now.Add(s.tokens.Validity()),
		Account:              next,
	}, nil
}

// checkFree verifies that no account matches the given lookup; any hit is
// reported as the supplied conflict error.
func (s *SessionService) checkFree(ctx context.Context, lookup func(context.Context, string) (*models.Account, error), value string, conflict error) error {
	_, err := lookup(ctx, value)
	if err == nil {
		return conflict
	}
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	s.logger.Error(ctx, "uniqueness check failed", "error", err.Error())
	return common.ErrorInternal
}
