package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkravets/kinolog/internal/common"
	"github.com/dkravets/kinolog/internal/dbx"
	"github.com/dkravets/kinolog/internal/server/models"
)

const accountColumns = `id, username, email, password_hash, full_name, bio, is_active,
		       refresh_token, refresh_token_expires_at, last_login_at, created_at`

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query := `
		INSERT INTO accounts (username, email, password_hash, full_name, bio, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		account.Username, account.Email, account.PasswordHash,
		account.FullName, account.Bio, account.IsActive,
	).Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1
	`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE lower(email) = lower($1)
	`
	return r.getOne(ctx, query, email)
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE lower(username) = lower($1)
	`
	return r.getOne(ctx, query, username)
}

func (r *PostgresRepository) GetByRefreshToken(ctx context.Context, token string) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE refresh_token = $1
	`
	return r.getOne(ctx, query, token)
}

// GetByRefreshTokenForUpdate only makes sense on a transactional handle:
// the FOR UPDATE lock is released at commit/rollback.
func (r *PostgresRepository) GetByRefreshTokenForUpdate(ctx context.Context, token string) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE refresh_token = $1
		FOR UPDATE
	`
	return r.getOne(ctx, query, token)
}

func (r *PostgresRepository) UpdateSession(ctx context.Context, accountID, refreshToken string, expires, lastLogin time.Time) error {
	query := `
		UPDATE accounts
		SET refresh_token = $2, refresh_token_expires_at = $3, last_login_at = $4
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, accountID, refreshToken, expires, lastLogin)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return r.checkAffected(res)
}

func (r *PostgresRepository) ClearSession(ctx context.Context, accountID string) error {
	query := `
		UPDATE accounts
		SET refresh_token = NULL, refresh_token_expires_at = NULL
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return r.checkAffected(res)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.Account, error) {
	account := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID, &account.Username, &account.Email, &account.PasswordHash,
		&account.FullName, &account.Bio, &account.IsActive,
		&account.RefreshToken, &account.RefreshTokenExpires,
		&account.LastLoginAt, &account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return account, nil
}

func (r *PostgresRepository) checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
