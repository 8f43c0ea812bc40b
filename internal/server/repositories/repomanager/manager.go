package repomanager

import (
	"context"
	"database/sql"

	"github.com/dkravets/kinolog/internal/dbx"
	"github.com/dkravets/kinolog/internal/server/repositories/accounts"
)

// RepositoryManager vends repositories bound to a concrete database handle.
// Passing a dbx.DBTX at the call site lets the same manager serve both
// plain connections and open transactions.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
}
