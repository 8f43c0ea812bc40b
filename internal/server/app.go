// Package server initializes and runs the kinolog API server: it validates
// configuration, opens the database, applies migrations, and serves the
// session HTTP API until interrupted.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dkravets/kinolog/internal/logging"
	"github.com/dkravets/kinolog/internal/server/auth"
	"github.com/dkravets/kinolog/internal/server/config"
	"github.com/dkravets/kinolog/internal/server/httpapi"
	"github.com/dkravets/kinolog/internal/server/repositories/repomanager"
	"github.com/dkravets/kinolog/internal/server/services"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	repos   repomanager.RepositoryManager
	httpSrv *httpapi.Server
}

// NewApp wires the full server from configuration. A missing secret key or
// unreachable database is reported here, before anything starts listening.
func NewApp(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		SecretKey: cfg.SecretKey,
		Issuer:    cfg.TokenIssuer,
		Audience:  cfg.TokenAudience,
		Validity:  cfg.AccessTokenValidityDuration,
	})
	if err != nil {
		return nil, err
	}

	refresh := auth.NewRefreshManager(cfg.RefreshTokenValidityDuration)
	sessions := services.NewSessionService(db, rm, issuer, refresh, logger)
	httpSrv := httpapi.NewServer(cfg.EndpointAddrHTTP, logger, sessions, issuer)

	return &App{
		config:  cfg,
		logger:  logger,
		db:      db,
		repos:   rm,
		httpSrv: httpSrv,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run applies migrations and serves until the context is cancelled or a
// termination signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	if err := app.repos.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations error: %w", err)
	}

	var wg sync.WaitGroup
	var srvErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.httpSrv.Run(ctx); err != nil {
			srvErr = err
			app.logger.Error(ctx, "http server error", "error", err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}

	return srvErr
}
