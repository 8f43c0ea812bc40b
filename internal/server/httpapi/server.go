// Package httpapi exposes the session lifecycle over a JSON HTTP API:
// registration, login, refresh-token rotation, logout, and the current
// account profile.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkravets/kinolog/internal/logging"
	"github.com/dkravets/kinolog/internal/server/auth"
	"github.com/dkravets/kinolog/internal/server/models"
	"github.com/dkravets/kinolog/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

// sessionService is the slice of services.SessionService the handlers need.
type sessionService interface {
	Register(ctx context.Context, params services.RegisterParams) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.Session, error)
	Logout(ctx context.Context, accountID string) error
	Account(ctx context.Context, accountID string) (*models.Account, error)
}

// Server is the HTTP front of the session service.
type Server struct {
	addr     string
	logger   logging.Logger
	sessions sessionService
	tokens   *auth.Issuer
	srv      *http.Server
}

// NewServer wires the session service and token issuer into an HTTP server
// listening on addr.
func NewServer(addr string, logger logging.Logger, sessions sessionService, tokens *auth.Issuer) *Server {
	s := &Server{
		addr:     addr,
		logger:   logger.With("module", "httpapi"),
		sessions: sessions,
		tokens:   tokens,
	}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("GET /api/me", s.requireAuth(s.handleMe))
	return s.logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully. A listen
// failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info(ctx, "http server starting", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		s.logger.Info(ctx, "http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
