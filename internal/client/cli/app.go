// Package cli implements the interactive kinolog command-line client: a
// small REPL over the server's session API.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/dkravets/kinolog/internal/client/api"
	"github.com/dkravets/kinolog/internal/client/config"
)

// apiClient is the slice of api.Client the CLI commands need.
type apiClient interface {
	LoggedIn() bool
	Register(ctx context.Context, params api.RegisterParams) (*api.Session, error)
	Login(ctx context.Context, email, password string) (*api.Session, error)
	Refresh(ctx context.Context) (*api.Session, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*api.Account, error)
}

type App struct {
	config   *config.Config
	api      apiClient
	userName string
	reader   *bufio.Reader
}

func NewApp(c *config.Config) (*App, error) {
	client := api.NewClient(c.ServerBaseURL, c.RequestTimeout)
	return &App{config: c, api: client, reader: bufio.NewReader(os.Stdin)}, nil
}

func (a *App) isLoggedIn() bool {
	return a.api.LoggedIn()
}

func (a *App) getStatus() string {
	if a.userName == "" {
		return ""
	}
	return fmt.Sprintf("(%s)", a.userName)
}

func (a *App) Run(ctx context.Context) {
	fmt.Println("Welcome to kinolog CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.getStatus, scanner)
}
