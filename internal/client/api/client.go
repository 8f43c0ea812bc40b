// Package api is the HTTP client for the kinolog server. It keeps the
// current token pair in memory and refreshes it explicitly on request.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("already exists")
	ErrBadRequest   = errors.New("bad request")
)

// Account is the profile representation returned by the server.
type Account struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name,omitempty"`
	Bio         string     `json:"bio,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Session is the token pair handed out on register, login, and refresh.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Account      Account   `json:"account"`
}

// RegisterParams carries the registration form.
type RegisterParams struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
	Bio      string `json:"bio,omitempty"`
}

// Client talks to the kinolog HTTP API. It is not safe for concurrent use;
// the CLI drives it from a single goroutine.
type Client struct {
	baseURL      string
	http         *http.Client
	accessToken  string
	refreshToken string
}

// NewClient builds a Client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// LoggedIn reports whether the client currently holds an access token.
func (c *Client) LoggedIn() bool {
	return c.accessToken != ""
}

// Register creates an account and stores the returned token pair.
func (c *Client) Register(ctx context.Context, params RegisterParams) (*Session, error) {
	return c.openSession(ctx, "/api/register", params)
}

// Login authenticates and stores the returned token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	return c.openSession(ctx, "/api/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Refresh trades the stored refresh token for a new pair. The old refresh
// token is invalid after this call regardless of outcome on our side; on a
// 401 the stored pair is dropped and the user has to log in again.
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	if c.refreshToken == "" {
		return nil, ErrUnauthorized
	}
	session, err := c.openSession(ctx, "/api/refresh", map[string]string{
		"refresh_token": c.refreshToken,
	})
	if errors.Is(err, ErrUnauthorized) {
		c.clearSession()
	}
	return session, err
}

// Logout revokes the refresh token server-side and drops the stored pair.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/logout", nil, nil)
	c.clearSession()
	return err
}

// Me returns the authenticated account's profile.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	var account Account
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *Client) openSession(ctx context.Context, path string, body any) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, path, body, &session); err != nil {
		return nil, err
	}
	c.accessToken = session.AccessToken
	c.refreshToken = session.RefreshToken
	return &session, nil
}

func (c *Client) clearSession() {
	c.accessToken = ""
	c.refreshToken = ""
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error == "" {
		body.Error = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, body.Error)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, body.Error)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, body.Error)
	default:
		return fmt.Errorf("server error: %s", body.Error)
	}
}
