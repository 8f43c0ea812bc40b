package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dkravets/kinolog/internal/client/api"
	"github.com/dkravets/kinolog/internal/client/config"
)

type fakeAPI struct {
	loggedIn bool

	session *api.Session
	account *api.Account
	err     error

	registerParams api.RegisterParams
	loginEmail     string
	loginPassword  string
	logoutCalled   bool
}

func (f *fakeAPI) LoggedIn() bool { return f.loggedIn }

func (f *fakeAPI) Register(ctx context.Context, params api.RegisterParams) (*api.Session, error) {
	f.registerParams = params
	return f.session, f.err
}

func (f *fakeAPI) Login(ctx context.Context, email, password string) (*api.Session, error) {
	f.loginEmail = email
	f.loginPassword = password
	return f.session, f.err
}

func (f *fakeAPI) Refresh(ctx context.Context) (*api.Session, error) {
	return f.session, f.err
}

func (f *fakeAPI) Logout(ctx context.Context) error {
	f.logoutCalled = true
	return f.err
}

func (f *fakeAPI) Me(ctx context.Context) (*api.Account, error) {
	return f.account, f.err
}

func stubInputs(t *testing.T, texts []string, password string) {
	t.Helper()

	origText, origPw, origMl := getSimpleText, getPassword, getMultiline
	t.Cleanup(func() {
		getSimpleText, getPassword, getMultiline = origText, origPw, origMl
	})

	i := 0
	getSimpleText = func(*bufio.Reader, string, io.Writer) (string, error) {
		if i >= len(texts) {
			return "", errors.New("unexpected prompt")
		}
		v := texts[i]
		i++
		return v, nil
	}
	getPassword = func(io.Writer) ([]byte, error) {
		return []byte(password), nil
	}
	getMultiline = func(*bufio.Reader, string, io.Writer) (string, error) {
		return "", nil
	}
}

func newTestApp(fake *fakeAPI) *App {
	return &App{
		config: &config.Config{ServerBaseURL: "http://test", RequestTimeout: time.Second},
		api:    fake,
		reader: bufio.NewReader(strings.NewReader("")),
	}
}

func testAPISession() *api.Session {
	return &api.Session{
		AccessToken:  "acc",
		RefreshToken: "ref",
		ExpiresAt:    time.Now().Add(15 * time.Minute),
		Account:      api.Account{ID: "acc-1", Username: "alice", Email: "alice@example.com"},
	}
}

func TestLogin_SetsUserName(t *testing.T) {
	stubInputs(t, []string{"alice@example.com"}, "pw")

	fake := &fakeAPI{session: testAPISession()}
	a := newTestApp(fake)

	if err := a.Login(context.Background()); err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if fake.loginEmail != "alice@example.com" || fake.loginPassword != "pw" {
		t.Fatalf("credentials passed wrong: %q %q", fake.loginEmail, fake.loginPassword)
	}
	if a.userName != "alice" {
		t.Fatalf("userName: %q", a.userName)
	}
}

func TestLogin_Rejected(t *testing.T) {
	stubInputs(t, []string{"alice@example.com"}, "wrong")

	fake := &fakeAPI{err: api.ErrUnauthorized}
	a := newTestApp(fake)

	if err := a.Login(context.Background()); !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if a.userName != "" {
		t.Fatalf("userName must stay empty, got %q", a.userName)
	}
}

func TestRegister_PassesForm(t *testing.T) {
	stubInputs(t, []string{"alice", "alice@example.com", "Alice A."}, "pw")

	fake := &fakeAPI{session: testAPISession()}
	a := newTestApp(fake)

	if err := a.Register(context.Background()); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	p := fake.registerParams
	if p.Username != "alice" || p.Email != "alice@example.com" || p.Password != "pw" || p.FullName != "Alice A." {
		t.Fatalf("params: %+v", p)
	}
	if a.userName != "alice" {
		t.Fatalf("userName: %q", a.userName)
	}
}

func TestRefresh_SessionExpiredClearsUser(t *testing.T) {
	fake := &fakeAPI{err: api.ErrUnauthorized}
	a := newTestApp(fake)
	a.userName = "alice"

	if err := a.Refresh(context.Background()); !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if a.userName != "" {
		t.Fatalf("userName must be cleared, got %q", a.userName)
	}
}

func TestLogout(t *testing.T) {
	fake := &fakeAPI{}
	a := newTestApp(fake)
	a.userName = "alice"

	if err := a.Logout(context.Background()); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if !fake.logoutCalled || a.userName != "" {
		t.Fatalf("logout state: called=%v userName=%q", fake.logoutCalled, a.userName)
	}
}

func TestWhoami(t *testing.T) {
	fake := &fakeAPI{account: &api.Account{Username: "alice", Email: "alice@example.com"}}
	a := newTestApp(fake)

	if err := a.Whoami(context.Background()); err != nil {
		t.Fatalf("Whoami error: %v", err)
	}
}
