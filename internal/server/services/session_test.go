package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dkravets/kinolog/internal/common"
	"github.com/dkravets/kinolog/internal/cryptox"
	"github.com/dkravets/kinolog/internal/dbx"
	"github.com/dkravets/kinolog/internal/logging"
	"github.com/dkravets/kinolog/internal/server/auth"
	"github.com/dkravets/kinolog/internal/server/models"
	accountsrepo "github.com/dkravets/kinolog/internal/server/repositories/accounts"
	"github.com/dkravets/kinolog/internal/server/repositories/repomanager"
)

// --- helpers ---

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newSessionService(t *testing.T, db *sql.DB, rm repomanager.RepositoryManager, opts ...SessionServiceOption) *SessionService {
	t.Helper()
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		SecretKey: "k",
		Issuer:    "kinolog",
		Audience:  "kinolog-clients",
		Validity:  15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewIssuer error: %v", err)
	}
	refresh := auth.NewRefreshManager(7 * 24 * time.Hour)
	return NewSessionService(db, rm, issuer, refresh, testLogger(), opts...)
}

// fakeAccountsRepo holds a single account and records session writes, so
// tests can assert what was persisted (or that nothing was).
type fakeAccountsRepo struct {
	account *models.Account
	getErr  error

	createOut *models.Account
	createErr error

	updateErr error
	clearErr  error

	updates []sessionUpdate
	cleared []string
}

type sessionUpdate struct {
	accountID    string
	refreshToken string
	expires      time.Time
	lastLogin    time.Time
}

func (f *fakeAccountsRepo) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.createOut != nil {
		return f.createOut, nil
	}
	out := *a
	out.ID = "new-id"
	out.CreatedAt = time.Now()
	f.account = &out
	return &out, nil
}

func (f *fakeAccountsRepo) get() (*models.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.account == nil {
		return nil, common.ErrorNotFound
	}
	a := *f.account
	return &a, nil
}

func (f *fakeAccountsRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return f.get()
}

func (f *fakeAccountsRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return f.get()
}

func (f *fakeAccountsRepo) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	return f.get()
}

func (f *fakeAccountsRepo) GetByRefreshToken(ctx context.Context, token string) (*models.Account, error) {
	return f.findByToken(token)
}

func (f *fakeAccountsRepo) GetByRefreshTokenForUpdate(ctx context.Context, token string) (*models.Account, error) {
	return f.findByToken(token)
}

func (f *fakeAccountsRepo) findByToken(token string) (*models.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.account == nil || f.account.RefreshToken == nil || *f.account.RefreshToken != token {
		return nil, common.ErrorNotFound
	}
	a := *f.account
	return &a, nil
}

func (f *fakeAccountsRepo) UpdateSession(ctx context.Context, accountID, refreshToken string, expires, lastLogin time.Time) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, sessionUpdate{accountID, refreshToken, expires, lastLogin})
	if f.account != nil && f.account.ID == accountID {
		next := f.account.WithSession(refreshToken, expires, lastLogin)
		f.account = &next
	}
	return nil
}

func (f *fakeAccountsRepo) ClearSession(ctx context.Context, accountID string) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.cleared = append(f.cleared, accountID)
	if f.account != nil && f.account.ID == accountID {
		next := f.account.WithoutSession()
		f.account = &next
	}
	return nil
}

type fakeRepoManager struct {
	a *fakeAccountsRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Accounts(db dbx.DBTX) accountsrepo.Repository { return m.a }

func activeAccount(t *testing.T, password string) *models.Account {
	t.Helper()
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	return &models.Account{
		ID:           "acc-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
		IsActive:     true,
	}
}

func withToken(a *models.Account, token string, expires time.Time) *models.Account {
	next := a.WithSession(token, expires, time.Now().Add(-time.Hour))
	return &next
}

// --- Register ---

func TestRegister_Success(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &fakeAccountsRepo{}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	session, err := s.Register(context.Background(), RegisterParams{
		Username: "alice", Email: "alice@example.com", Password: "s3cret",
	})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("empty tokens: %+v", session)
	}
	if session.Account.ID != "new-id" || !session.Account.IsActive {
		t.Fatalf("unexpected account snapshot: %+v", session.Account)
	}
	if len(repo.updates) != 1 || repo.updates[0].refreshToken != session.RefreshToken {
		t.Fatalf("session not persisted: %+v", repo.updates)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	s := newSessionService(t, db, &fakeRepoManager{a: &fakeAccountsRepo{}})

	cases := []RegisterParams{
		{Email: "a@b.c", Password: "p"},
		{Username: "a", Password: "p"},
		{Username: "a", Email: "a@b.c"},
		{Username: "a", Email: "not-an-email", Password: "p"},
	}
	for _, params := range cases {
		if _, err := s.Register(context.Background(), params); !errors.Is(err, common.ErrValidation) {
			t.Fatalf("params %+v: want ErrValidation, got %v", params, err)
		}
	}
}

func TestRegister_Conflicts(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	repo := &fakeAccountsRepo{account: activeAccount(t, "pw")}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	_, err := s.Register(context.Background(), RegisterParams{
		Username: "alice", Email: "alice@example.com", Password: "pw",
	})
	if !errors.Is(err, common.ErrEmailExists) {
		t.Fatalf("want ErrEmailExists, got %v", err)
	}
}

func TestRegister_CreateErr(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	repo := &fakeAccountsRepo{createErr: errBoom{}}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	_, err := s.Register(context.Background(), RegisterParams{
		Username: "bob", Email: "bob@example.com", Password: "pw",
	})
	if !errors.Is(err, common.ErrorInternal) {
		t.Fatalf("want ErrorInternal, got %v", err)
	}
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &fakeAccountsRepo{account: activeAccount(t, "correct horse")}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	session, err := s.Login(context.Background(), "alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("empty tokens: %+v", session)
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected one session write, got %d", len(repo.updates))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestLogin_RotatesRefreshToken(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &fakeAccountsRepo{account: activeAccount(t, "pw")}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	first, err := s.Login(context.Background(), "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := s.Login(context.Background(), "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if first.RefreshToken == second.RefreshToken {
		t.Fatal("refresh token was not rotated on second login")
	}
	// the first secret is no longer stored, so it cannot be redeemed
	if *repo.account.RefreshToken != second.RefreshToken {
		t.Fatalf("stored token is not the latest: %q", *repo.account.RefreshToken)
	}
}

func TestLogin_Rejections(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	// unknown email
	sNF := newSessionService(t, db, &fakeRepoManager{a: &fakeAccountsRepo{}})
	if _, err := sNF.Login(context.Background(), "ghost@example.com", "x"); !errors.Is(err, common.ErrAccountNotFound) {
		t.Fatalf("not found: got %v", err)
	}

	// wrong password
	repoWP := &fakeAccountsRepo{account: activeAccount(t, "right")}
	sWP := newSessionService(t, db, &fakeRepoManager{a: repoWP})
	if _, err := sWP.Login(context.Background(), "alice@example.com", "wrong"); !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", err)
	}
	if len(repoWP.updates) != 0 {
		t.Fatalf("failed login must not write: %+v", repoWP.updates)
	}

	// inactive account, correct password
	inactive := activeAccount(t, "pw")
	inactive.IsActive = false
	sIA := newSessionService(t, db, &fakeRepoManager{a: &fakeAccountsRepo{account: inactive}})
	if _, err := sIA.Login(context.Background(), "alice@example.com", "pw"); !errors.Is(err, common.ErrAccountInactive) {
		t.Fatalf("inactive: got %v", err)
	}

	// repository failure
	sIE := newSessionService(t, db, &fakeRepoManager{a: &fakeAccountsRepo{getErr: errBoom{}}})
	if _, err := sIE.Login(context.Background(), "alice@example.com", "pw"); !errors.Is(err, common.ErrorInternal) {
		t.Fatalf("internal: got %v", err)
	}
}

func TestLogin_AllRejectionsAreUnauthorized(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	inactive := activeAccount(t, "pw")
	inactive.IsActive = false

	repos := []*fakeAccountsRepo{
		{},                                    // not found
		{account: activeAccount(t, "other")},  // wrong password
		{account: inactive},                   // inactive
	}
	for i, repo := range repos {
		s := newSessionService(t, db, &fakeRepoManager{a: repo})
		_, err := s.Login(context.Background(), "alice@example.com", "pw")
		if !errors.Is(err, common.ErrUnauthorized) {
			t.Fatalf("case %d: every rejection must match ErrUnauthorized, got %v", i, err)
		}
	}
}

// --- Refresh ---

func TestRefresh_Success(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	account := withToken(activeAccount(t, "pw"), "tok-1", time.Now().Add(time.Hour))
	repo := &fakeAccountsRepo{account: account}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	session, err := s.Refresh(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" || session.RefreshToken == "tok-1" {
		t.Fatalf("bad session: %+v", session)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestRefresh_RedeemedTokenCannotBeReused(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()

	account := withToken(activeAccount(t, "pw"), "tok-1", time.Now().Add(time.Hour))
	repo := &fakeAccountsRepo{account: account}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	if _, err := s.Refresh(context.Background(), "tok-1"); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if _, err := s.Refresh(context.Background(), "tok-1"); !errors.Is(err, common.ErrInvalidRefreshToken) {
		t.Fatalf("second redemption of tok-1: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefresh_Expired(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	account := withToken(activeAccount(t, "pw"), "tok-old", time.Now().Add(-time.Minute))
	repo := &fakeAccountsRepo{account: account}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	_, err := s.Refresh(context.Background(), "tok-old")
	if !errors.Is(err, common.ErrRefreshTokenExpired) {
		t.Fatalf("want ErrRefreshTokenExpired, got %v", err)
	}
	if len(repo.updates) != 0 {
		t.Fatalf("expired redemption must not write: %+v", repo.updates)
	}
}

func TestRefresh_ExpiryBoundary(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	expires := time.Now().Add(time.Hour)
	account := withToken(activeAccount(t, "pw"), "tok-1", expires)
	repo := &fakeAccountsRepo{account: account}

	// clock frozen exactly at the expiry instant: the token is already invalid
	s := newSessionService(t, db, &fakeRepoManager{a: repo},
		WithSessionNow(func() time.Time { return expires }))

	_, err := s.Refresh(context.Background(), "tok-1")
	if !errors.Is(err, common.ErrRefreshTokenExpired) {
		t.Fatalf("at expiry instant: want ErrRefreshTokenExpired, got %v", err)
	}
}

func TestRefresh_UnknownToken(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	s := newSessionService(t, db, &fakeRepoManager{a: &fakeAccountsRepo{}})
	if _, err := s.Refresh(context.Background(), "nope"); !errors.Is(err, common.ErrInvalidRefreshToken) {
		t.Fatalf("want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefresh_EmptyToken(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	s := newSessionService(t, db, &fakeRepoManager{a: &fakeAccountsRepo{}})
	if _, err := s.Refresh(context.Background(), ""); !errors.Is(err, common.ErrInvalidRefreshToken) {
		t.Fatalf("want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefresh_InactiveAccount(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	account := withToken(activeAccount(t, "pw"), "tok-1", time.Now().Add(time.Hour))
	account.IsActive = false
	s := newSessionService(t, db, &fakeRepoManager{a: &fakeAccountsRepo{account: account}})

	if _, err := s.Refresh(context.Background(), "tok-1"); !errors.Is(err, common.ErrAccountInactive) {
		t.Fatalf("want ErrAccountInactive, got %v", err)
	}
}

func TestRefresh_FindErr(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	s := newSessionService(t, db, &fakeRepoManager{a: &fakeAccountsRepo{getErr: errBoom{}}})
	_, err := s.Refresh(context.Background(), "tok-1")
	if !errors.Is(err, common.ErrorInternal) {
		t.Fatalf("want ErrorInternal, got %v", err)
	}
}

func TestRefresh_UpdateErr(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	account := withToken(activeAccount(t, "pw"), "tok-1", time.Now().Add(time.Hour))
	repo := &fakeAccountsRepo{account: account, updateErr: errBoom{}}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	_, err := s.Refresh(context.Background(), "tok-1")
	if !errors.Is(err, common.ErrorInternal) {
		t.Fatalf("want ErrorInternal, got %v", err)
	}
}

func TestRegisterThenRefreshFlow(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit() // register
	mock.ExpectBegin()
	mock.ExpectCommit() // refresh with R1
	mock.ExpectBegin()
	mock.ExpectRollback() // reused R1

	repo := &fakeAccountsRepo{}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	registered, err := s.Register(context.Background(), RegisterParams{
		Username: "alice", Email: "alice@x.com", Password: "Secret123!",
	})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	r1 := registered.RefreshToken
	if *repo.account.RefreshToken != r1 {
		t.Fatalf("persisted secret %q, issued %q", *repo.account.RefreshToken, r1)
	}

	refreshed, err := s.Refresh(context.Background(), r1)
	if err != nil {
		t.Fatalf("Refresh(R1) error: %v", err)
	}
	if refreshed.RefreshToken == r1 {
		t.Fatal("rotation returned the same secret")
	}

	// R1 was superseded, not expired: it must no longer redeem
	if _, err := s.Refresh(context.Background(), r1); !errors.Is(err, common.ErrInvalidRefreshToken) {
		t.Fatalf("reused R1: want ErrInvalidRefreshToken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

// --- Logout / Account ---

func TestLogout(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	account := withToken(activeAccount(t, "pw"), "tok-1", time.Now().Add(time.Hour))
	repo := &fakeAccountsRepo{account: account}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	if err := s.Logout(context.Background(), "acc-1"); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if repo.account.RefreshToken != nil {
		t.Fatal("refresh token not cleared")
	}

	if err := s.Logout(context.Background(), ""); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("empty id: want ErrValidation, got %v", err)
	}

	sNF := newSessionService(t, db, &fakeRepoManager{a: &fakeAccountsRepo{clearErr: common.ErrorNotFound}})
	if err := sNF.Logout(context.Background(), "ghost"); !errors.Is(err, common.ErrAccountNotFound) {
		t.Fatalf("unknown id: want ErrAccountNotFound, got %v", err)
	}
}

func TestAccount(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	repo := &fakeAccountsRepo{account: activeAccount(t, "pw")}
	s := newSessionService(t, db, &fakeRepoManager{a: repo})

	account, err := s.Account(context.Background(), "acc-1")
	if err != nil || account.Username != "alice" {
		t.Fatalf("Account: got (%+v, %v)", account, err)
	}

	sNF := newSessionService(t, db, &fakeRepoManager{a: &fakeAccountsRepo{}})
	if _, err := sNF.Account(context.Background(), "ghost"); !errors.Is(err, common.ErrAccountNotFound) {
		t.Fatalf("want ErrAccountNotFound, got %v", err)
	}
}

func TestStartSession_AccessTokenExpiry(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeAccountsRepo{account: activeAccount(t, "pw")}
	s := newSessionService(t, db, &fakeRepoManager{a: repo},
		WithSessionNow(func() time.Time { return frozen }))

	session, err := s.Login(context.Background(), "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if want := frozen.Add(15 * time.Minute); !session.AccessTokenExpiresAt.Equal(want) {
		t.Fatalf("access expiry: want %v, got %v", want, session.AccessTokenExpiresAt)
	}
	if want := frozen.Add(7 * 24 * time.Hour); !repo.updates[0].expires.Equal(want) {
		t.Fatalf("refresh expiry: want %v, got %v", want, repo.updates[0].expires)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(session.RefreshToken) {
		t.Fatalf("refresh token is not 64 hex chars: %q", session.RefreshToken)
	}
}
