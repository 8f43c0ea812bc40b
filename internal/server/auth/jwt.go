// Package auth implements the token side of the session lifecycle: signed
// access tokens (JWT, HS256) and opaque refresh secrets.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the claim set embedded in every access token: the registered
// claims plus the account's display name and email.
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// IssuerConfig carries everything an Issuer needs. All fields except
// Validity are required; passing them explicitly (instead of reading
// ambient configuration) keeps startup validation in one place.
type IssuerConfig struct {
	SecretKey string
	Issuer    string
	Audience  string
	Validity  time.Duration
}

// Issuer mints and validates access tokens. Tokens are self-contained and
// self-verifying, so validating a request never touches storage.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	validity time.Duration
	now      func() time.Time
}

// IssuerOption adjusts an Issuer after construction.
type IssuerOption func(*Issuer)

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer validates the config and builds an Issuer. Missing secret,
// issuer, or audience is a startup error, not something to discover on the
// first request.
func NewIssuer(cfg IssuerConfig, opts ...IssuerOption) (*Issuer, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("auth: secret key is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("auth: issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("auth: audience is required")
	}

	validity := cfg.Validity
	if validity == 0 {
		validity = 15 * time.Minute
	}

	i := &Issuer{
		secret:   []byte(cfg.SecretKey),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		validity: validity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a fresh access token for the account. Every token gets its
// own jti, so two tokens for the same account are never byte-identical.
func (i *Issuer) Issue(accountID, username, email string) (string, error) {
	now := i.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.validity)),
			ID:        uuid.NewString(),
		},
		Name:  username,
		Email: email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate reports whether the token's signature, issuer, audience, and
// expiry all check out. There is no leeway: a token expired by one second
// is invalid. Any parse or verification failure yields false, never an
// error or panic, since the input is attacker-controlled.
func (i *Issuer) Validate(tokenString string) bool {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	return err == nil && token.Valid
}

// AccountID extracts the subject claim without verifying the signature.
// Intended for non-security-critical lookups only; callers that authorize
// anything must go through Validate first.
func (i *Issuer) AccountID(tokenString string) (string, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return "", false
	}
	if claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// Claim extracts a single string claim by name without verifying the
// signature. Returns ok=false on any parse failure or non-string claim.
func (i *Issuer) Claim(tokenString, name string) (string, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return "", false
	}
	v, ok := claims[name].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Validity exposes the configured access-token lifetime so callers can
// report an absolute expiry timestamp to clients.
func (i *Issuer) Validity() time.Duration {
	return i.validity
}
