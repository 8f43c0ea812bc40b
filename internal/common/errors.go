// Package common defines shared constants and sentinel errors used across
// client and server layers of kinolog. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Validation errors: caller's fault, detected before any crypto work.
	ErrValidation = errors.New("validation error")

	// Registration conflicts.
	ErrEmailExists    = errors.New("email already registered")
	ErrUsernameExists = errors.New("username already taken")

	// ErrUnauthorized is the coarse category exposed to callers. The
	// specific reasons below wrap it, so errors.Is(err, ErrUnauthorized)
	// holds for all of them. The external response surface maps every
	// variant to the same generic message; only logs keep the reason.
	ErrUnauthorized = errors.New("unauthorized")

	ErrAccountNotFound     = fmt.Errorf("%w: account not found", ErrUnauthorized)
	ErrAccountInactive     = fmt.Errorf("%w: account inactive", ErrUnauthorized)
	ErrInvalidCredentials  = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	ErrInvalidRefreshToken = fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	ErrRefreshTokenExpired = fmt.Errorf("%w: refresh token expired", ErrUnauthorized)

	// Auth errors (invalid or malformed access token).
	ErrInvalidToken = errors.New("invalid token")
)
