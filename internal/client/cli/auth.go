package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dkravets/kinolog/internal/client/api"
	"github.com/dkravets/kinolog/internal/common"
)

// getSimpleText, getPassword, and getMultiline are indirections used to
// facilitate testing. They point to interactive input helpers and can be
// swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword
var getMultiline = GetMultiline

// Register prompts for the registration form and creates an account. On
// success the returned session is active immediately; no separate login is
// needed. The password byte slice is wiped before returning.
func (a *App) Register(ctx context.Context) error {
	username, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	fullName, err := getSimpleText(a.reader, "Enter full name (optional)", os.Stdout)
	if err != nil {
		return err
	}
	bio, err := getMultiline(a.reader, "Enter bio (optional)", os.Stdout)
	if err != nil {
		return err
	}

	session, err := a.api.Register(ctx, api.RegisterParams{
		Username: username,
		Email:    email,
		Password: string(password),
		FullName: fullName,
		Bio:      bio,
	})
	if err != nil {
		fmt.Println("Registration failed:", err)
		return err
	}

	a.userName = session.Account.Username
	fmt.Println("Welcome,", session.Account.Username)
	return nil
}

// Login prompts for credentials and authenticates. Every rejection prints
// the same generic message; the server does not say which part was wrong.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	session, err := a.api.Login(ctx, email, string(password))
	if err != nil {
		switch {
		case errors.Is(err, api.ErrUnauthorized):
			fmt.Println("Login failed: wrong email or password")
		case errors.Is(err, api.ErrUnavailable):
			fmt.Println("Server unavailable, try again later")
		default:
			fmt.Println("Login failed:", err)
		}
		return err
	}

	a.userName = session.Account.Username
	fmt.Println("Logged in as", session.Account.Username)
	return nil
}

// Refresh trades the current refresh token for a new session.
func (a *App) Refresh(ctx context.Context) error {
	session, err := a.api.Refresh(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			a.userName = ""
			fmt.Println("Session expired, please log in again")
		} else {
			fmt.Println("Refresh failed:", err)
		}
		return err
	}

	fmt.Println("Session refreshed, valid until", session.ExpiresAt.Local().Format("15:04:05"))
	return nil
}

// Whoami fetches and prints the current account's profile.
func (a *App) Whoami(ctx context.Context) error {
	account, err := a.api.Me(ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}

	fmt.Printf("%s <%s>\n", account.Username, account.Email)
	if account.FullName != "" {
		fmt.Println(account.FullName)
	}
	if account.Bio != "" {
		fmt.Println(account.Bio)
	}
	return nil
}

// Logout revokes the refresh token and clears the local session.
func (a *App) Logout(ctx context.Context) error {
	if err := a.api.Logout(ctx); err != nil {
		fmt.Println("Logout failed:", err)
		return err
	}
	a.userName = ""
	fmt.Println("Logged out")
	return nil
}
