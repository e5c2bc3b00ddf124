package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stashd-dev/stashd/internal/cli/client"
	"github.com/stashd-dev/stashd/internal/cli/flow"
	"github.com/stashd-dev/stashd/internal/cli/oauthcb"
)

// NewLoginCmd creates the login command
func NewLoginCmd() *cobra.Command {
	var email, password, totpCode, endpointAlias string
	var useOAuth, usePasscode bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a stashd endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(endpointAlias)
			if err != nil {
				return err
			}
			switch {
			case useOAuth:
				return runOAuthLogin(cmd, e)
			case usePasscode:
				return runPasscodeLogin(cmd, e, email)
			default:
				return runLogin(cmd, e, email, password, totpCode)
			}
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set STASHD_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set STASHD_PASSWORD, will prompt if not provided)")
	cmd.Flags().StringVar(&totpCode, "totp-code", "", "Six-digit authenticator code, if 2FA is enabled")
	cmd.Flags().StringVar(&endpointAlias, "endpoint", "", "Endpoint alias from stashd.json")
	cmd.Flags().BoolVar(&useOAuth, "oauth", false, "Sign in with Google in the browser")
	cmd.Flags().BoolVar(&usePasscode, "passcode", false, "Sign in with a one-time emailed code instead of a password")

	return cmd
}

func runLogin(cmd *cobra.Command, e *env, email, password, totpCode string) error {
	email = envOr(email, "STASHD_EMAIL")
	password = envOr(password, "STASHD_PASSWORD")

	if email == "" {
		return fmt.Errorf("email is required (use --email flag or STASHD_EMAIL env var)")
	}
	if password == "" {
		var err error
		if password, err = promptPassword("Password"); err != nil {
			return err
		}
	}

	fmt.Printf("Logging in to %s (%s)...\n", e.endpoint.Alias, e.endpoint.URL)

	result, err := e.ctrl.Login(cmd.Context(), flow.LoginInput{
		Email:    email,
		Password: password,
		TOTPCode: totpCode,
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	// Password accepted, second factor outstanding: challenge for the code and
	// submit again. A wrong code clears the entry and asks once more.
	for result.TOTPRequired {
		code, err := promptCode("Authenticator code")
		if err != nil {
			return err
		}
		result, err = e.ctrl.Login(cmd.Context(), flow.LoginInput{
			Email:    email,
			Password: password,
			TOTPCode: code,
		})
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				fmt.Printf("✗ %s\n", apiErr.Message)
				result = &flow.LoginResult{TOTPRequired: true}
				continue
			}
			return fmt.Errorf("login failed: %w", err)
		}
	}

	return printSignedIn(cmd, e)
}

func runPasscodeLogin(cmd *cobra.Command, e *env, email string) error {
	email = envOr(email, "STASHD_EMAIL")
	if email == "" {
		return fmt.Errorf("email is required (use --email flag or STASHD_EMAIL env var)")
	}

	if err := e.ctrl.RequestPasscode(cmd.Context(), flow.PasscodeInput{Email: email}); err != nil {
		return fmt.Errorf("failed to request sign-in code: %w", err)
	}
	fmt.Printf("If an account exists for %s, a sign-in code has been emailed.\n", email)

	code, err := promptCode("Sign-in code")
	if err != nil {
		return err
	}

	result, err := e.ctrl.VerifyEmail(cmd.Context(), flow.VerifyEmailInput{Email: email, Code: code})
	if err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	if !result.SignedIn {
		return fmt.Errorf("code accepted but no session was issued")
	}

	return printSignedIn(cmd, e)
}

func runOAuthLogin(cmd *cobra.Command, e *env) error {
	listener, err := oauthcb.NewListener()
	if err != nil {
		return err
	}
	defer listener.Close()

	loginURL := e.api.OAuthLoginURL(listener.RedirectURI())
	fmt.Println("Open this URL in your browser to sign in with Google:")
	fmt.Printf("  %s\n", loginURL)
	fmt.Println("Waiting for the browser to complete sign-in...")

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	result, err := listener.Wait(ctx)
	if err != nil {
		return fmt.Errorf("sign-in was not completed: %w", err)
	}

	if err := e.ctrl.HandleOAuthCallback(cmd.Context(), flow.OAuthCallbackInput{
		AccessToken: result.AccessToken,
		UserID:      result.UserID,
		Error:       result.Error,
	}); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	return printSignedIn(cmd, e)
}

// printSignedIn fetches the fresh session and reports who is signed in
func printSignedIn(cmd *cobra.Command, e *env) error {
	s := e.deriver.Current()
	if !s.Authenticated {
		s = e.deriver.Resolve(cmd.Context())
	}

	fmt.Println("✓ Login successful!")
	if s.User != nil {
		fmt.Printf("  User: %s (%s)\n", s.User.Name, s.User.Email)
		if s.User.TOTPEnabled {
			fmt.Println("  2FA: enabled")
		}
	}
	return nil
}
