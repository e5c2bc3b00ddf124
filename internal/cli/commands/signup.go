package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stashd-dev/stashd/internal/cli/flow"
)

// NewSignupCmd creates the signup command
func NewSignupCmd() *cobra.Command {
	var name, email, password, endpointAlias string
	var enable2FA bool

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account, verify your email, and optionally enable 2FA",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(endpointAlias)
			if err != nil {
				return err
			}
			return runSignup(cmd, e, name, email, password, enable2FA)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Email address (or set STASHD_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set STASHD_PASSWORD, will prompt if not provided)")
	cmd.Flags().BoolVar(&enable2FA, "enable-2fa", false, "Enroll an authenticator app after email verification")
	cmd.Flags().StringVar(&endpointAlias, "endpoint", "", "Endpoint alias from stashd.json")

	return cmd
}

func runSignup(cmd *cobra.Command, e *env, name, email, password string, enable2FA bool) error {
	email = envOr(email, "STASHD_EMAIL")
	password = envOr(password, "STASHD_PASSWORD")

	if name == "" {
		return fmt.Errorf("name is required (use --name flag)")
	}
	if email == "" {
		return fmt.Errorf("email is required (use --email flag or STASHD_EMAIL env var)")
	}
	if password == "" {
		var err error
		if password, err = promptPassword("Password (min 6 characters)"); err != nil {
			return err
		}
	}

	if !enable2FA && !cmd.Flags().Changed("enable-2fa") {
		enable2FA = promptConfirm("Enable two-factor authentication")
	}

	signup := flow.NewSignupFlow(e.ctrl, flow.NewScheduler())

	fmt.Printf("Creating account on %s (%s)...\n", e.endpoint.Alias, e.endpoint.URL)
	err := signup.Submit(cmd.Context(), flow.RegisterInput{
		Name:     name,
		Email:    email,
		Password: password,
	}, enable2FA)
	if err != nil {
		return fmt.Errorf("signup failed: %w", err)
	}

	fmt.Printf("A verification code has been emailed to %s.\n", email)
	for signup.Step() == flow.StepVerifyEmail {
		code, err := promptCode("Verification code")
		if err != nil {
			return err
		}
		if err := signup.VerifyEmail(cmd.Context(), code); err != nil {
			fmt.Printf("✗ %v\n", err)
			continue
		}
	}
	fmt.Println("✓ Email verified.")

	if signup.Step() == flow.StepTOTPSetup {
		if err := runSignupTOTP(cmd, signup); err != nil {
			return err
		}
	}

	fmt.Println("✓ Account ready. Run 'stashd login' to sign in.")
	return nil
}

// runSignupTOTP walks the enrollment steps: show the QR material, wait for the
// user to scan it, then confirm with a live code
func runSignupTOTP(cmd *cobra.Command, signup *flow.SignupFlow) error {
	setup, err := signup.StartTOTP(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to start 2FA setup: %w", err)
	}

	fmt.Println("Add this secret to your authenticator app:")
	fmt.Printf("  Secret: %s\n", setup.Secret)
	fmt.Printf("  URI:    %s\n", setup.URI)

	if !promptConfirm("Added to your authenticator app") {
		return fmt.Errorf("2FA setup abandoned; run 'stashd totp setup' to retry")
	}
	if err := signup.ConfirmQRScanned(); err != nil {
		return err
	}

	for signup.Step() == flow.StepTOTPVerify {
		code, err := promptCode("Authenticator code")
		if err != nil {
			return err
		}
		recoveryCodes, err := signup.VerifyTOTP(cmd.Context(), code)
		if err != nil {
			// Wrong code: stay on this step, clear and re-prompt
			fmt.Printf("✗ %v\n", err)
			continue
		}

		fmt.Println("✓ Two-factor authentication enabled.")
		printRecoveryCodes(recoveryCodes)
	}
	return nil
}

func printRecoveryCodes(codes []string) {
	if len(codes) == 0 {
		return
	}
	fmt.Println("Store these recovery codes somewhere safe; each works once if you lose your authenticator:")
	for _, code := range codes {
		fmt.Printf("  %s\n", code)
	}
}
