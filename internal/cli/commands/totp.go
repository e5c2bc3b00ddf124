package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stashd-dev/stashd/internal/cli/flow"
)

// NewTOTPCmd creates the totp command group for post-signup 2FA enrollment
func NewTOTPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Manage two-factor authentication",
	}

	cmd.AddCommand(newTOTPSetupCmd())
	cmd.AddCommand(newTOTPVerifyCmd())

	return cmd
}

func newTOTPSetupCmd() *cobra.Command {
	var email, endpointAlias string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Start authenticator enrollment and print the shared secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(endpointAlias)
			if err != nil {
				return err
			}

			email = envOr(email, "STASHD_EMAIL")
			if email == "" {
				return fmt.Errorf("email is required (use --email flag or STASHD_EMAIL env var)")
			}

			result, err := e.ctrl.SetupTOTP(cmd.Context(), flow.TOTPSetupInput{Email: email})
			if err != nil {
				return fmt.Errorf("failed to start 2FA setup: %w", err)
			}

			fmt.Println("Add this secret to your authenticator app, then run 'stashd totp verify':")
			fmt.Printf("  Secret: %s\n", result.Secret)
			fmt.Printf("  URI:    %s\n", result.URI)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set STASHD_EMAIL)")
	cmd.Flags().StringVar(&endpointAlias, "endpoint", "", "Endpoint alias from stashd.json")

	return cmd
}

func newTOTPVerifyCmd() *cobra.Command {
	var email, code, endpointAlias string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm enrollment with a live authenticator code",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(endpointAlias)
			if err != nil {
				return err
			}

			email = envOr(email, "STASHD_EMAIL")
			if email == "" {
				return fmt.Errorf("email is required (use --email flag or STASHD_EMAIL env var)")
			}

			if code == "" {
				if code, err = promptCode("Authenticator code"); err != nil {
					return err
				}
			}

			result, err := e.ctrl.VerifyTOTP(cmd.Context(), flow.TOTPVerifyInput{Email: email, Code: code})
			if err != nil {
				return fmt.Errorf("2FA verification failed: %w", err)
			}

			fmt.Println("✓ Two-factor authentication enabled.")
			printRecoveryCodes(result.RecoveryCodes)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set STASHD_EMAIL)")
	cmd.Flags().StringVar(&code, "code", "", "Six-digit code (will prompt if not provided)")
	cmd.Flags().StringVar(&endpointAlias, "endpoint", "", "Endpoint alias from stashd.json")

	return cmd
}
