package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stashd-dev/stashd/internal/cli/flow"
)

// NewRecoverCmd creates the recover command group for password recovery
func NewRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover a forgotten password",
	}

	cmd.AddCommand(newRecoverRequestCmd())
	cmd.AddCommand(newRecoverConfirmCmd())

	return cmd
}

func newRecoverRequestCmd() *cobra.Command {
	var email, endpointAlias string

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Email a password reset link",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(endpointAlias)
			if err != nil {
				return err
			}

			email = envOr(email, "STASHD_EMAIL")
			if email == "" {
				return fmt.Errorf("email is required (use --email flag or STASHD_EMAIL env var)")
			}

			if _, err := e.ctrl.RequestPasswordReset(cmd.Context(), flow.PasswordResetRequestInput{Email: email}); err != nil {
				return fmt.Errorf("failed to request password reset: %w", err)
			}

			// Same message whether or not the account exists
			fmt.Printf("If an account exists for %s, a reset link has been emailed.\n", email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set STASHD_EMAIL)")
	cmd.Flags().StringVar(&endpointAlias, "endpoint", "", "Endpoint alias from stashd.json")

	return cmd
}

func newRecoverConfirmCmd() *cobra.Command {
	var token, endpointAlias string

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Set a new password with the token from the reset email",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(endpointAlias)
			if err != nil {
				return err
			}

			if token == "" {
				return fmt.Errorf("token is required (use --token flag)")
			}

			newPassword, err := promptPassword("New password (min 6 characters)")
			if err != nil {
				return err
			}
			confirm, err := promptPassword("Confirm new password")
			if err != nil {
				return err
			}

			// Mismatch is caught locally by the controller before any request
			if _, err := e.ctrl.ResetPassword(cmd.Context(), flow.ResetPasswordInput{
				Token:           token,
				NewPassword:     newPassword,
				ConfirmPassword: confirm,
			}); err != nil {
				return fmt.Errorf("password reset failed: %w", err)
			}

			fmt.Println("✓ Password updated. Run 'stashd login' to sign in.")
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Reset token from the email")
	cmd.Flags().StringVar(&endpointAlias, "endpoint", "", "Endpoint alias from stashd.json")

	return cmd
}
