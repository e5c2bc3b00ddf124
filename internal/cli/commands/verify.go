package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stashd-dev/stashd/internal/cli/flow"
)

// NewVerifyCmd creates the verify command for standalone email verification
func NewVerifyCmd() *cobra.Command {
	var email, code, endpointAlias string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify your email address with an emailed code",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(endpointAlias)
			if err != nil {
				return err
			}
			return runVerify(cmd, e, email, code)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set STASHD_EMAIL)")
	cmd.Flags().StringVar(&code, "code", "", "Six-digit code (will prompt if not provided)")
	cmd.Flags().StringVar(&endpointAlias, "endpoint", "", "Endpoint alias from stashd.json")

	return cmd
}

func runVerify(cmd *cobra.Command, e *env, email, code string) error {
	email = envOr(email, "STASHD_EMAIL")
	if email == "" {
		return fmt.Errorf("email is required (use --email flag or STASHD_EMAIL env var)")
	}

	if code == "" {
		var err error
		if code, err = promptCode("Verification code"); err != nil {
			return err
		}
	}

	result, err := e.ctrl.VerifyEmail(cmd.Context(), flow.VerifyEmailInput{Email: email, Code: code})
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	fmt.Println("✓ Email verified.")
	if result.SignedIn {
		return printSignedIn(cmd, e)
	}
	return nil
}
