package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd() *cobra.Command {
	var endpointAlias string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(endpointAlias)
			if err != nil {
				return err
			}

			if err := e.ctrl.Logout(); err != nil {
				return fmt.Errorf("failed to clear session: %w", err)
			}

			fmt.Println("✓ Logged out.")
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointAlias, "endpoint", "", "Endpoint alias from stashd.json")

	return cmd
}
