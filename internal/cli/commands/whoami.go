package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd() *cobra.Command {
	var endpointAlias string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(endpointAlias)
			if err != nil {
				return err
			}

			user, err := requireSession(cmd.Context(), e)
			if err != nil {
				return err
			}

			fmt.Printf("%s (%s)\n", user.Name, user.Email)
			fmt.Printf("  Endpoint: %s (%s)\n", e.endpoint.Alias, e.endpoint.URL)
			if user.TOTPEnabled {
				fmt.Println("  2FA: enabled")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointAlias, "endpoint", "", "Endpoint alias from stashd.json")

	return cmd
}
