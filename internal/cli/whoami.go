package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/oauth1"
)

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Verify credentials against the platform",
		Long: `Whoami sends a signed request to the identity endpoint and prints
who the platform thinks you are. A clean response proves the stored
credentials work end to end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWhoami(cmd, opts)
		},
	}
}

func runWhoami(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := a.apiClient(ctx)
	if err != nil {
		if errors.Is(err, oauth1.ErrNoCredentials) {
			fmt.Fprintln(out, "Not authenticated.")
			fmt.Fprintln(out, "Run: gantry login")
		}
		return err
	}

	self, err := client.Self(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "  ID:     %s\n", self.ID)
	fmt.Fprintf(out, "  Name:   %s\n", self.Name)
	fmt.Fprintf(out, "  Email:  %s\n", self.Email)
	return nil
}
