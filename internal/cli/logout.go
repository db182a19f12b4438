package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/cliauth"
)

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored credential pair",
		Long: `Logout deletes the credential pair stored by "gantry login". The
approval granted in the console is untouched; revoke it there to
invalidate the pair everywhere.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogout(cmd, opts)
		},
	}
}

func runLogout(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	auth, err := a.authenticator(ctx, silentLauncher{})
	if err != nil {
		return err
	}

	hadPair := auth.Current().State == cliauth.StateAuthenticated
	if err := auth.Logout(ctx); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}

	if !hadPair {
		fmt.Fprintln(out, "No stored credentials; nothing to do.")
		return nil
	}

	fmt.Fprintln(out, "Logged out. Stored credentials deleted.")
	return nil
}
