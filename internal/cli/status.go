package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/oauth1"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status and configuration",
		Long: `Status reports which credentials later commands would sign with and
where they would be sent. It never talks to the platform; use
"gantry whoami" to verify the credentials against the API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, opts)
		},
	}
}

func runStatus(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	creds, err := a.credentials(ctx)
	if err != nil {
		return err
	}

	var label string
	switch creds.Kind() {
	case oauth1.KindOAuth:
		label = text.FgGreen.Sprint("Authenticated (OAuth pair)")
	case oauth1.KindBearer:
		label = text.FgYellow.Sprint("Authenticated (legacy bearer token)")
	default:
		label = text.FgRed.Sprint("Not authenticated")
	}

	fmt.Fprintf(out, "Gantry CLI Status\n\n")
	fmt.Fprintf(out, "  Status:    %s\n", label)
	fmt.Fprintf(out, "  API:       %s\n", a.cfg.APIHost)
	fmt.Fprintf(out, "  Console:   %s\n", a.cfg.ConsoleHost)
	fmt.Fprintf(out, "  Data dir:  %s\n", a.cfg.DataDir)

	switch creds.Kind() {
	case oauth1.KindNone:
		fmt.Fprintf(out, "\nRun: gantry login\n")
	case oauth1.KindBearer:
		fmt.Fprintf(out, "\nLegacy token authentication is deprecated. Run: gantry login\n")
	}

	return nil
}
