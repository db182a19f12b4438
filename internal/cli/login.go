package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/cliauth"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate this CLI through the browser",
		Long: `Login opens the Gantry console in your browser. Approving the CLI
there hands a credential pair back to this machine, where it is stored
encrypted under the data directory and used to sign every later
request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, opts, noBrowser)
		},
	}

	cmd.Flags().BoolVar(&noBrowser, "no-browser", false,
		"print the approval URL instead of opening a browser")

	return cmd
}

func runLogin(cmd *cobra.Command, opts *rootOptions, noBrowser bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	var launcher cliauth.BrowserLauncher = cliauth.ExecLauncher{}
	if noBrowser {
		launcher = silentLauncher{}
	}

	auth, err := a.authenticator(ctx, launcher)
	if err != nil {
		return err
	}

	if auth.Current().State == cliauth.StateAuthenticated {
		fmt.Fprintln(out, "Already logged in; approving again replaces the stored credentials.")
	}

	events, unsubscribe := auth.Subscribe()
	defer unsubscribe()

	if err := auth.Authenticate(ctx); err != nil {
		return fmt.Errorf("starting authentication: %w", err)
	}

	if noBrowser {
		fmt.Fprintf(out, "Open this URL in your browser to approve the CLI:\n  %s\n\n",
			auth.Current().ConsoleURL)
	} else {
		fmt.Fprintln(out, "Opening your browser to approve this CLI...")
	}

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
		spinner.WithWriter(cmd.ErrOrStderr()))
	sp.Suffix = " Waiting for approval in your browser..."
	sp.Start()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev := <-events:
				narrateLoginEvent(out, sp, ev, a.cfg.PollAttempts)
			case <-done:
				return
			}
		}
	}()

	err = auth.Wait()
	close(done)
	sp.Stop()

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(out, "Login cancelled.")
		return nil
	case errors.Is(err, cliauth.ErrPollTimeout):
		fmt.Fprintf(out, "%s Approval timed out.\n", text.FgRed.Sprint("✗"))
		fmt.Fprintln(out, "Run: gantry login and approve the CLI in the browser tab it opens.")
		return err
	default:
		fmt.Fprintf(out, "%s Login failed: %v\n", text.FgRed.Sprint("✗"), err)
		return err
	}

	fmt.Fprintf(out, "%s Logged in.\n", text.FgGreen.Sprint("✓"))

	// Identity lookup is decoration; the credentials are already
	// stored either way.
	client, err := a.apiClient(ctx)
	if err != nil {
		return nil
	}
	if self, err := client.Self(ctx); err == nil {
		fmt.Fprintf(out, "Authenticated as %s <%s>.\n", self.Name, self.Email)
	}

	return nil
}

// narrateLoginEvent keeps the spinner text in step with the hand-off
// flow and surfaces the approval URL when the browser could not open.
func narrateLoginEvent(out io.Writer, sp *spinner.Spinner, ev cliauth.Event, maxAttempts int) {
	switch ev.Kind {
	case cliauth.EventBrowserOpenFailed:
		sp.Stop()
		fmt.Fprintf(out, "Could not open a browser automatically.\nOpen this URL to continue:\n  %s\n\n", ev.URL)
		sp.Start()
	case cliauth.EventBrowserDismissed:
		sp.Suffix = " Browser closed; still waiting for approval..."
	case cliauth.EventPollAttempt:
		sp.Suffix = fmt.Sprintf(" Waiting for approval in your browser... (check %d/%d)",
			ev.Attempt, maxAttempts)
	}
}
