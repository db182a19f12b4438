// Package cli implements the gantry command tree. Commands wire the
// credential store, the browser hand-off flow, and the signed API
// client together; all domain behavior lives in the packages they call.
package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/api"
	"github.com/gantryhq/gantry/cliauth"
	"github.com/gantryhq/gantry/oauth1"
)

// Exit codes returned by the gantry binary.
const (
	// ExitCodeSuccess means the command completed.
	ExitCodeSuccess = 0
	// ExitCodeError covers generic failures.
	ExitCodeError = 1
	// ExitCodeAuthRequired means no usable credentials are configured
	// or the platform rejected the ones that are.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed means an authentication flow ran and failed.
	ExitCodeAuthFailed = 3
)

// rootOptions carries state shared across the command tree.
type rootOptions struct {
	version string
	verbose bool
}

// newRootCmd builds the gantry command tree.
func newRootCmd(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	root := &cobra.Command{
		Use:   "gantry",
		Short: "Command-line client for the Gantry platform",
		Long: `gantry talks to the Gantry platform over its signed HTTP API.

Authentication happens in the browser: "gantry login" opens the web
console, you approve the CLI there, and the credential pair is handed
back and stored encrypted for every later command.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(`{{printf "gantry version %s\n" .Version}}`)
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"enable debug logging")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newStatusCmd(opts),
		newWhoamiCmd(opts),
	)

	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, version string) int {
	if err := newRootCmd(version).ExecuteContext(ctx); err != nil {
		return exitCode(err)
	}
	return ExitCodeSuccess
}

// exitCode maps an error to the exit code contract: missing or
// rejected credentials ask for authentication, a failed hand-off flow
// reports itself, everything else is a generic failure.
func exitCode(err error) int {
	var (
		exchangeErr *cliauth.ExchangeError
		apiErr      *api.APIError
	)
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, oauth1.ErrNoCredentials):
		return ExitCodeAuthRequired
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized:
		return ExitCodeAuthRequired
	case errors.Is(err, cliauth.ErrPollTimeout), errors.As(err, &exchangeErr):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}
