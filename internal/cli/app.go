package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gantryhq/gantry/api"
	"github.com/gantryhq/gantry/cliauth"
	"github.com/gantryhq/gantry/internal/config"
	"github.com/gantryhq/gantry/internal/credstore"
	"github.com/gantryhq/gantry/internal/logging"
	"github.com/gantryhq/gantry/oauth1"
)

// app bundles what every command starts from: resolved configuration,
// a logger, and the opened credential store. Close releases the store.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *credstore.Store
	version string
}

func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, opts.verbose)

	store, err := credstore.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	return &app{cfg: cfg, logger: logger, store: store, version: opts.version}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) consumer() oauth1.ConsumerCredentials {
	return oauth1.ConsumerCredentials{Key: a.cfg.ConsumerKey, Secret: a.cfg.ConsumerSecret}
}

// credentials resolves the stored pair and the legacy token into the
// variant requests will authenticate with.
func (a *app) credentials(ctx context.Context) (oauth1.Credentials, error) {
	pair, err := a.store.Load(ctx)
	if err != nil {
		return oauth1.None(), fmt.Errorf("loading stored credentials: %w", err)
	}
	return oauth1.Resolve(pair, a.cfg.APIToken), nil
}

// apiClient builds a signed API client. Without any usable credentials
// this fails with oauth1.ErrNoCredentials.
func (a *app) apiClient(ctx context.Context) (*api.Client, error) {
	creds, err := a.credentials(ctx)
	if err != nil {
		return nil, err
	}

	signer, err := oauth1.NewSigner(a.consumer(), creds, oauth1.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}

	return api.NewClient(a.cfg.APIHost, signer, nil), nil
}

// authenticator wires the browser hand-off state machine around the
// credential store.
func (a *app) authenticator(ctx context.Context, launcher cliauth.BrowserLauncher) (*cliauth.Authenticator, error) {
	return cliauth.New(ctx, cliauth.Config{
		ConsoleHost:  a.cfg.ConsoleHost,
		APIHost:      a.cfg.APIHost,
		CLIVersion:   a.version,
		Store:        a.store,
		Launcher:     launcher,
		PollInterval: a.cfg.PollInterval,
		MaxAttempts:  a.cfg.PollAttempts,
		Logger:       a.logger,
	})
}

// silentLauncher never opens anything. Used for --no-browser, where
// the login command prints the approval URL itself, and for commands
// that construct the state machine without starting a flow.
type silentLauncher struct{}

func (silentLauncher) Open(context.Context, string) error { return nil }
