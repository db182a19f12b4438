package e2e_test

import (
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/api"
	"github.com/gantryhq/gantry/cliauth"
	"github.com/gantryhq/gantry/oauth1"
)

// --- browser hand-off ---

func TestBrowserHandoff_FullFlow(t *testing.T) {
	h := newHarness(t)
	launcher := newCaptureLauncher()
	auth := h.newAuthenticator(t, launcher)

	require.NoError(t, auth.Authenticate(t.Context()))

	cliToken := cliTokenFrom(t, launcher.openedURL(t))

	// Unapproved tokens keep the poller cycling.
	require.Eventually(t, func() bool {
		return auth.Current().State == cliauth.StatePolling
	}, time.Second, time.Millisecond)

	h.approve(cliToken, approvedPair)
	require.NoError(t, auth.Wait())
	assert.Equal(t, cliauth.StateAuthenticated, auth.Current().State)

	stored, err := h.Store.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, approvedPair, stored)

	// The stored pair signs a request the platform accepts.
	self, err := h.signedClient(t).Self(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "e2e@gantry.dev", self.Email)
	assert.Equal(t, "usr_e2e", self.ID)
}

func TestBrowserHandoff_SecondLoginReplacesPair(t *testing.T) {
	h := newHarness(t)
	launcher := newCaptureLauncher()
	auth := h.newAuthenticator(t, launcher)

	require.NoError(t, auth.Authenticate(t.Context()))
	h.approve(cliTokenFrom(t, launcher.openedURL(t)), approvedPair)
	require.NoError(t, auth.Wait())

	// Logging in again runs a fresh hand-off with a fresh cli token
	// and replaces the stored pair wholesale.
	replacement := oauth1.OAuthCredentials{Token: "tok-e2e-2", Secret: "sec-e2e-2"}

	require.NoError(t, auth.Authenticate(t.Context()))
	secondToken := cliTokenFrom(t, launcher.openedURL(t))
	h.approve(secondToken, replacement)
	require.NoError(t, auth.Wait())

	stored, err := h.Store.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, replacement, stored)

	self, err := h.signedClient(t).Self(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "usr_e2e", self.ID)
}

func TestBrowserHandoff_SurvivesBrowserDismissal(t *testing.T) {
	h := newHarness(t)
	launcher := newCaptureLauncher()
	auth := h.newAuthenticator(t, launcher)

	require.NoError(t, auth.Authenticate(t.Context()))
	cliToken := cliTokenFrom(t, launcher.openedURL(t))

	require.Eventually(t, func() bool {
		return auth.Current().State == cliauth.StatePolling
	}, time.Second, time.Millisecond)

	// Closing the browser must not abort polling; approval can still
	// arrive from another device.
	auth.NotifyBrowserDismissed()
	h.approve(cliToken, approvedPair)

	require.NoError(t, auth.Wait())
	assert.Equal(t, cliauth.StateAuthenticated, auth.Current().State)
}

func TestBrowserHandoff_TimeoutWithoutApproval(t *testing.T) {
	h := newHarness(t)
	launcher := newCaptureLauncher()

	auth, err := cliauth.New(t.Context(), cliauth.Config{
		ConsoleHost:  consoleHost,
		APIHost:      h.APIURL,
		CLIVersion:   cliVersion,
		Store:        h.Store,
		Launcher:     launcher,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
		Logger:       slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	require.NoError(t, auth.Authenticate(t.Context()))
	launcher.openedURL(t)

	err = auth.Wait()
	require.ErrorIs(t, err, cliauth.ErrPollTimeout)
	assert.Equal(t, cliauth.StateFailed, auth.Current().State)

	// Nothing was stored, so no signer can be built.
	stored, err := h.Store.Load(t.Context())
	require.NoError(t, err)
	assert.False(t, stored.Valid())

	_, err = oauth1.NewSigner(h.consumer(), oauth1.Resolve(stored, ""))
	assert.ErrorIs(t, err, oauth1.ErrNoCredentials)
}

// --- signed requests against the platform ---

func TestSignedRequest_RejectedAfterRevocation(t *testing.T) {
	h := newHarness(t)
	launcher := newCaptureLauncher()
	auth := h.newAuthenticator(t, launcher)

	require.NoError(t, auth.Authenticate(t.Context()))
	h.approve(cliTokenFrom(t, launcher.openedURL(t)), approvedPair)
	require.NoError(t, auth.Wait())

	h.revoke()

	_, err := h.signedClient(t).Self(t.Context())
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unknown or revoked token", apiErr.Message)
}

func TestSignedRequest_WrongConsumerSecretRejected(t *testing.T) {
	h := newHarness(t)
	h.issue(approvedPair)

	signer, err := oauth1.NewSigner(
		oauth1.ConsumerCredentials{Key: consumerKey, Secret: "not-the-secret"},
		oauth1.OAuth(approvedPair),
	)
	require.NoError(t, err)

	_, err = api.NewClient(h.APIURL, signer, nil).Self(t.Context())
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "signature mismatch", apiErr.Message)
}

func TestLegacyBearerToken_Accepted(t *testing.T) {
	h := newHarness(t)

	signer, err := oauth1.NewSigner(h.consumer(), oauth1.Bearer(legacyToken))
	require.NoError(t, err)

	self, err := api.NewClient(h.APIURL, signer, nil).Self(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "usr_e2e", self.ID)
}

func TestLegacyBearerToken_UnknownRejected(t *testing.T) {
	h := newHarness(t)

	signer, err := oauth1.NewSigner(h.consumer(), oauth1.Bearer("stale-token"))
	require.NoError(t, err)

	_, err = api.NewClient(h.APIURL, signer, nil).Self(t.Context())
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

// --- logout ---

func TestLogout_RemovesStoredCredentials(t *testing.T) {
	h := newHarness(t)
	launcher := newCaptureLauncher()
	auth := h.newAuthenticator(t, launcher)

	require.NoError(t, auth.Authenticate(t.Context()))
	h.approve(cliTokenFrom(t, launcher.openedURL(t)), approvedPair)
	require.NoError(t, auth.Wait())

	require.NoError(t, auth.Logout(t.Context()))
	assert.Equal(t, cliauth.StateIdle, auth.Current().State)

	stored, err := h.Store.Load(t.Context())
	require.NoError(t, err)
	assert.False(t, stored.Valid())
}
