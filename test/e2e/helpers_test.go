package e2e_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gantryhq/gantry/api"
	"github.com/gantryhq/gantry/cliauth"
	"github.com/gantryhq/gantry/internal/credstore"
	"github.com/gantryhq/gantry/oauth1"
)

const (
	consumerKey    = "gantry-cli"
	consumerSecret = "e2e-consumer-secret"
	cliVersion     = "e2e"
	consoleHost    = "https://console.e2e.test"
	legacyToken    = "legacy-e2e-token"
)

var approvedPair = oauth1.OAuthCredentials{Token: "tok-e2e", Secret: "sec-e2e"}

// harness stands in for the platform: an HTTP server exposing the
// token-exchange and identity endpoints, plus the real credential
// store in a temp directory. Signed requests to the identity endpoint
// are verified by recomputing the signature server-side.
type harness struct {
	APIURL  string
	DataDir string
	Store   *credstore.Store

	mu       sync.Mutex
	approved map[string]oauth1.OAuthCredentials // cli token -> deposited pair
	issued   oauth1.OAuthCredentials            // pair the platform currently honors
}

// newHarness starts the fake platform and opens a fresh credential
// store under a temp directory.
func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{approved: make(map[string]oauth1.OAuthCredentials)}

	ts := httptest.NewServer(h.handler())
	t.Cleanup(ts.Close)
	h.APIURL = ts.URL

	h.DataDir = t.TempDir()
	store, err := credstore.Open(h.DataDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	h.Store = store

	return h
}

func (h *harness) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/self/cli_tokens", h.handleExchange)
	mux.HandleFunc("/v2/self", h.handleSelf)
	return mux
}

// handleExchange plays the platform side of polling: 404 until the
// console deposits a pair for the cli token, then the pair as JSON.
func (h *harness) handleExchange(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	pair, ok := h.approved[r.URL.Query().Get("cli_token")]
	h.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(pair)
}

// handleSelf is the signed identity endpoint. OAuth requests are
// accepted only when the recomputed signature matches; the legacy
// bearer token is accepted as-is.
func (h *harness) handleSelf(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")

	if strings.HasPrefix(auth, "Bearer ") {
		if strings.TrimPrefix(auth, "Bearer ") != legacyToken {
			writeAuthError(w, "unknown bearer token")
			return
		}
		writeIdentity(w)
		return
	}

	h.mu.Lock()
	issued := h.issued
	h.mu.Unlock()

	if err := verifySignature(r, issued); err != nil {
		writeAuthError(w, err.Error())
		return
	}
	writeIdentity(w)
}

func writeIdentity(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]string{
		"id":    "usr_e2e",
		"email": "e2e@gantry.dev",
		"name":  "E2E Harness",
	})
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg},
	})
}

// approve deposits a token pair for cliToken, as the console does when
// the user clicks approve, and makes it the pair the platform honors.
func (h *harness) approve(cliToken string, pair oauth1.OAuthCredentials) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.approved[cliToken] = pair
	h.issued = pair
}

// issue makes pair the one the platform honors, without a hand-off.
func (h *harness) issue(pair oauth1.OAuthCredentials) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.issued = pair
}

// revoke makes the platform reject every previously issued pair.
func (h *harness) revoke() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.issued = oauth1.OAuthCredentials{}
}

// newAuthenticator wires a real Authenticator against the fake
// platform with a tight polling cadence.
func (h *harness) newAuthenticator(t *testing.T, launcher cliauth.BrowserLauncher) *cliauth.Authenticator {
	t.Helper()

	auth, err := cliauth.New(t.Context(), cliauth.Config{
		ConsoleHost:  consoleHost,
		APIHost:      h.APIURL,
		CLIVersion:   cliVersion,
		Store:        h.Store,
		Launcher:     launcher,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  200,
		Logger:       slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	return auth
}

// signedClient builds the API client exactly as the CLI would from
// whatever the store currently holds.
func (h *harness) signedClient(t *testing.T) *api.Client {
	t.Helper()

	pair, err := h.Store.Load(t.Context())
	require.NoError(t, err)

	signer, err := oauth1.NewSigner(h.consumer(), oauth1.Resolve(pair, ""))
	require.NoError(t, err)

	return api.NewClient(h.APIURL, signer, nil)
}

func (h *harness) consumer() oauth1.ConsumerCredentials {
	return oauth1.ConsumerCredentials{Key: consumerKey, Secret: consumerSecret}
}

// captureLauncher records opened URLs instead of launching a browser,
// handing the console hand-off URL to the test.
type captureLauncher struct {
	urls chan string
}

func newCaptureLauncher() *captureLauncher {
	return &captureLauncher{urls: make(chan string, 1)}
}

func (l *captureLauncher) Open(_ context.Context, rawURL string) error {
	l.urls <- rawURL
	return nil
}

// openedURL waits for the launcher to receive the hand-off URL.
func (l *captureLauncher) openedURL(t *testing.T) string {
	t.Helper()

	select {
	case u := <-l.urls:
		return u
	case <-time.After(time.Second):
		t.Fatal("browser was never launched")
		return ""
	}
}

// cliTokenFrom checks the hand-off URL shape and extracts the cli
// token the console would read from it.
func cliTokenFrom(t *testing.T, rawURL string) string {
	t.Helper()

	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	require.Equal(t, consoleHost+"/cli-oauth", u.Scheme+"://"+u.Host+u.Path)
	require.Equal(t, cliVersion, u.Query().Get("cli_version"))

	token := u.Query().Get("cli_token")
	require.NotEmpty(t, token)

	return token
}

// verifySignature recomputes the OAuth signature for r the way the
// platform would: same consumer pair, same issued token pair, and the
// timestamp and nonce taken from the request itself.
func verifySignature(r *http.Request, issued oauth1.OAuthCredentials) error {
	params, err := parseOAuthHeader(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}

	if params["oauth_version"] != oauth1.Version {
		return fmt.Errorf("unexpected oauth_version %q", params["oauth_version"])
	}
	if params["oauth_signature_method"] != oauth1.SignatureMethod {
		return fmt.Errorf("unexpected oauth_signature_method %q", params["oauth_signature_method"])
	}
	if params["oauth_consumer_key"] != consumerKey {
		return errors.New("unknown consumer key")
	}
	if params["oauth_token"] != issued.Token || !issued.Valid() {
		return errors.New("unknown or revoked token")
	}

	ts, err := strconv.ParseInt(params["oauth_timestamp"], 10, 64)
	if err != nil {
		return fmt.Errorf("bad oauth_timestamp: %w", err)
	}

	signer, err := oauth1.NewSigner(
		oauth1.ConsumerCredentials{Key: consumerKey, Secret: consumerSecret},
		oauth1.OAuth(issued),
		oauth1.WithClock(func() time.Time { return time.Unix(ts, 0) }),
		oauth1.WithNonceSource(func() (string, error) { return params["oauth_nonce"], nil }),
	)
	if err != nil {
		return err
	}

	u := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	req, err := http.NewRequest(r.Method, u.String(), nil)
	if err != nil {
		return err
	}
	if err := signer.Sign(req); err != nil {
		return err
	}

	expected, err := parseOAuthHeader(req.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	if expected["oauth_signature"] != params["oauth_signature"] {
		return errors.New("signature mismatch")
	}

	return nil
}

// parseOAuthHeader splits an `OAuth k="v", ...` header into decoded
// parameters.
func parseOAuthHeader(header string) (map[string]string, error) {
	rest, ok := strings.CutPrefix(header, "OAuth ")
	if !ok {
		return nil, fmt.Errorf("not an OAuth authorization header: %q", header)
	}

	params := make(map[string]string)
	for _, pair := range strings.Split(rest, ", ") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed parameter %q", pair)
		}
		decoded, err := url.PathUnescape(strings.Trim(v, `"`))
		if err != nil {
			return nil, fmt.Errorf("decoding parameter %q: %w", k, err)
		}
		params[k] = decoded
	}

	return params, nil
}
