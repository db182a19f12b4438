package cliauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/gantryhq/gantry/oauth1"
)

const (
	// DefaultPollInterval is the cadence of exchange polls.
	DefaultPollInterval = 2 * time.Second

	// DefaultMaxAttempts bounds the polling loop. With the default
	// interval this gives the user a two-minute window to finish the
	// console flow. The ceiling is counted in attempts, not wall
	// clock, so slow requests extend it rather than eat into it.
	DefaultMaxAttempts = 60

	// pollRequestTimeout bounds a single exchange request,
	// independent of the polling cadence.
	pollRequestTimeout = 15 * time.Second

	// exchangePath is where the console deposits claimed token pairs.
	exchangePath = "/v2/self/cli_tokens"

	// errorBodyLimit truncates diagnostic bodies in error messages.
	errorBodyLimit = 512
)

var (
	// ErrPollTimeout means every attempt saw 404 until the budget ran
	// out: the user never finished the console flow.
	ErrPollTimeout = errors.New("authentication polling timed out")

	// ErrPollerUsed rejects reuse of a running or finished poller.
	ErrPollerUsed = errors.New("poller already used")
)

// ExchangeError is a hard exchange failure: an unexpected status code
// or an unreachable endpoint. Polling stops immediately on one; only
// 404 keeps the loop alive.
type ExchangeError struct {
	StatusCode int    // zero when the request never got a response
	Message    string // server diagnostic or transport detail
}

func (e *ExchangeError) Error() string {
	if e.StatusCode == 0 {
		return "token exchange: " + e.Message
	}
	return fmt.Sprintf("token exchange: status %d: %s", e.StatusCode, e.Message)
}

// PollState tracks a Poller through its life cycle. Terminal states
// are absorbing: a Poller runs exactly once and keeps its outcome.
type PollState int

const (
	PollNotStarted PollState = iota
	PollRunning
	PollSucceeded
	PollFailed
	PollTimedOut
	PollCancelled
)

func (s PollState) String() string {
	switch s {
	case PollNotStarted:
		return "not started"
	case PollRunning:
		return "running"
	case PollSucceeded:
		return "succeeded"
	case PollFailed:
		return "failed"
	case PollTimedOut:
		return "timed out"
	case PollCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Poller asks the platform whether the console flow claimed a CLI
// token yet, at a fixed cadence, until a terminal outcome.
type Poller struct {
	apiHost     string
	httpClient  *http.Client
	interval    time.Duration
	maxAttempts int
	onAttempt   func(attempt int)
	logger      *slog.Logger

	mu    sync.Mutex
	state PollState
}

// PollerOption adjusts NewPoller.
type PollerOption func(*Poller)

// WithHTTPClient replaces the HTTP client used for exchange requests.
func WithHTTPClient(c *http.Client) PollerOption {
	return func(p *Poller) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithInterval replaces the polling cadence.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxAttempts replaces the attempt budget.
func WithMaxAttempts(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithOnAttempt registers a progress callback, invoked just before
// each attempt with its 1-based number.
func WithOnAttempt(fn func(attempt int)) PollerOption {
	return func(p *Poller) { p.onAttempt = fn }
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPoller creates a poller against the given API host.
func NewPoller(apiHost string, opts ...PollerOption) *Poller {
	p := &Poller{
		apiHost:     normalizeHost(apiHost),
		httpClient:  http.DefaultClient,
		interval:    DefaultPollInterval,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports the poller's life-cycle state.
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run polls until a terminal outcome and returns the claimed pair.
// The first request goes out immediately, later ones on the interval.
// 404 means not yet claimed and keeps the loop alive; any other
// non-200 status and any transport failure fail the run with an
// *ExchangeError and no retry. Exhausting the attempt budget returns
// ErrPollTimeout; context cancellation surfaces the context error.
func (p *Poller) Run(ctx context.Context, cliToken string) (oauth1.OAuthCredentials, error) {
	if err := p.begin(); err != nil {
		return oauth1.OAuthCredentials{}, err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if p.onAttempt != nil {
			p.onAttempt(attempt)
		}
		p.logger.Debug("polling token exchange",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.maxAttempts))

		pair, claimed, err := p.exchange(ctx, cliToken)
		if err != nil {
			if ctx.Err() != nil {
				p.finish(PollCancelled)
				return oauth1.OAuthCredentials{}, fmt.Errorf("waiting for console approval: %w", ctx.Err())
			}
			p.finish(PollFailed)
			return oauth1.OAuthCredentials{}, err
		}
		if claimed {
			p.finish(PollSucceeded)
			return pair, nil
		}

		if attempt >= p.maxAttempts {
			p.finish(PollTimedOut)
			return oauth1.OAuthCredentials{}, fmt.Errorf("%w after %d attempts", ErrPollTimeout, attempt)
		}

		select {
		case <-ctx.Done():
			p.finish(PollCancelled)
			return oauth1.OAuthCredentials{}, fmt.Errorf("waiting for console approval: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Poller) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PollNotStarted {
		return fmt.Errorf("%w: state %s", ErrPollerUsed, p.state)
	}
	p.state = PollRunning
	return nil
}

func (p *Poller) finish(s PollState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// exchange performs one GET against the exchange endpoint. claimed is
// false when the console has not handled the token yet (404). The
// status code is authoritative: a 200 with a malformed body is an
// error, and a non-200 never yields credentials no matter the body.
func (p *Poller) exchange(ctx context.Context, cliToken string) (oauth1.OAuthCredentials, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, pollRequestTimeout)
	defer cancel()

	endpoint := p.apiHost + exchangePath + "?cli_token=" + url.QueryEscape(cliToken)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return oauth1.OAuthCredentials{}, false, &ExchangeError{Message: "creating request: " + err.Error()}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return oauth1.OAuthCredentials{}, false, ctx.Err()
		}
		return oauth1.OAuthCredentials{}, false, &ExchangeError{Message: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return oauth1.OAuthCredentials{}, false, &ExchangeError{StatusCode: resp.StatusCode, Message: "reading response: " + err.Error()}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return oauth1.OAuthCredentials{}, false, nil
	case http.StatusOK:
		var pair oauth1.OAuthCredentials
		if err := json.Unmarshal(body, &pair); err != nil {
			return oauth1.OAuthCredentials{}, false, &ExchangeError{StatusCode: resp.StatusCode, Message: "malformed credential response: " + err.Error()}
		}
		if !pair.Valid() {
			return oauth1.OAuthCredentials{}, false, &ExchangeError{StatusCode: resp.StatusCode, Message: "credential response missing token or secret"}
		}
		return pair, true, nil
	default:
		return oauth1.OAuthCredentials{}, false, &ExchangeError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
}

// errorMessage digs a human-readable diagnostic out of an arbitrary
// error body, falling back to the raw body, truncated.
func errorMessage(body []byte) string {
	for _, path := range []string{"error.message", "error", "message"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}

	s := strings.TrimSpace(string(body))
	if s == "" {
		return "no response body"
	}
	if len(s) > errorBodyLimit {
		s = s[:errorBodyLimit] + "..."
	}
	return s
}
