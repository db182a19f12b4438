package cliauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/gantryhq/gantry/oauth1"
)

// subscriberBuffer is the per-subscriber event channel depth. A
// subscriber that falls further behind loses events rather than
// blocking the state machine.
const subscriberBuffer = 16

// State is the externally observable authentication state.
type State int

const (
	// StateIdle means no credentials and no flow in flight.
	StateIdle State = iota
	// StateAwaitingUser means the console URL has been handed to the
	// browser and the user is expected to approve the CLI there.
	StateAwaitingUser
	// StatePolling means the exchange endpoint is being polled for
	// the claimed token pair.
	StatePolling
	// StateAuthenticated means a valid credential pair is persisted.
	StateAuthenticated
	// StateFailed means the last flow ended in an error, retained in
	// Status.Err until the next flow, Reset, or a later success.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingUser:
		return "awaiting user action"
	case StatePolling:
		return "polling"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind tags Authenticator notifications.
type EventKind int

const (
	// EventStateChanged reports a transition; State and Err are set.
	EventStateChanged EventKind = iota
	// EventPollAttempt reports exchange progress; Attempt is set.
	EventPollAttempt
	// EventBrowserOpenFailed means the launcher could not open the
	// console URL; URL is set so it can be shown for manual opening.
	EventBrowserOpenFailed
	// EventBrowserDismissed means the user closed the hand-off
	// browser. Informational only; polling continues regardless.
	EventBrowserDismissed
)

// Event is a notification from the Authenticator.
type Event struct {
	Kind    EventKind
	State   State
	Err     error
	Attempt int
	URL     string
}

// Config wires an Authenticator's hosts and collaborators.
type Config struct {
	ConsoleHost string
	APIHost     string
	CLIVersion  string

	Store    CredentialStore
	Launcher BrowserLauncher

	// HTTPClient is used for exchange polling. Defaults to
	// http.DefaultClient; each attempt is bounded by its own timeout
	// either way.
	HTTPClient *http.Client

	// PollInterval and MaxAttempts default to DefaultPollInterval and
	// DefaultMaxAttempts.
	PollInterval time.Duration
	MaxAttempts  int

	Logger *slog.Logger
}

// session is one in-flight browser hand-off.
type session struct {
	id         string
	cliToken   string
	consoleURL string
	started    time.Time
	attempts   int
	cancel     context.CancelFunc
}

// Authenticator owns the hand-off flow and the observable
// authentication state. Every transition happens under one mutex, so
// event emission is single-writer ordered; at most one session is in
// flight at a time.
type Authenticator struct {
	cfg Config

	mu      sync.Mutex
	state   State
	lastErr error
	session *session

	// group manages the most recent session's goroutine. It outlives
	// the session itself so Wait still returns the outcome of a flow
	// that finished before the caller got around to waiting.
	group *errgroup.Group

	subs    map[int]chan Event
	nextSub int
}

// New restores the initial state from the credential store: a valid
// stored pair means Authenticated; a partial pair is unusable, so it
// is purged and the state is Idle. A store failure is a construction
// error.
func New(ctx context.Context, cfg Config) (*Authenticator, error) {
	if cfg.Store == nil || cfg.Launcher == nil {
		return nil, errors.New("creating authenticator: store and launcher are required")
	}
	if cfg.ConsoleHost == "" || cfg.APIHost == "" {
		return nil, errors.New("creating authenticator: console and API hosts are required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	a := &Authenticator{
		cfg:   cfg,
		state: StateIdle,
		subs:  make(map[int]chan Event),
	}

	pair, err := cfg.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading stored credentials: %w", err)
	}
	switch {
	case pair.Valid():
		a.state = StateAuthenticated
	case pair != (oauth1.OAuthCredentials{}):
		if err := cfg.Store.Delete(ctx); err != nil {
			return nil, fmt.Errorf("purging partial credentials: %w", err)
		}
		cfg.Logger.Warn("purged partial stored credentials")
	}

	return a, nil
}

// Authenticate launches the hand-off flow: mint a CLI token, hand the
// console URL to the browser launcher, and poll the exchange endpoint
// in the background. While a session is already in flight the call is
// a no-op. ctx cancels the background flow; Wait blocks for its
// outcome.
func (a *Authenticator) Authenticate(ctx context.Context) error {
	a.mu.Lock()

	if a.session != nil {
		a.mu.Unlock()
		a.cfg.Logger.Debug("authentication already in flight, ignoring")
		return nil
	}

	token, err := NewToken()
	if err != nil {
		a.mu.Unlock()
		return err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(sessCtx)
	sess := &session{
		id:         sessionID(),
		cliToken:   token,
		consoleURL: ConsoleURL(a.cfg.ConsoleHost, a.cfg.CLIVersion, token),
		started:    time.Now(),
		cancel:     cancel,
	}
	a.session = sess
	a.group = group
	a.setStateLocked(StateAwaitingUser, nil)

	group.Go(func() error {
		return a.runSession(groupCtx, sess)
	})

	a.mu.Unlock()

	a.cfg.Logger.Info("authentication flow started",
		slog.String("session_id", sess.id),
		slog.Int("token_length", len(token)))

	return nil
}

// Wait blocks until the most recently started session reaches a
// terminal outcome and returns its error. A session that already
// finished keeps its outcome, so Authenticate followed by Wait never
// misses a fast flow. Before any flow has started Wait returns nil.
func (a *Authenticator) Wait() error {
	a.mu.Lock()
	group := a.group
	a.mu.Unlock()

	if group == nil {
		return nil
	}
	return group.Wait()
}

// Logout deletes the stored credentials and returns the state to
// Idle. Any retained failure reason survives for display; an
// in-flight session is deliberately left alone (cancel its context to
// abort it).
func (a *Authenticator) Logout(ctx context.Context) error {
	if err := a.cfg.Store.Delete(ctx); err != nil {
		return fmt.Errorf("deleting stored credentials: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateIdle
	a.emitLocked(Event{Kind: EventStateChanged, State: StateIdle, Err: a.lastErr})
	a.cfg.Logger.Info("logged out")

	return nil
}

// Reset is Logout plus clearing the retained failure reason. UIs use
// it for start-over affordances.
func (a *Authenticator) Reset(ctx context.Context) error {
	if err := a.cfg.Store.Delete(ctx); err != nil {
		return fmt.Errorf("deleting stored credentials: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.setStateLocked(StateIdle, nil)

	return nil
}

// NotifyBrowserDismissed records that the user closed the hand-off
// browser. The console flow may already have completed server-side,
// so dismissal never cancels polling; it is logged and forwarded to
// subscribers only.
func (a *Authenticator) NotifyBrowserDismissed() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return
	}
	a.cfg.Logger.Debug("browser dismissed during authentication",
		slog.String("session_id", a.session.id))
	a.emitLocked(Event{Kind: EventBrowserDismissed})
}

// Status is a point-in-time view of the Authenticator.
type Status struct {
	State      State
	Err        error
	SessionID  string // empty when no session is in flight
	ConsoleURL string // approval URL of the in-flight session, if any
	Attempts   int
}

// Current returns the observable state.
func (a *Authenticator) Current() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{State: a.state, Err: a.lastErr}
	if a.session != nil {
		st.SessionID = a.session.id
		st.ConsoleURL = a.session.consoleURL
		st.Attempts = a.session.attempts
	}
	return st
}

// Subscribe registers for event notifications in transition order.
// The returned func unsubscribes and closes the channel.
func (a *Authenticator) Subscribe() (<-chan Event, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++
	ch := make(chan Event, subscriberBuffer)
	a.subs[id] = ch

	unsubscribe := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// runSession drives one hand-off session to its terminal outcome and
// applies it. Persisting the pair happens before the flip to
// Authenticated and under the same lock, so an Authenticated state
// without stored credentials cannot be observed.
func (a *Authenticator) runSession(ctx context.Context, sess *session) error {
	if err := a.cfg.Launcher.Open(ctx, sess.consoleURL); err != nil {
		// Not fatal: the URL can be opened manually and the console
		// flow works the same.
		a.cfg.Logger.Warn("opening browser failed", slog.String("error", err.Error()))
		a.emit(Event{Kind: EventBrowserOpenFailed, URL: sess.consoleURL, Err: err})
	}

	poller := NewPoller(a.cfg.APIHost,
		WithHTTPClient(a.cfg.HTTPClient),
		WithInterval(a.cfg.PollInterval),
		WithMaxAttempts(a.cfg.MaxAttempts),
		WithLogger(a.cfg.Logger),
		WithOnAttempt(func(attempt int) {
			a.mu.Lock()
			defer a.mu.Unlock()
			sess.attempts = attempt
			if a.state == StateAwaitingUser {
				a.setStateLocked(StatePolling, nil)
			}
			a.emitLocked(Event{Kind: EventPollAttempt, Attempt: attempt})
		}),
	)

	pair, err := poller.Run(ctx, sess.cliToken)

	a.mu.Lock()
	defer a.mu.Unlock()
	defer func() {
		a.session = nil
		sess.cancel()
	}()

	switch {
	case err == nil:
		if saveErr := a.cfg.Store.Save(ctx, pair); saveErr != nil {
			saveErr = fmt.Errorf("persisting credentials: %w", saveErr)
			a.setStateLocked(StateFailed, saveErr)
			return saveErr
		}
		a.cfg.Logger.Info("authentication succeeded",
			slog.String("session_id", sess.id),
			slog.Int("attempts", sess.attempts),
			slog.Duration("elapsed", time.Since(sess.started)))
		a.setStateLocked(StateAuthenticated, nil)
		return nil

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		a.cfg.Logger.Info("authentication cancelled",
			slog.String("session_id", sess.id))
		a.setStateLocked(StateIdle, nil)
		return err

	default:
		a.cfg.Logger.Warn("authentication failed",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()))
		a.setStateLocked(StateFailed, err)
		return err
	}
}

// setStateLocked applies a transition and notifies subscribers. The
// caller holds a.mu.
func (a *Authenticator) setStateLocked(s State, err error) {
	a.state = s
	a.lastErr = err
	a.emitLocked(Event{Kind: EventStateChanged, State: s, Err: err})
}

func (a *Authenticator) emit(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emitLocked(ev)
}

func (a *Authenticator) emitLocked(ev Event) {
	for id, ch := range a.subs {
		select {
		case ch <- ev:
		default:
			a.cfg.Logger.Warn("dropping event for slow subscriber",
				slog.Int("subscriber", id),
				slog.Int("event_kind", int(ev.Kind)))
		}
	}
}

// sessionID returns a prefixed ULID, e.g. ses_01J9GKZ3V2N8QD54M0B7TQRWEX.
func sessionID() string {
	return "ses_" + ulid.Make().String()
}
