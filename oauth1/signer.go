package oauth1

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoCredentials means a signer was requested with neither a
	// usable OAuth token pair nor a legacy bearer token.
	ErrNoCredentials = errors.New("no credentials configured")

	// ErrInvalidURL means the request URL cannot be reduced to a
	// signable scheme://host/path form.
	ErrInvalidURL = errors.New("invalid request URL")
)

// Signer produces Authorization headers for platform API requests.
// With OAuth credentials every Sign call carries a fresh
// timestamp/nonce HMAC-SHA512 signature over the request's method,
// URL and query parameters. With a legacy bearer token Sign emits a
// plain Bearer header instead. A Signer is immutable after
// construction and safe for concurrent use.
type Signer struct {
	consumer ConsumerCredentials
	creds    Credentials
	now      func() time.Time
	nonce    func() (string, error)
	logger   *slog.Logger
}

// SignerOption adjusts Signer construction.
type SignerOption func(*Signer)

// WithClock replaces the timestamp source. Tests use this together
// with WithNonceSource for reproducible signatures.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

// WithNonceSource replaces the nonce source.
func WithNonceSource(nonce func() (string, error)) SignerOption {
	return func(s *Signer) { s.nonce = nonce }
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(logger *slog.Logger) SignerOption {
	return func(s *Signer) { s.logger = logger }
}

// NewSigner resolves the credential union and returns a signer.
// The None variant, an incomplete OAuth pair, an empty bearer token
// and a missing consumer pair all fail here with ErrNoCredentials: an
// unauthenticated signer cannot be constructed, so Sign never has to
// decide what an unsigned request would look like.
func NewSigner(consumer ConsumerCredentials, creds Credentials, opts ...SignerOption) (*Signer, error) {
	switch creds.kind {
	case KindOAuth:
		if consumer.Key == "" || consumer.Secret == "" {
			return nil, fmt.Errorf("resolving credentials: %w: consumer key pair is incomplete", ErrNoCredentials)
		}
		if !creds.oauth.Valid() {
			return nil, fmt.Errorf("resolving credentials: %w: OAuth token pair is incomplete", ErrNoCredentials)
		}
	case KindBearer:
		if creds.bearer == "" {
			return nil, fmt.Errorf("resolving credentials: %w: bearer token is empty", ErrNoCredentials)
		}
	default:
		return nil, fmt.Errorf("resolving credentials: %w", ErrNoCredentials)
	}

	s := &Signer{
		consumer: consumer,
		creds:    creds,
		now:      time.Now,
		nonce:    randomNonce,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	if creds.kind == KindBearer {
		s.logger.Warn("using legacy bearer token, requests will not be OAuth-signed",
			slog.Int("token_length", len(creds.bearer)))
	}

	return s, nil
}

// Mode reports which Authorization scheme Sign applies.
func (s *Signer) Mode() CredentialKind {
	return s.creds.kind
}

// Sign sets the Authorization header on req. The request body is never
// read or altered; only the method, URL and query feed the signature.
func (s *Signer) Sign(req *http.Request) error {
	if s.creds.kind == KindBearer {
		req.Header.Set("Authorization", "Bearer "+s.creds.bearer)
		return nil
	}

	header, err := s.authorizationHeader(req.Method, req.URL, s.now(), "")
	if err != nil {
		return fmt.Errorf("signing request: %w", err)
	}
	req.Header.Set("Authorization", header)

	return nil
}

// authorizationHeader builds the OAuth header for one request. A
// non-empty nonce overrides the signer's nonce source; the fixture
// tests rely on that.
func (s *Signer) authorizationHeader(method string, u *url.URL, at time.Time, nonce string) (string, error) {
	base, err := baseURL(u)
	if err != nil {
		return "", err
	}

	if nonce == "" {
		nonce, err = s.nonce()
		if err != nil {
			return "", err
		}
	}

	protocol := map[string]string{
		paramConsumerKey:     s.consumer.Key,
		paramNonce:           nonce,
		paramSignatureMethod: SignatureMethod,
		paramTimestamp:       strconv.FormatInt(at.Unix(), 10),
		paramToken:           s.creds.oauth.Token,
		paramVersion:         Version,
	}

	params := mergeParams(flattenQuery(u.Query()), protocol)
	baseString := signatureBase(method, base, parameterString(params))
	signature := signHMACSHA512(baseString, signingKey(s.consumer.Secret, s.creds.oauth.Secret))

	header := make(map[string]string, len(protocol)+1)
	for k, v := range protocol {
		header[k] = v
	}
	header[paramSignature] = signature

	return headerValue(header), nil
}

// signingKey is enc(consumerSecret) & enc(tokenSecret). An empty token
// secret yields the two-legged "cs&" form; empty consumer secrets are
// rejected at signer construction.
func signingKey(consumerSecret, tokenSecret string) string {
	return PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)
}

// signHMACSHA512 signs the base string and returns standard base64
// with padding.
func signHMACSHA512(baseString, key string) string {
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// headerValue renders the Authorization value: parameters sorted by
// key, values percent-encoded and quoted, pairs joined by ", ".
func headerValue(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + `="` + PercentEncode(params[k]) + `"`
	}

	return "OAuth " + strings.Join(pairs, ", ")
}

// randomNonce returns 32 hex characters from crypto/rand.
func randomNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
