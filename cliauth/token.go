// Package cliauth implements the browser hand-off authentication flow:
// the CLI mints a single-use token, sends the user to the platform
// console with it, and polls the exchange endpoint until the console
// deposits an OAuth token pair for that token.
package cliauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// cliTokenBytes is the entropy of a hand-off token; RawURLEncoding
// turns 20 bytes into a 27-character URL-safe string.
const cliTokenBytes = 20

// NewToken returns a fresh single-use CLI token. The token is the only
// secret linking the browser session to this process, so it always
// comes from crypto/rand; entropy failures propagate rather than
// degrade.
func NewToken() (string, error) {
	b := make([]byte, cliTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating CLI token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ConsoleURL builds the browser hand-off URL:
// https://<console-host>/cli-oauth?cli_version=<v>&cli_token=<t>.
func ConsoleURL(consoleHost, cliVersion, cliToken string) string {
	return normalizeHost(consoleHost) + "/cli-oauth" +
		"?cli_version=" + url.QueryEscape(cliVersion) +
		"&cli_token=" + url.QueryEscape(cliToken)
}

// normalizeHost trims a trailing slash and assumes https when the
// scheme is missing.
func normalizeHost(host string) string {
	host = strings.TrimSuffix(host, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return host
}
