package cliauth

import (
	"context"

	"github.com/gantryhq/gantry/oauth1"
)

// CredentialStore persists the OAuth token pair between runs. Load
// returns the zero pair when nothing is stored; save replaces any
// previous pair wholesale. Implementations must serialize concurrent
// calls and treat the values as opaque secrets that never reach logs.
type CredentialStore interface {
	Save(ctx context.Context, pair oauth1.OAuthCredentials) error
	Load(ctx context.Context) (oauth1.OAuthCredentials, error)
	Delete(ctx context.Context) error
}
