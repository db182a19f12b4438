package oauth1

// ConsumerCredentials identifies this application to the platform.
// Both values come from configuration and never change at runtime.
type ConsumerCredentials struct {
	Key    string
	Secret string
}

// OAuthCredentials is the user token pair obtained through the console
// hand-off flow. Re-authentication replaces the pair wholesale.
type OAuthCredentials struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

// Valid reports whether both halves of the pair are present. A partial
// pair is never usable for signing.
func (c OAuthCredentials) Valid() bool {
	return c.Token != "" && c.Secret != ""
}

// CredentialKind discriminates the Credentials union.
type CredentialKind int

const (
	// KindNone means no usable credentials are configured.
	KindNone CredentialKind = iota
	// KindOAuth selects OAuth 1.0a request signing.
	KindOAuth
	// KindBearer selects the legacy bearer-token header.
	KindBearer
)

func (k CredentialKind) String() string {
	switch k {
	case KindOAuth:
		return "oauth"
	case KindBearer:
		return "bearer"
	default:
		return "none"
	}
}

// Credentials is the union of authentication material a Signer can be
// built from: an OAuth token pair, a legacy bearer token, or nothing.
// The variant is fixed when the value is constructed and resolved once
// at signer construction.
type Credentials struct {
	kind   CredentialKind
	oauth  OAuthCredentials
	bearer string
}

// OAuth wraps a token pair for request signing.
func OAuth(pair OAuthCredentials) Credentials {
	return Credentials{kind: KindOAuth, oauth: pair}
}

// Bearer wraps a legacy API token.
func Bearer(token string) Credentials {
	return Credentials{kind: KindBearer, bearer: token}
}

// None is the absent-credentials variant.
func None() Credentials {
	return Credentials{kind: KindNone}
}

// Resolve picks the credential variant for a stored pair and an
// optional legacy token: a valid pair wins, then the legacy token,
// then None. This is the single decision point for which Authorization
// scheme the signer will use.
func Resolve(pair OAuthCredentials, legacyToken string) Credentials {
	if pair.Valid() {
		return OAuth(pair)
	}
	if legacyToken != "" {
		return Bearer(legacyToken)
	}
	return None()
}

// Kind returns the variant of the union.
func (c Credentials) Kind() CredentialKind {
	return c.kind
}
