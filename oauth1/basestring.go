package oauth1

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Protocol parameter names for the HMAC-SHA512 variant of OAuth 1.0a
// spoken by the platform.
const (
	paramConsumerKey     = "oauth_consumer_key"
	paramNonce           = "oauth_nonce"
	paramSignature       = "oauth_signature"
	paramSignatureMethod = "oauth_signature_method"
	paramTimestamp       = "oauth_timestamp"
	paramToken           = "oauth_token"
	paramVersion         = "oauth_version"

	// SignatureMethod is the value sent as oauth_signature_method.
	SignatureMethod = "HMAC-SHA512"

	// Version is the value sent as oauth_version.
	Version = "1.0"
)

// baseURL reduces u to scheme://host/path with no query string and no
// trailing slash, the canonical form folded into the signature base.
func baseURL(u *url.URL) (string, error) {
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: missing scheme or host in %q", ErrInvalidURL, u.String())
	}
	base := u.Scheme + "://" + u.Host + u.Path
	return strings.TrimSuffix(base, "/"), nil
}

type param struct {
	key   string
	value string
}

// mergeParams flattens query and protocol parameters into one sorted
// list. Protocol parameters win on key collision, so a caller-supplied
// oauth_* query value can never displace the real one. Ordering is
// byte-wise by key, ties broken by value.
func mergeParams(query, protocol map[string]string) []param {
	merged := make(map[string]string, len(query)+len(protocol))
	for k, v := range query {
		merged[k] = v
	}
	for k, v := range protocol {
		merged[k] = v
	}

	params := make([]param, 0, len(merged))
	for k, v := range merged {
		params = append(params, param{key: k, value: v})
	}
	sort.Slice(params, func(i, j int) bool {
		if params[i].key != params[j].key {
			return params[i].key < params[j].key
		}
		return params[i].value < params[j].value
	})

	return params
}

// parameterString joins sorted parameters as key=value pairs with "&".
// Keys and values stay raw here; the single percent-encoding pass
// happens when the whole string is folded into the signature base.
func parameterString(params []param) string {
	pairs := make([]string, len(params))
	for i, p := range params {
		pairs[i] = p.key + "=" + p.value
	}
	return strings.Join(pairs, "&")
}

// signatureBase assembles the string that gets signed:
// UPPER(method) & enc(baseURL) & enc(parameterString).
func signatureBase(method, base, paramString string) string {
	return strings.ToUpper(method) + "&" + PercentEncode(base) + "&" + PercentEncode(paramString)
}

// flattenQuery reduces multi-valued query parameters to the flat map
// the signature base is defined over. First value wins for repeated
// keys.
func flattenQuery(values url.Values) map[string]string {
	if len(values) == 0 {
		return nil
	}
	flat := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			flat[k] = vs[0]
		}
	}
	return flat
}
