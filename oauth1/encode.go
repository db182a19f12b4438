// Package oauth1 implements the OAuth 1.0a request signing used by the
// Gantry platform API: HMAC-SHA512 signatures carried in an OAuth
// Authorization header, with a legacy bearer-token fallback.
package oauth1

import "strings"

const upperhex = "0123456789ABCDEF"

// PercentEncode escapes s for OAuth signature construction per
// RFC 3986. Only unreserved characters (ALPHA, DIGIT, "-", "_", ".",
// "~") pass through; every other byte of the UTF-8 encoding becomes
// %XX with uppercase hex digits. Space is %20, never "+".
func PercentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	}
	return false
}
