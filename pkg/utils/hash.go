package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HashURL hashes a URL after normalizing scheme/host case and dropping the
// fragment, so trivially different spellings share cache entries.
func HashURL(raw string) string {
	return HashString(NormalizeURL(raw))
}

func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}
