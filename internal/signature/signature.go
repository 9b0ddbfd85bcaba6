// Package signature implements the two keyed-digest schemes the bot has to
// speak: the legacy CryptoPay request/webhook digest and the Telegram WebApp
// initData digest. Both are fixed external wire contracts; verification
// failure means untrusted input, never a retryable error.
package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// Gateway returns the legacy CryptoPay digest: payload values concatenated in
// key order with the shared API key appended, hashed with MD5. The provider
// mandates this scheme for both request signing and webhook bodies.
func Gateway(payload map[string]string, apiKey string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(payload[k])
	}
	b.WriteString(apiKey)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// VerifyGateway reports whether digest matches the payload under apiKey.
func VerifyGateway(payload map[string]string, digest, apiKey string) bool {
	expected := Gateway(payload, apiKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(digest)) == 1
}

// WebApp returns the Telegram WebApp initData digest over fields, which must
// not include the "hash" field itself. The data-check string is the sorted
// key=value pairs joined by newlines; the HMAC key is derived in two steps
// from the bot token as the platform prescribes.
func WebApp(fields map[string]string, botToken string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}
	checkString := strings.Join(pairs, "\n")

	tokenKey := sha256.Sum256([]byte(botToken))

	mac := hmac.New(sha256.New, tokenKey[:])
	mac.Write([]byte("WebAppData"))
	dataKey := mac.Sum(nil)

	mac = hmac.New(sha256.New, dataKey)
	mac.Write([]byte(checkString))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebApp reports whether digest matches the fields under botToken.
func VerifyWebApp(fields map[string]string, digest, botToken string) bool {
	expected := WebApp(fields, botToken)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(digest)) == 1
}
