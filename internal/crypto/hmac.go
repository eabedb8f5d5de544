package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// hmacEqual compares two base64 tags in constant time.
func hmacEqual(a, b string) bool {
	da, err := base64.StdEncoding.DecodeString(a)
	if err != nil {
		return false
	}
	db, err := base64.StdEncoding.DecodeString(b)
	if err != nil {
		return false
	}
	return hmac.Equal(da, db)
}

// redact returns a short prefix of s suitable for logs.
func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
