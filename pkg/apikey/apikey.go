package apikey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ServicePrefix marks keys issued to internal callers (todo service, profile service, CLI).
const ServicePrefix = "zl_svc"

// GenerateKey creates a new API key with the given prefix.
// Format: {prefix}_{48_random_hex_chars}
// Example: zl_svc_RANDOM_HEX_STRING
func GenerateKey(prefix, secret string) (key string, hash string, err error) {
	bytes := make([]byte, 24)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", err
	}
	fullKey := fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(bytes))
	return fullKey, HashKey(fullKey, secret), nil
}

// HashKey hashes the full API key for storage using HMAC-SHA256.
func HashKey(key, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether key hashes to one of the configured hashes.
func Verify(key, secret string, hashes []string) bool {
	if key == "" || len(hashes) == 0 {
		return false
	}
	got := []byte(HashKey(key, secret))
	for _, h := range hashes {
		if hmac.Equal(got, []byte(strings.ToLower(strings.TrimSpace(h)))) {
			return true
		}
	}
	return false
}

// ValidateKeyFormat checks if the key matches the expected format prefix.
func ValidateKeyFormat(key, expectedPrefix string) bool {
	return strings.HasPrefix(key, expectedPrefix+"_")
}
