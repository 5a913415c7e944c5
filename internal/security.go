package cfx

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// TokenPrefixDefault is the prefix minted keys carry.
const TokenPrefixDefault = "cfx"

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// HashToken returns the hex-encoded SHA-256 of "salt:token". All stored
// key hashes use this form.
func HashToken(salt, token string) string {
	h := sha256.Sum256([]byte(salt + ":" + token))
	return hex.EncodeToString(h[:])
}

// VerifyToken reports whether token hashes to storedHash under salt,
// using a constant-time comparison.
func VerifyToken(token, storedHash, salt string) bool {
	computed := HashToken(salt, token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// GenerateToken mints a new API key "prefix_<32 random alnum>" and returns
// it together with its redacted display prefix.
func GenerateToken(prefix string) (token, display string, err error) {
	if prefix == "" {
		prefix = TokenPrefixDefault
	}
	random := make([]byte, 0, 32)
	buf := make([]byte, 48)
	for len(random) < 32 {
		if _, err := rand.Read(buf); err != nil {
			return "", "", err
		}
		for _, b := range buf {
			// 248 = 62*4: reject the tail so every symbol is equally likely.
			if b >= 248 {
				continue
			}
			random = append(random, tokenAlphabet[int(b)%62])
			if len(random) == 32 {
				break
			}
		}
	}
	token = prefix + "_" + string(random)
	return token, TokenDisplayPrefix(token), nil
}

// TokenDisplayPrefix returns the short redacted form of a key used for
// identification, e.g. "cfx_abc1" for "cfx_abc123...". Falls back to the
// first 8 characters when the key has no underscore.
func TokenDisplayPrefix(token string) string {
	prefix, rest, ok := strings.Cut(token, "_")
	if !ok || len(rest) < 4 {
		if len(token) >= 8 {
			return token[:8]
		}
		return token
	}
	return prefix + "_" + rest[:4]
}

// ValidTokenFormat reports whether token looks like an API key: a 2-10
// character alphanumeric prefix, an underscore, then at least 16
// alphanumeric characters.
func ValidTokenFormat(token string) bool {
	prefix, rest, ok := strings.Cut(token, "_")
	if !ok {
		return false
	}
	if len(prefix) < 2 || len(prefix) > 10 || !isAlnum(prefix) {
		return false
	}
	return len(rest) >= 16 && isAlnum(rest)
}

func isAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			continue
		}
		return false
	}
	return len(s) > 0
}
