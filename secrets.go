package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"
)

const fingerprintLength = 8

// randomToken reads n bytes from r and encodes them as unpadded base64url.
func randomToken(r io.Reader, n int) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// digestSecret is the storage form of a bearer secret.
func digestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// secretMatches compares a presented secret to a stored digest in constant
// time. An empty digest never matches.
func secretMatches(digest, presented string) bool {
	if digest == "" || presented == "" {
		return false
	}
	candidate := digestSecret(presented)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(candidate)) == 1
}

// fingerprint is the audit safe prefix of a digest.
func fingerprint(digest string) string {
	if len(digest) <= fingerprintLength {
		return digest
	}
	return digest[:fingerprintLength]
}
