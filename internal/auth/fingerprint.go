package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keyPrefixLen = 8

// fingerprintInfo is the HKDF "info" parameter, keeping the derived
// fingerprinting key cryptographically independent from any other subkey
// drawn from the same master secret (e.g. the field-encryption key).
var fingerprintInfo = []byte("docrefinery-apikey-fingerprint-v1")

// DeriveFingerprintKey expands a master secret into a 32-byte key used only
// for computing API key fingerprints, via HKDF-SHA256.
func DeriveFingerprintKey(masterSecret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterSecret, nil, fingerprintInfo)
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("auth: derive fingerprint key: %w", err)
	}
	return key, nil
}

// GenerateRawKey returns a new random API key token, its public prefix
// (stored unencrypted for cheap lookup), and its fingerprint (an HMAC over
// the raw token, stored instead of the token itself). The raw key is
// returned to the caller exactly once and never persisted.
func GenerateRawKey(fingerprintKey []byte) (rawKey, prefix, fingerprint string, err error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", "", "", fmt.Errorf("auth: generate raw key: %w", err)
	}
	rawKey = base64.RawURLEncoding.EncodeToString(buf)
	prefix = rawKey[:keyPrefixLen]
	fingerprint = Fingerprint(fingerprintKey, rawKey)
	return rawKey, prefix, fingerprint, nil
}

// Fingerprint computes the HMAC-SHA256 fingerprint of a raw API key under
// the given derived key, hex-encoded for storage and comparison.
func Fingerprint(fingerprintKey []byte, rawKey string) string {
	mac := hmac.New(sha256.New, fingerprintKey)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// FingerprintEqual compares two hex fingerprints in constant time.
func FingerprintEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Prefix returns the lookup prefix of a raw key. Callers use this to find
// the candidate row before fingerprint-comparing the full key.
func Prefix(rawKey string) string {
	if len(rawKey) < keyPrefixLen {
		return rawKey
	}
	return rawKey[:keyPrefixLen]
}
