// Package internal holds crypto-random identifier and opaque-token helpers
// that are intentionally private to identio.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// ID is a 128-bit random identifier used for sessions, reset tokens and
// pending-login challenges. Its string form is unpadded base64url.
type ID [16]byte

const (
	secretSize      = 32
	opaqueTokenSize = 16 + secretSize
)

// NewID returns a fresh random ID.
func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseID decodes the base64url form produced by ID.String.
func ParseID(s string) (ID, error) {
	var id ID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid id size")
	}

	copy(id[:], raw)
	return id, nil
}

// NewSecret returns 32 crypto-random bytes.
func NewSecret() ([secretSize]byte, error) {
	var secret [secretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the only form in which single-use token secrets are stored.
func HashSecret(secret [secretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeOpaqueToken packs a record id and its secret into one opaque
// base64url string handed to the caller. The server keeps only the secret
// hash, so a stored record never reveals a redeemable token.
func EncodeOpaqueToken(id string, secret [secretSize]byte) (string, error) {
	parsed, err := ParseID(id)
	if err != nil {
		return "", err
	}

	var raw [opaqueTokenSize]byte
	copy(raw[:len(parsed)], parsed[:])
	copy(raw[len(parsed):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeOpaqueToken reverses EncodeOpaqueToken.
func DecodeOpaqueToken(token string) (string, [secretSize]byte, error) {
	var secret [secretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != opaqueTokenSize {
		return "", secret, errors.New("invalid token size")
	}

	var id ID
	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])

	return id.String(), secret, nil
}
