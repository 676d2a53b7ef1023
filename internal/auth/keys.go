package auth

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Each token family gets its own HMAC key so that an access
// token can never be replayed as a share token and vice versa.
const (
	PurposeAccess = "pixelshift/access"
	PurposeShare  = "pixelshift/share"
)

// DeriveKey expands the configured secret into a 32-byte key for purpose.
func DeriveKey(secret, purpose string) []byte {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails past 255*HashLen bytes
		panic(err)
	}
	return key
}
