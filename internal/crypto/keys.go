package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// TokenBytes is the amount of entropy in a join token.
const TokenBytes = 32

// ErrInvalidKeyLength is returned when the provided key length is invalid.
var ErrInvalidKeyLength = errors.New("invalid key length")

// DeriveKey derives a 32-byte subkey from the master key using HKDF-SHA256.
// The info string binds the subkey to its purpose, so every secret gets its
// own encryption key.
func DeriveKey(master []byte, info string) ([]byte, error) {
	if len(master) != 32 {
		return nil, ErrInvalidKeyLength
	}
	h := hkdf.New(sha256.New, master, nil, []byte(info))
	out := make([]byte, 32)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// NewToken returns an unguessable, URL-safe token string.
func NewToken() (string, error) {
	b, err := randomBytes(TokenBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewRoomCode returns a uniformly random decimal code with the given number of digits.
func NewRoomCode(digits int) (string, error) {
	if digits <= 0 || digits > 18 {
		return "", fmt.Errorf("room code digits out of range: %d", digits)
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// Fingerprint returns the hex SHA-256 of s. Used to record which secret was in
// effect without storing the secret itself.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// MustRandom returns n random bytes or panics.
func MustRandom(n int) []byte {
	b, err := randomBytes(n)
	if err != nil {
		panic(err)
	}
	return b
}

// randomBytes generates a slice of random bytes of the given length.
func randomBytes(length int) ([]byte, error) {
	b := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
