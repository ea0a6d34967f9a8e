package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/harrylevesque/roombridge/internal/crypto"
)

// GrantValidator decides whether a grant code authorizes issuing a token for a room.
type GrantValidator interface {
	ValidateGrant(roomKey, grantCode string) error
	// Fingerprint identifies the grant configuration without revealing it.
	Fingerprint() string
}

// BcryptGrants validates grant codes against bcrypt hashes. A room-specific
// hash takes precedence over the site-wide one. With no hash configured for
// a room, every grant for it is rejected.
type BcryptGrants struct {
	SiteHash   string
	RoomHashes map[string]string
}

// ValidateGrant implements GrantValidator.
func (g *BcryptGrants) ValidateGrant(roomKey, grantCode string) error {
	hash := g.RoomHashes[roomKey]
	if hash == "" {
		hash = g.SiteHash
	}
	if hash == "" || grantCode == "" {
		return ErrInvalidGrant
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(grantCode)); err != nil {
		return ErrInvalidGrant
	}
	return nil
}

// Fingerprint implements GrantValidator.
func (g *BcryptGrants) Fingerprint() string {
	return crypto.Fingerprint(g.SiteHash)
}

// HashGrantCode returns the bcrypt hash to place in configuration for code.
func HashGrantCode(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("grant code must not be empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
