package auth

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidGrant is returned when a grant code does not authorize the room.
	ErrInvalidGrant = errors.New("invalid grant code")
	// ErrRoomNotFound is returned when a room key does not resolve to a room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrTokenNotFound is returned when a token is unknown or revoked.
	ErrTokenNotFound = errors.New("token not found")
)

// StatusFor maps an auth error to the HTTP status returned to clients.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrInvalidGrant):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
