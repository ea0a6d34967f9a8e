package models

import "time"

// JoinCredential authorizes one client for exactly one room. It is created
// when an operator issues a grant and never changes afterwards.
type JoinCredential struct {
	Token    string    `json:"token"`
	RoomKey  string    `json:"roomKey"`
	RoomCode string    `json:"roomCode"`
	SystemID string    `json:"systemId"`
	ClientID string    `json:"clientId"`
	IssuedAt time.Time `json:"issuedAt"`
}

// PersistedTokenSet is the unit written to durable secret storage.
type PersistedTokenSet struct {
	GrantCode string                    `json:"grantCode"`
	Tokens    map[string]JoinCredential `json:"tokens"`
}

// SessionInfo is a point-in-time view of a session, used by listings.
type SessionInfo struct {
	Token       string    `json:"token"`
	ClientID    string    `json:"clientId"`
	RoomKey     string    `json:"roomKey"`
	Live        bool      `json:"live"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
}
