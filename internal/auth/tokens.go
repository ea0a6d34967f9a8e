package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrylevesque/roombridge/internal/crypto"
	"github.com/harrylevesque/roombridge/internal/files"
	"github.com/harrylevesque/roombridge/internal/models"
	"github.com/harrylevesque/roombridge/internal/rooms"
)

// DefaultSecretKey is the secret-store key the token set is persisted under.
const DefaultSecretKey = "roombridge.tokens"

// RoomResolver resolves a room key to a live room.
type RoomResolver interface {
	Room(key string) (*rooms.Room, bool)
}

// TokenStore is the durable mapping from token to JoinCredential. Every
// mutation is written through to the secret store before it returns.
type TokenStore struct {
	secrets   files.SecretStore
	secretKey string
	rooms     RoomResolver
	grants    GrantValidator
	systemID  string
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	tokens    map[string]models.JoinCredential
	onRevoke  []func(token string)
	persistMu sync.Mutex
}

// TokenStoreOptions configures a TokenStore.
type TokenStoreOptions struct {
	Secrets   files.SecretStore
	SecretKey string
	Rooms     RoomResolver
	Grants    GrantValidator
	SystemID  string
	Logger    *slog.Logger
}

// NewTokenStore creates an empty store. Call LoadFromPersistence to restore
// tokens issued before a restart.
func NewTokenStore(opts TokenStoreOptions) *TokenStore {
	key := opts.SecretKey
	if key == "" {
		key = DefaultSecretKey
	}
	return &TokenStore{
		secrets:   opts.Secrets,
		secretKey: key,
		rooms:     opts.Rooms,
		grants:    opts.Grants,
		systemID:  opts.SystemID,
		logger:    opts.Logger.With("component", "tokens"),
		now:       time.Now,
		tokens:    make(map[string]models.JoinCredential),
	}
}

// OnRevoke registers fn to run after a token has been revoked and the
// removal persisted.
func (s *TokenStore) OnRevoke(fn func(token string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRevoke = append(s.onRevoke, fn)
}

// IssueToken validates grantCode for roomKey and creates a new credential.
func (s *TokenStore) IssueToken(roomKey, grantCode string) (models.JoinCredential, error) {
	room, ok := s.rooms.Room(roomKey)
	if !ok {
		return models.JoinCredential{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomKey)
	}
	if err := s.grants.ValidateGrant(roomKey, grantCode); err != nil {
		s.logger.Warn("grant rejected", "room_key", roomKey)
		return models.JoinCredential{}, err
	}
	code, _, err := room.UserCode()
	if err != nil {
		return models.JoinCredential{}, fmt.Errorf("room code: %w", err)
	}
	token, err := crypto.NewToken()
	if err != nil {
		return models.JoinCredential{}, fmt.Errorf("generate token: %w", err)
	}

	cred := models.JoinCredential{
		Token:    token,
		RoomKey:  roomKey,
		RoomCode: code,
		SystemID: s.systemID,
		ClientID: "c--" + uuid.NewString(),
		IssuedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.tokens[token] = cred
	s.mu.Unlock()

	s.persist()
	s.logger.Info("token issued", "room_key", roomKey, "client_id", cred.ClientID)
	return cred, nil
}

// Revoke removes the credential for token and reports whether one existed.
func (s *TokenStore) Revoke(token string) bool {
	s.mu.Lock()
	_, ok := s.tokens[token]
	delete(s.tokens, token)
	listeners := append([]func(string){}, s.onRevoke...)
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.persist()
	for _, fn := range listeners {
		fn(token)
	}
	s.logger.Info("token revoked")
	return true
}

// Lookup returns the credential for token.
func (s *TokenStore) Lookup(token string) (models.JoinCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.tokens[token]
	if !ok {
		return models.JoinCredential{}, ErrTokenNotFound
	}
	return cred, nil
}

// List returns every credential ordered by issue time, then token.
func (s *TokenStore) List() []models.JoinCredential {
	s.mu.RLock()
	out := make([]models.JoinCredential, 0, len(s.tokens))
	for _, c := range s.tokens {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// LoadFromPersistence replaces the in-memory tokens with the persisted set.
// A missing secret is an empty set, not an error.
func (s *TokenStore) LoadFromPersistence() error {
	blob, err := s.secrets.GetSecret(s.secretKey)
	if errors.Is(err, files.ErrSecretNotFound) {
		s.logger.Info("no persisted tokens")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read persisted tokens: %w", err)
	}

	var set models.PersistedTokenSet
	if err := json.Unmarshal(blob, &set); err != nil {
		return fmt.Errorf("decode persisted tokens: %w", err)
	}
	if set.GrantCode != "" && set.GrantCode != s.grants.Fingerprint() {
		s.logger.Warn("site grant code changed since tokens were persisted; keeping existing tokens")
	}

	s.mu.Lock()
	s.tokens = make(map[string]models.JoinCredential, len(set.Tokens))
	for tok, cred := range set.Tokens {
		cred.Token = tok
		s.tokens[tok] = cred
	}
	n := len(s.tokens)
	s.mu.Unlock()

	s.logger.Info("loaded persisted tokens", "count", n)
	return nil
}

// persist writes the current token set through to the secret store. Writes
// are serialized and the snapshot is taken inside the write lock, so the
// last write always carries every committed mutation. A failure leaves the
// in-memory state in place and is logged as a durability gap.
func (s *TokenStore) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	set := models.PersistedTokenSet{
		GrantCode: s.grants.Fingerprint(),
		Tokens:    make(map[string]models.JoinCredential, len(s.tokens)),
	}
	for tok, cred := range s.tokens {
		set.Tokens[tok] = cred
	}
	s.mu.RUnlock()

	blob, err := json.Marshal(set)
	if err == nil {
		err = s.secrets.SetSecret(s.secretKey, blob)
	}
	if err != nil {
		s.logger.Error("failed to persist tokens",
			"error", err, "count", len(set.Tokens), "durability", "lost-on-restart")
	}
}
