package files

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/harrylevesque/roombridge/internal/crypto"
)

// ErrSecretNotFound is returned by GetSecret when nothing is stored under the key.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore is a durable key-value write-through for opaque blobs.
type SecretStore interface {
	GetSecret(key string) ([]byte, error)
	SetSecret(key string, blob []byte) error
}

// FileSecretStore keeps each secret in its own AES-GCM encrypted file. The
// per-secret key is derived from the master key, so files cannot be swapped
// between keys without failing authentication.
type FileSecretStore struct {
	dir       string
	masterKey []byte
	mu        sync.Mutex
}

// NewFileSecretStore creates the directory if needed and returns a store rooted there.
func NewFileSecretStore(dir string, masterKey []byte) (*FileSecretStore, error) {
	if len(masterKey) != 32 {
		return nil, crypto.ErrInvalidKeyLength
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}
	return &FileSecretStore{dir: dir, masterKey: masterKey}, nil
}

// GetSecret reads and decrypts the secret stored under key.
func (s *FileSecretStore) GetSecret(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSecretNotFound
		}
		return nil, err
	}
	k, err := crypto.DeriveKey(s.masterKey, "secret:"+key)
	if err != nil {
		return nil, err
	}
	plain, err := crypto.DecryptAESGCM(k, blob)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret %q: %w", key, err)
	}
	return plain, nil
}

// SetSecret encrypts blob and replaces the file for key. The write goes to a
// temp file first and is renamed into place so a crash never leaves a torn file.
func (s *FileSecretStore) SetSecret(key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, err := crypto.DeriveKey(s.masterKey, "secret:"+key)
	if err != nil {
		return err
	}
	enc, err := crypto.EncryptAESGCM(k, blob)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".secret-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(enc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(key))
}

// path hex-encodes key so every distinct key gets its own file name.
func (s *FileSecretStore) path(key string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(key))+".secret.enc")
}

// MemorySecretStore is an in-process SecretStore. The zero value is ready to use.
type MemorySecretStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// GetSecret returns a copy of the stored blob.
func (m *MemorySecretStore) GetSecret(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.data[key]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return append([]byte(nil), b...), nil
}

// SetSecret stores a copy of blob.
func (m *MemorySecretStore) SetSecret(key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = append([]byte(nil), blob...)
	return nil
}
