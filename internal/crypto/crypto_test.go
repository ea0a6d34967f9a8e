package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptAESGCM(t *testing.T) {
	key := MustRandom(32)
	plain := []byte(`{"grantCode":"x","tokens":{}}`)

	blob, err := EncryptAESGCM(key, plain)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(blob, plain))

	got, err := DecryptAESGCM(key, blob)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestDecryptAESGCMWrongKey(t *testing.T) {
	blob, err := EncryptAESGCM(MustRandom(32), []byte("secret"))
	require.NoError(t, err)

	_, err = DecryptAESGCM(MustRandom(32), blob)
	assert.Error(t, err)
}

func TestDecryptAESGCMShortBlob(t *testing.T) {
	_, err := DecryptAESGCM(MustRandom(32), []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestEncryptAESGCMBadKey(t *testing.T) {
	_, err := EncryptAESGCM([]byte("short"), []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestDeriveKeyIsDeterministicPerInfo(t *testing.T) {
	master := MustRandom(32)

	a1, err := DeriveKey(master, "secret:tokens")
	require.NoError(t, err)
	a2, err := DeriveKey(master, "secret:tokens")
	require.NoError(t, err)
	b, err := DeriveKey(master, "secret:other")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.Len(t, a1, 32)
}

func TestNewTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		require.NoError(t, err)
		assert.Len(t, tok, 43)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestNewRoomCode(t *testing.T) {
	code, err := NewRoomCode(6)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, c := range code {
		assert.True(t, c >= '0' && c <= '9')
	}

	_, err = NewRoomCode(0)
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("a"), Fingerprint("a"))
	assert.NotEqual(t, Fingerprint("a"), Fingerprint("b"))
	assert.Len(t, Fingerprint("a"), 64)
}
