package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	logger, closer, err := NewLogger(slog.LevelInfo, path)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("token issued", "room_key", "huddle1")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "room_key=huddle1")
	assert.NotContains(t, string(b), "hidden")
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NewAPIError(http.StatusUnauthorized, "token not found"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"error": "token not found"}, body)
}

func TestSystemUUID(t *testing.T) {
	id, source := SystemUUID("site-1")
	assert.Equal(t, "site-1", id)
	assert.Equal(t, "config", source)

	id, source = SystemUUID("")
	assert.Contains(t, []string{"hardware", "random"}, source)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	if source == "hardware" {
		again, _ := SystemUUID("")
		assert.Equal(t, id, again, "hardware-derived id is stable")
	}
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/abs/keys", ResolvePath("/etc/rb/site.yaml", "/abs/keys"))
	assert.Equal(t, filepath.Join("/etc/rb", "keys"), ResolvePath("/etc/rb/site.yaml", "keys"))
	assert.Equal(t, "", ResolvePath("/etc/rb/site.yaml", ""))
}
