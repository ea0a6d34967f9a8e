package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/harrylevesque/roombridge/internal/actions"
	"github.com/harrylevesque/roombridge/internal/auth"
	"github.com/harrylevesque/roombridge/internal/devices"
	"github.com/harrylevesque/roombridge/internal/files"
	"github.com/harrylevesque/roombridge/internal/messenger"
	"github.com/harrylevesque/roombridge/internal/rooms"
	"github.com/harrylevesque/roombridge/internal/session"
	"github.com/harrylevesque/roombridge/internal/version"
)

type bridge struct {
	srv      *httptest.Server
	tokens   *auth.TokenStore
	sessions *session.Manager
	tv       *devices.Display
	otherTV  *devices.Display
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hash, err := bcrypt.GenerateFromPassword([]byte("open-sesame"), bcrypt.MinCost)
	require.NoError(t, err)

	huddle := rooms.New(rooms.Options{
		Key:    "huddle1",
		Name:   "Huddle 1",
		UUID:   "room-uuid-1",
		Config: map[string]any{"theme": "dark"},
	})
	other := rooms.New(rooms.Options{Key: "huddle2", Name: "Huddle 2"})
	// A room whose bridge has gone away still has tokens in the store.
	gone := rooms.New(rooms.Options{Key: "gone"})
	allRooms := rooms.NewDirectory(huddle, other, gone)

	tokens := auth.NewTokenStore(auth.TokenStoreOptions{
		Secrets:  &files.MemorySecretStore{},
		Rooms:    allRooms,
		Grants:   &auth.BcryptGrants{SiteHash: string(hash)},
		SystemID: "sys-1",
		Logger:   logger,
	})
	registry := actions.NewRegistry(logger)
	sessions := session.NewManager(tokens, registry, logger, session.ConnOptions{})
	tokens.OnRevoke(sessions.TokenRevoked)

	site := messenger.NewSite(registry, logger)
	rm := messenger.NewRoomMessenger(huddle, registry, sessions, logger)
	tv := devices.NewDisplay("tv1", "Front TV", logger)
	rm.AddDevice(messenger.NewDeviceMessenger(tv, huddle.Key, registry, sessions, logger))
	site.AddRoom(rm)
	otherRM := messenger.NewRoomMessenger(other, registry, sessions, logger)
	otherTV := devices.NewDisplay("tv2", "Back TV", logger)
	otherRM.AddDevice(messenger.NewDeviceMessenger(otherTV, other.Key, registry, sessions, logger))
	site.AddRoom(otherRM)
	for _, r := range []*rooms.Room{huddle, other} {
		_, _, err = r.UserCode()
		require.NoError(t, err)
	}

	s := NewServer(tokens, rooms.NewDirectory(huddle, other), sessions, SiteInfo{
		SystemUUID:  "sys-1",
		UserAppURL:  "https://app.example.com",
		EnableDebug: true,
	}, logger)
	srv := httptest.NewServer(NewRouter(s))
	t.Cleanup(func() {
		sessions.CloseAll(websocket.CloseGoingAway, "test done")
		srv.Close()
	})
	return &bridge{srv: srv, tokens: tokens, sessions: sessions, tv: tv, otherTV: otherTV}
}

func (b *bridge) issue(t *testing.T, room string) string {
	t.Helper()
	cred, err := b.tokens.IssueToken(room, "open-sesame")
	require.NoError(t, err)
	return cred.Token
}

func (b *bridge) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/join/" + token
	return websocket.DefaultDialer.Dial(u, nil)
}

func readMessage(t *testing.T, ws *websocket.Conn) actions.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m actions.Message
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

func TestHealth(t *testing.T) {
	b := newBridge(t)
	resp, err := http.Get(b.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVersion(t *testing.T) {
	b := newBridge(t)
	resp, err := http.Get(b.srv.URL + "/version")
	require.NoError(t, err)
	defer resp.Body.Close()

	var v VersionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, version.Version, v.ServerVersion)
	assert.False(t, v.ServerIsRunningOnProcessorHardware)
}

func TestJoin(t *testing.T) {
	b := newBridge(t)
	token := b.issue(t, "huddle1")

	resp, err := http.Get(b.srv.URL + "/join?token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var j JoinResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&j))
	cred, err := b.tokens.Lookup(token)
	require.NoError(t, err)

	assert.Equal(t, cred.ClientID, j.ClientID)
	assert.Equal(t, "huddle1", j.RoomKey)
	assert.Equal(t, "sys-1", j.SystemUUID)
	assert.Equal(t, "room-uuid-1", j.RoomUUID)
	assert.Equal(t, map[string]any{"theme": "dark"}, j.Config)
	assert.Len(t, j.UserCode, 6)
	assert.True(t, j.CodeExpires.After(time.Now()))
	assert.Equal(t, "https://app.example.com", j.UserAppURL)
	assert.True(t, j.EnableDebug)
	assert.Equal(t, "/join/"+token, j.ConnectionPath)

	_, ok := b.sessions.Session(token)
	assert.False(t, ok, "join bootstrap must not create a session")
}

func TestJoinErrors(t *testing.T) {
	b := newBridge(t)
	goneToken := b.issue(t, "gone")

	cases := []struct {
		name   string
		query  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"unknown token", "?token=nope", http.StatusUnauthorized},
		{"room without bridge", "?token=" + goneToken, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(b.srv.URL + "/join" + tc.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestConnectRejectsUnknownToken(t *testing.T) {
	b := newBridge(t)
	_, resp, err := b.dial(t, "nope")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectPushesStateAndDispatchesCommands(t *testing.T) {
	b := newBridge(t)
	token := b.issue(t, "huddle1")

	ws, _, err := b.dial(t, token)
	require.NoError(t, err)
	defer ws.Close()

	m := readMessage(t, ws)
	assert.Equal(t, session.RoomKeyPath, m.Type)
	assert.Equal(t, "huddle1", m.Content)

	m = readMessage(t, ws)
	assert.Equal(t, "/room/huddle1", m.Type)
	m = readMessage(t, ws)
	assert.Equal(t, "/device/tv1", m.Type)

	info, ok := b.sessions.Session(token)
	require.True(t, ok)
	assert.True(t, info.Live)

	require.NoError(t, ws.WriteJSON(actions.Inbound{Path: "/device/tv1/powerOn", InvocationID: "inv-1"}))
	m = readMessage(t, ws)
	assert.Equal(t, "/device/tv1", m.Type)
	assert.Equal(t, map[string]any{"powerState": true}, m.Content)
	assert.True(t, b.tv.PowerFeedback().Get())
}

func TestReconnectSupersedesAndRevokeCloses(t *testing.T) {
	b := newBridge(t)
	token := b.issue(t, "huddle1")

	first, _, err := b.dial(t, token)
	require.NoError(t, err)
	defer first.Close()
	readMessage(t, first)

	second, _, err := b.dial(t, token)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, session.RoomKeyPath, readMessage(t, second).Type)

	// The superseded connection is closed by the server.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	require.True(t, b.tokens.Revoke(token))
	_, ok := b.sessions.Session(token)
	assert.False(t, ok)

	_, resp, err := b.dial(t, token)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectCannotReachAnotherRoom(t *testing.T) {
	b := newBridge(t)
	token := b.issue(t, "huddle1")

	ws, _, err := b.dial(t, token)
	require.NoError(t, err)
	defer ws.Close()
	for i := 0; i < 3; i++ {
		readMessage(t, ws)
	}

	for _, in := range []actions.Inbound{
		{Path: "/device/tv2/powerOn"},
		{Path: "/room/huddle2/fullStatus"},
		{Path: "/device/tv2/fullStatus"},
		{Path: session.ClientJoinedPath, Content: []byte(`{"clientId":"x","roomKey":"huddle2"}`)},
		// Inbound frames are handled in order, so this reply comes after any
		// message the calls above could have produced.
		{Path: "/device/tv1/fullStatus"},
	} {
		require.NoError(t, ws.WriteJSON(in))
	}

	m := readMessage(t, ws)
	assert.Equal(t, "/device/tv1", m.Type)
	assert.Equal(t, "Front TV", m.Content.(map[string]any)["name"])
	assert.False(t, b.otherTV.PowerFeedback().Get())
}
