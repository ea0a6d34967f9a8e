// Package session binds live client connections to previously issued join
// tokens and fans outbound messages out to one, a room's worth, or all of
// them. A session outlives its connection: disconnecting clears the live
// handle but keeps the token bound until it is revoked.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harrylevesque/roombridge/internal/actions"
	"github.com/harrylevesque/roombridge/internal/models"
)

const (
	// ClientJoinedPath is dispatched each time a connection binds to a token.
	ClientJoinedPath = "/system/clientJoined"
	// RoomKeyPath tells a freshly bound client which room it is joined to.
	RoomKeyPath = "/system/roomKey"

	systemPrefix = "/system/"
)

// ErrRejected is returned when a connection presents a token that is not
// (or no longer) valid. The caller must close the connection as unauthorized.
var ErrRejected = errors.New("connection rejected")

// TokenLookup resolves a token to its credential.
type TokenLookup interface {
	Lookup(token string) (models.JoinCredential, error)
}

// Dispatcher runs inbound actions.
type Dispatcher interface {
	Dispatch(call actions.Call) bool
}

// ClientJoined is the content of the ClientJoinedPath event.
type ClientJoined struct {
	ClientID string `json:"clientId"`
	RoomKey  string `json:"roomKey"`
}

type session struct {
	token       string
	clientID    string
	roomKey     string
	conn        Conn
	connectedAt time.Time
}

// Manager tracks sessions. All map access goes through mu; no I/O happens
// while it is held.
type Manager struct {
	tokens     TokenLookup
	dispatcher Dispatcher
	connOpts   ConnOptions
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session            // token -> session
	byConn   map[string]string              // conn id -> token
	byClient map[string]string              // client id -> token
	rooms    map[string]map[string]struct{} // room key -> tokens
}

// NewManager creates a Manager with no sessions.
func NewManager(tokens TokenLookup, dispatcher Dispatcher, logger *slog.Logger, connOpts ConnOptions) *Manager {
	return &Manager{
		tokens:     tokens,
		dispatcher: dispatcher,
		connOpts:   connOpts.withDefaults(),
		logger:     logger.With("component", "sessions"),
		now:        time.Now,
		sessions:   make(map[string]*session),
		byConn:     make(map[string]string),
		byClient:   make(map[string]string),
		rooms:      make(map[string]map[string]struct{}),
	}
}

// LoadSessions creates idle sessions for credentials restored from
// persistence, so they are listed and addressable before clients reconnect.
func (m *Manager) LoadSessions(creds []models.JoinCredential) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range creds {
		if _, ok := m.sessions[c.Token]; ok {
			continue
		}
		m.sessions[c.Token] = &session{token: c.Token, clientID: c.ClientID, roomKey: c.RoomKey}
		m.byClient[c.ClientID] = c.Token
	}
	m.rebuildRoomIndexLocked()
}

func (m *Manager) rebuildRoomIndexLocked() {
	m.rooms = make(map[string]map[string]struct{})
	for tok, s := range m.sessions {
		set, ok := m.rooms[s.roomKey]
		if !ok {
			set = make(map[string]struct{})
			m.rooms[s.roomKey] = set
		}
		set[tok] = struct{}{}
	}
}

// BindConnection attaches conn to the session for token, creating the
// session if needed. Any connection previously bound to the token is closed.
func (m *Manager) BindConnection(token string, conn Conn) (models.SessionInfo, error) {
	cred, err := m.tokens.Lookup(token)
	if err != nil {
		return models.SessionInfo{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	m.mu.Lock()
	s, ok := m.sessions[token]
	if !ok {
		s = &session{token: token, clientID: cred.ClientID, roomKey: cred.RoomKey}
		m.sessions[token] = s
		m.byClient[s.clientID] = token
		set, ok := m.rooms[s.roomKey]
		if !ok {
			set = make(map[string]struct{})
			m.rooms[s.roomKey] = set
		}
		set[token] = struct{}{}
	}
	prior := s.conn
	if prior != nil {
		delete(m.byConn, prior.ID())
	}
	s.conn = conn
	s.connectedAt = m.now()
	m.byConn[conn.ID()] = token
	info := s.info()
	m.mu.Unlock()

	// A revoke that raced the lookup above must not leave a live session behind.
	if _, err := m.tokens.Lookup(token); err != nil {
		m.TokenRevoked(token)
		if prior != nil {
			prior.Close(websocket.ClosePolicyViolation, "token revoked")
		}
		return models.SessionInfo{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	if prior != nil && prior.ID() != conn.ID() {
		m.logger.Info("connection superseded", "client_id", info.ClientID, "conn_id", prior.ID())
		prior.Close(websocket.ClosePolicyViolation, "superseded by a newer connection")
	}
	m.logger.Info("client joined", "client_id", info.ClientID, "room_key", info.RoomKey, "conn_id", conn.ID())

	m.SendToToken(token, actions.Message{Type: RoomKeyPath, Content: info.RoomKey})
	m.emitClientJoined(info)
	return info, nil
}

func (m *Manager) emitClientJoined(info models.SessionInfo) {
	content, err := json.Marshal(ClientJoined{ClientID: info.ClientID, RoomKey: info.RoomKey})
	if err != nil {
		return
	}
	call := actions.Call{
		Path:     ClientJoinedPath,
		ID:       uuid.NewString(),
		ClientID: info.ClientID,
		RoomKey:  info.RoomKey,
		Content:  content,
	}
	if !m.dispatcher.Dispatch(call) {
		m.logger.Debug("no clientJoined handler registered")
	}
}

// Unbind clears the live handle bound to conn. Calling it again for the
// same connection, or for a connection that was superseded, does nothing.
func (m *Manager) Unbind(conn Conn) {
	m.mu.Lock()
	token, ok := m.byConn[conn.ID()]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byConn, conn.ID())
	var clientID string
	if s, ok := m.sessions[token]; ok && s.conn != nil && s.conn.ID() == conn.ID() {
		s.conn = nil
		clientID = s.clientID
	}
	m.mu.Unlock()

	m.logger.Info("client left", "client_id", clientID, "conn_id", conn.ID())
}

// drop treats conn as dead: unbinds it and closes the transport.
func (m *Manager) drop(conn Conn) {
	m.Unbind(conn)
	conn.Close(websocket.CloseGoingAway, "")
}

// TokenRevoked removes the session for token and closes its live connection.
func (m *Manager) TokenRevoked(token string) {
	m.mu.Lock()
	s, ok := m.sessions[token]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, token)
	delete(m.byClient, s.clientID)
	if set, ok := m.rooms[s.roomKey]; ok {
		delete(set, token)
		if len(set) == 0 {
			delete(m.rooms, s.roomKey)
		}
	}
	conn := s.conn
	if conn != nil {
		delete(m.byConn, conn.ID())
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.ClosePolicyViolation, "token revoked")
	}
	m.logger.Info("session removed", "client_id", s.clientID)
}

// SendToToken writes msg to the live connection bound to token, if any.
func (m *Manager) SendToToken(token string, msg actions.Message) {
	m.mu.RLock()
	var conn Conn
	if s, ok := m.sessions[token]; ok {
		conn = s.conn
	}
	m.mu.RUnlock()

	if conn == nil {
		return
	}
	if data, ok := m.encode(msg); ok {
		m.deliver(conn, data)
	}
}

// SendToClient writes msg to the live connection of the given client id, if any.
func (m *Manager) SendToClient(clientID string, msg actions.Message) {
	m.mu.RLock()
	token := m.byClient[clientID]
	m.mu.RUnlock()

	if token != "" {
		m.SendToToken(token, msg)
	}
}

// Broadcast writes msg to every live connection.
func (m *Manager) Broadcast(msg actions.Message) {
	m.mu.RLock()
	conns := make([]Conn, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.conn != nil {
			conns = append(conns, s.conn)
		}
	}
	m.mu.RUnlock()

	m.fanOut(conns, msg)
}

// BroadcastToRoom writes msg to every live connection joined to roomKey.
func (m *Manager) BroadcastToRoom(roomKey string, msg actions.Message) {
	m.mu.RLock()
	set := m.rooms[roomKey]
	conns := make([]Conn, 0, len(set))
	for tok := range set {
		if s := m.sessions[tok]; s != nil && s.conn != nil {
			conns = append(conns, s.conn)
		}
	}
	m.mu.RUnlock()

	m.fanOut(conns, msg)
}

func (m *Manager) fanOut(conns []Conn, msg actions.Message) {
	if len(conns) == 0 {
		return
	}
	data, ok := m.encode(msg)
	if !ok {
		return
	}
	for _, c := range conns {
		m.deliver(c, data)
	}
}

func (m *Manager) encode(msg actions.Message) ([]byte, bool) {
	data, err := msg.Encode()
	if err != nil {
		m.logger.Warn("cannot encode outbound message", "type", msg.Type, "error", err)
		return nil, false
	}
	return data, true
}

// deliver isolates each recipient: a failed send disconnects that client
// and is never reported to the caller.
func (m *Manager) deliver(conn Conn, data []byte) {
	if err := conn.Send(data); err != nil {
		m.logger.Debug("send failed, dropping connection", "conn_id", conn.ID(), "error", err)
		m.drop(conn)
	}
}

// HandleInboundMessage decodes one frame from conn and dispatches it with
// the client id and room key of the session conn is bound to. Malformed
// frames, unknown paths and /system/ paths are logged and dropped.
func (m *Manager) HandleInboundMessage(conn Conn, raw []byte) {
	in, err := actions.DecodeInbound(raw)
	if err != nil {
		m.logger.Warn("dropping inbound message", "conn_id", conn.ID(), "error", err)
		return
	}

	m.mu.RLock()
	var clientID, roomKey string
	token, bound := m.byConn[conn.ID()]
	if s, ok := m.sessions[token]; bound && ok {
		clientID, roomKey = s.clientID, s.roomKey
	}
	m.mu.RUnlock()
	if !bound {
		m.logger.Warn("dropping message from unbound connection", "conn_id", conn.ID(), "path", in.Path)
		return
	}
	// System events are raised by the server only.
	if strings.HasPrefix(in.Path, systemPrefix) {
		m.logger.Warn("dropping client-sent system path", "path", in.Path, "client_id", clientID)
		return
	}

	id := in.InvocationID
	if id == "" {
		id = uuid.NewString()
	}
	call := actions.Call{Path: in.Path, ID: id, ClientID: clientID, RoomKey: roomKey, Content: in.Content}
	if !m.dispatcher.Dispatch(call) {
		m.logger.Info("no action registered for path", "path", in.Path, "client_id", clientID)
	}
}

// ServeWebSocket binds ws to token and processes inbound frames in arrival
// order until the connection ends. It returns ErrRejected, after closing
// ws, when the token is not valid.
func (m *Manager) ServeWebSocket(ws *websocket.Conn, token string) error {
	conn := newWSConn(ws, m.connOpts, m.logger, m.drop)
	if _, err := m.BindConnection(token, conn); err != nil {
		m.logger.Warn("rejecting connection", "error", err)
		conn.Close(websocket.ClosePolicyViolation, "unauthorized")
		return err
	}
	defer m.drop(conn)

	ws.SetReadLimit(m.connOpts.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(m.connOpts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(m.connOpts.PongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			m.logger.Debug("read ended", "conn_id", conn.ID(), "error", err)
			return nil
		}
		_ = ws.SetReadDeadline(time.Now().Add(m.connOpts.PongWait))
		m.HandleInboundMessage(conn, raw)
	}
}

// CloseAll closes every live connection. Sessions stay bound to their tokens.
func (m *Manager) CloseAll(code int, reason string) {
	m.mu.RLock()
	conns := make([]Conn, 0, len(m.byConn))
	for _, s := range m.sessions {
		if s.conn != nil {
			conns = append(conns, s.conn)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		m.Unbind(c)
		c.Close(code, reason)
	}
}

// Session returns the session bound to token.
func (m *Manager) Session(token string) (models.SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	if !ok {
		return models.SessionInfo{}, false
	}
	return s.info(), true
}

// Sessions lists all sessions ordered by room key, then client id.
func (m *Manager) Sessions() []models.SessionInfo {
	m.mu.RLock()
	out := make([]models.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomKey != out[j].RoomKey {
			return out[i].RoomKey < out[j].RoomKey
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

func (s *session) info() models.SessionInfo {
	info := models.SessionInfo{
		Token:    s.token,
		ClientID: s.clientID,
		RoomKey:  s.roomKey,
		Live:     s.conn != nil,
	}
	if info.Live {
		info.ConnectedAt = s.connectedAt
	}
	return info
}
