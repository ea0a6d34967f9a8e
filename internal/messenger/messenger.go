// Package messenger exposes devices and rooms to clients. A messenger owns
// a message path, registers its actions into the shared action registry
// under that path, and pushes state changes out through a Sender.
package messenger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harrylevesque/roombridge/internal/actions"
)

// ErrOutOfScope is returned by a room-scoped action called from a session
// joined to a different room.
var ErrOutOfScope = errors.New("action not available to this room")

// Sender delivers outbound status messages. Implementations must not block
// the caller on slow clients.
type Sender interface {
	Broadcast(msg actions.Message)
	BroadcastToRoom(roomKey string, msg actions.Message)
	SendToClient(clientID string, msg actions.Message)
}

// Messenger is the registration and emission base shared by device and room messengers.
type Messenger struct {
	key      string
	path     string
	roomKey  string
	registry *actions.Registry
	sender   Sender
	logger   *slog.Logger

	mu    sync.Mutex
	paths map[string]struct{}
}

// New creates a messenger for path. When roomKey is set, status posts only
// reach clients joined to that room.
func New(key, path, roomKey string, registry *actions.Registry, sender Sender, logger *slog.Logger) *Messenger {
	return &Messenger{
		key:      key,
		path:     path,
		roomKey:  roomKey,
		registry: registry,
		sender:   sender,
		logger:   logger.With("messenger", path),
		paths:    make(map[string]struct{}),
	}
}

// Key returns the key of the device or room behind this messenger.
func (m *Messenger) Key() string { return m.key }

// Path returns the message path status updates are posted under.
func (m *Messenger) Path() string { return m.path }

// AddAction registers h at Path()+"/"+name. On a room-scoped messenger h
// only runs for calls whose RoomKey matches that room.
func (m *Messenger) AddAction(name string, h actions.Handler) {
	full := m.path + "/" + name
	m.mu.Lock()
	m.paths[full] = struct{}{}
	m.mu.Unlock()

	m.registry.Register(full, m.scoped(h))
}

func (m *Messenger) scoped(h actions.Handler) actions.Handler {
	if m.roomKey == "" {
		return h
	}
	return func(call actions.Call) error {
		if call.RoomKey != m.roomKey {
			return fmt.Errorf("%w: %s belongs to room %q, caller joined %q",
				ErrOutOfScope, call.Path, m.roomKey, call.RoomKey)
		}
		return h(call)
	}
}

// RemoveAction unregisters the action added under name.
func (m *Messenger) RemoveAction(name string) {
	full := m.path + "/" + name
	m.mu.Lock()
	delete(m.paths, full)
	m.mu.Unlock()

	m.registry.Unregister(full)
}

// Actions returns the number of actions currently registered by this messenger.
func (m *Messenger) Actions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.paths)
}

// Deactivate unregisters every action this messenger added.
func (m *Messenger) Deactivate() {
	m.mu.Lock()
	paths := m.paths
	m.paths = make(map[string]struct{})
	m.mu.Unlock()

	for p := range paths {
		m.registry.Unregister(p)
	}
}

// Post pushes content under Path() to every interested client.
func (m *Messenger) Post(content any) {
	msg := actions.Message{Type: m.path, Content: content}
	if m.roomKey != "" {
		m.sender.BroadcastToRoom(m.roomKey, msg)
		return
	}
	m.sender.Broadcast(msg)
}

// SendTo pushes content under Path() to one client.
func (m *Messenger) SendTo(clientID string, content any) {
	m.sender.SendToClient(clientID, actions.Message{Type: m.path, Content: content})
}
