package messenger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harrylevesque/roombridge/internal/actions"
	"github.com/harrylevesque/roombridge/internal/session"
)

// Site owns every room messenger and answers the session layer's
// clientJoined event by sending the joined room's full status.
type Site struct {
	registry *actions.Registry
	logger   *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*RoomMessenger
}

// NewSite registers the clientJoined handler on registry.
func NewSite(registry *actions.Registry, logger *slog.Logger) *Site {
	s := &Site{
		registry: registry,
		logger:   logger.With("component", "site"),
		rooms:    make(map[string]*RoomMessenger),
	}
	registry.Register(session.ClientJoinedPath, s.clientJoined)
	return s
}

// AddRoom activates rm and every device already attached to it.
func (s *Site) AddRoom(rm *RoomMessenger) {
	rm.Activate()
	for _, dm := range rm.Devices() {
		dm.Activate()
	}

	s.mu.Lock()
	prev := s.rooms[rm.Key()]
	s.rooms[rm.Key()] = rm
	s.mu.Unlock()

	if prev != nil && prev != rm {
		s.logger.Warn("room messenger replaced", "room_key", rm.Key())
	}
}

// Room returns the messenger for roomKey.
func (s *Site) Room(roomKey string) (*RoomMessenger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rm, ok := s.rooms[roomKey]
	return rm, ok
}

// Close deactivates every room and device messenger.
func (s *Site) Close() {
	s.mu.Lock()
	all := s.rooms
	s.rooms = make(map[string]*RoomMessenger)
	s.mu.Unlock()

	for _, rm := range all {
		for _, dm := range rm.Devices() {
			dm.Deactivate()
		}
		rm.Deactivate()
	}
	s.registry.Unregister(session.ClientJoinedPath)
}

// clientJoined addresses the session the call was raised for. The event
// content is informational and never selects the recipient or the room.
func (s *Site) clientJoined(call actions.Call) error {
	if call.ClientID == "" || call.RoomKey == "" {
		return errors.New("clientJoined: call carries no session")
	}
	rm, ok := s.Room(call.RoomKey)
	if !ok {
		return fmt.Errorf("clientJoined: no messenger for room %q", call.RoomKey)
	}
	rm.SendFullStatus(call.ClientID)
	return nil
}
