package messenger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harrylevesque/roombridge/internal/actions"
	"github.com/harrylevesque/roombridge/internal/rooms"
)

// RoomMessenger exposes a room at /room/{key} and owns the device messengers
// that belong to it.
type RoomMessenger struct {
	*Messenger
	room *rooms.Room

	mu      sync.Mutex
	devices []*DeviceMessenger
}

// NewRoomMessenger creates an inactive messenger scoped to room.
func NewRoomMessenger(room *rooms.Room, registry *actions.Registry, sender Sender, logger *slog.Logger) *RoomMessenger {
	rm := &RoomMessenger{
		Messenger: New(room.Key, "/room/"+room.Key, room.Key, registry, sender, logger),
		room:      room,
	}
	room.OnCodeRotated(func(string, time.Time) {
		rm.Post(rm.FullStatus())
	})
	return rm
}

// Room returns the underlying room.
func (rm *RoomMessenger) Room() *rooms.Room { return rm.room }

// AddDevice attaches a device messenger to this room. The caller activates it.
func (rm *RoomMessenger) AddDevice(dm *DeviceMessenger) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.devices = append(rm.devices, dm)
}

// Devices returns the attached device messengers.
func (rm *RoomMessenger) Devices() []*DeviceMessenger {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return append([]*DeviceMessenger{}, rm.devices...)
}

// Activate registers the room's actions.
func (rm *RoomMessenger) Activate() {
	rm.AddAction("fullStatus", func(call actions.Call) error {
		rm.SendFullStatus(call.ClientID)
		return nil
	})
}

// FullStatus describes the room. A code generation failure leaves the code
// fields empty rather than failing the whole status.
func (rm *RoomMessenger) FullStatus() map[string]any {
	st := map[string]any{
		"name": rm.room.Name,
		"uuid": rm.room.UUID,
	}
	if code, exp, err := rm.room.UserCode(); err != nil {
		rm.logger.Error("user code unavailable", "error", err)
	} else {
		st["userCode"] = code
		st["codeExpires"] = exp.UTC()
	}

	keys := []string{}
	for _, dm := range rm.Devices() {
		keys = append(keys, dm.Key())
	}
	st["devices"] = keys
	return st
}

// SendFullStatus pushes the room's status and then every device's status
// to one client.
func (rm *RoomMessenger) SendFullStatus(clientID string) {
	rm.SendTo(clientID, rm.FullStatus())
	for _, dm := range rm.Devices() {
		dm.SendFullStatus(clientID)
	}
}
