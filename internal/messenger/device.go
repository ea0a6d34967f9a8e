package messenger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harrylevesque/roombridge/internal/actions"
	"github.com/harrylevesque/roombridge/internal/feedback"
)

// Device is the descriptor every controllable device provides. Capabilities
// are declared by additionally implementing the optional interfaces below.
type Device interface {
	Key() string
	Name() string
}

// PowerControl is a device that can be switched on and off.
type PowerControl interface {
	PowerOn()
	PowerOff()
	PowerToggle()
	PowerFeedback() *feedback.Bool
}

// VolumeControl is a device with an adjustable level and mute.
type VolumeControl interface {
	SetVolume(level int)
	VolumeUp()
	VolumeDown()
	MuteToggle()
	VolumeFeedback() *feedback.Int
	MuteFeedback() *feedback.Bool
}

// OnlineStatus is a device that reports whether it is reachable.
type OnlineStatus interface {
	OnlineFeedback() *feedback.Bool
}

// capability binds one optional interface of a device to actions and feedback.
type capability struct {
	name string
	has  func(d Device) bool
	bind func(dm *DeviceMessenger, d Device) bool
}

var capabilities = []capability{
	{name: "power", has: implements[PowerControl], bind: bindPower},
	{name: "volume", has: implements[VolumeControl], bind: bindVolume},
	{name: "online", has: implements[OnlineStatus], bind: bindOnline},
}

func implements[T any](d Device) bool {
	_, ok := d.(T)
	return ok
}

// Capabilities lists the capability names d declares.
func Capabilities(d Device) []string {
	var out []string
	for _, c := range capabilities {
		if c.has(d) {
			out = append(out, c.name)
		}
	}
	return out
}

// DeviceMessenger exposes one device at /device/{key}.
type DeviceMessenger struct {
	*Messenger
	device Device

	mu     sync.Mutex
	caps   []string
	status []func(map[string]any)
	unsubs []func()
}

// NewDeviceMessenger creates an inactive messenger for d. Status updates are
// scoped to roomKey when it is set.
func NewDeviceMessenger(d Device, roomKey string, registry *actions.Registry, sender Sender, logger *slog.Logger) *DeviceMessenger {
	return &DeviceMessenger{
		Messenger: New(d.Key(), "/device/"+d.Key(), roomKey, registry, sender, logger),
		device:    d,
	}
}

// Activate registers the actions of every capability the device declares
// and subscribes to its feedback.
func (dm *DeviceMessenger) Activate() {
	var bound []string
	for _, c := range capabilities {
		if c.bind(dm, dm.device) {
			bound = append(bound, c.name)
		}
	}
	dm.mu.Lock()
	dm.caps = bound
	dm.mu.Unlock()

	dm.AddAction("fullStatus", func(call actions.Call) error {
		dm.SendFullStatus(call.ClientID)
		return nil
	})
	dm.logger.Debug("device messenger active", "capabilities", bound)
}

// Deactivate unregisters all actions and feedback subscriptions.
func (dm *DeviceMessenger) Deactivate() {
	dm.mu.Lock()
	unsubs := dm.unsubs
	dm.unsubs = nil
	dm.status = nil
	dm.caps = nil
	dm.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	dm.Messenger.Deactivate()
}

// FullStatus returns the complete current state of the device.
func (dm *DeviceMessenger) FullStatus() map[string]any {
	dm.mu.Lock()
	fns := append([]func(map[string]any){}, dm.status...)
	caps := append([]string{}, dm.caps...)
	dm.mu.Unlock()

	st := map[string]any{
		"name":         dm.device.Name(),
		"capabilities": caps,
	}
	for _, fn := range fns {
		fn(st)
	}
	return st
}

// SendFullStatus pushes FullStatus to one client.
func (dm *DeviceMessenger) SendFullStatus(clientID string) {
	dm.SendTo(clientID, dm.FullStatus())
}

func (dm *DeviceMessenger) track(status func(map[string]any), unsubs ...func()) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.status = append(dm.status, status)
	dm.unsubs = append(dm.unsubs, unsubs...)
}

func noContent(fn func()) actions.Handler {
	return func(actions.Call) error {
		fn()
		return nil
	}
}

func bindPower(dm *DeviceMessenger, d Device) bool {
	p, ok := d.(PowerControl)
	if !ok {
		return false
	}
	dm.AddAction("powerOn", noContent(p.PowerOn))
	dm.AddAction("powerOff", noContent(p.PowerOff))
	dm.AddAction("powerToggle", noContent(p.PowerToggle))

	unsub := p.PowerFeedback().Subscribe(func(on bool) {
		dm.Post(map[string]any{"powerState": on})
	})
	dm.track(func(st map[string]any) { st["powerState"] = p.PowerFeedback().Get() }, unsub)
	return true
}

type levelContent struct {
	Value *int `json:"value"`
}

func bindVolume(dm *DeviceMessenger, d Device) bool {
	v, ok := d.(VolumeControl)
	if !ok {
		return false
	}
	dm.AddAction("volume/level", func(call actions.Call) error {
		var c levelContent
		if err := json.Unmarshal(call.Content, &c); err != nil {
			return fmt.Errorf("decode level: %w", err)
		}
		if c.Value == nil {
			return fmt.Errorf("level: missing value")
		}
		v.SetVolume(*c.Value)
		return nil
	})
	dm.AddAction("volume/up", noContent(v.VolumeUp))
	dm.AddAction("volume/down", noContent(v.VolumeDown))
	dm.AddAction("volume/muteToggle", noContent(v.MuteToggle))

	unsubLevel := v.VolumeFeedback().Subscribe(func(level int) {
		dm.Post(map[string]any{"volume": map[string]any{"level": level}})
	})
	unsubMute := v.MuteFeedback().Subscribe(func(muted bool) {
		dm.Post(map[string]any{"volume": map[string]any{"muted": muted}})
	})
	dm.track(func(st map[string]any) {
		st["volume"] = map[string]any{
			"level": v.VolumeFeedback().Get(),
			"muted": v.MuteFeedback().Get(),
		}
	}, unsubLevel, unsubMute)
	return true
}

func bindOnline(dm *DeviceMessenger, d Device) bool {
	o, ok := d.(OnlineStatus)
	if !ok {
		return false
	}
	unsub := o.OnlineFeedback().Subscribe(func(online bool) {
		dm.Post(map[string]any{"isOnline": online})
	})
	dm.track(func(st map[string]any) { st["isOnline"] = o.OnlineFeedback().Get() }, unsub)
	return true
}
