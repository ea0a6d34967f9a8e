// Package devices holds in-process device implementations. Real hardware
// drivers live outside this repository; the simulated display lets a site
// without them still expose working controls.
package devices

import (
	"log/slog"

	"github.com/harrylevesque/roombridge/internal/feedback"
)

const volumeStep = 5

// Display is a simulated display with power, volume and online state.
type Display struct {
	key    string
	name   string
	logger *slog.Logger

	power  feedback.Bool
	volume feedback.Int
	mute   feedback.Bool
	online feedback.Bool
}

// NewDisplay returns a powered-off, online display.
func NewDisplay(key, name string, logger *slog.Logger) *Display {
	d := &Display{key: key, name: name, logger: logger.With("device", key)}
	d.online.Set(true)
	return d
}

func (d *Display) Key() string  { return d.key }
func (d *Display) Name() string { return d.name }

func (d *Display) PowerOn() {
	d.logger.Debug("power on")
	d.power.Set(true)
}

func (d *Display) PowerOff() {
	d.logger.Debug("power off")
	d.power.Set(false)
}

func (d *Display) PowerToggle() { d.power.Set(!d.power.Get()) }

func (d *Display) PowerFeedback() *feedback.Bool { return &d.power }

// SetVolume clamps level to 0..100.
func (d *Display) SetVolume(level int) {
	d.volume.Set(min(max(level, 0), 100))
}

func (d *Display) VolumeUp()   { d.SetVolume(d.volume.Get() + volumeStep) }
func (d *Display) VolumeDown() { d.SetVolume(d.volume.Get() - volumeStep) }
func (d *Display) MuteToggle() { d.mute.Set(!d.mute.Get()) }

func (d *Display) VolumeFeedback() *feedback.Int { return &d.volume }
func (d *Display) MuteFeedback() *feedback.Bool  { return &d.mute }
func (d *Display) OnlineFeedback() *feedback.Bool { return &d.online }

// SetOnline simulates the device dropping off or returning to the network.
func (d *Display) SetOnline(online bool) { d.online.Set(online) }
