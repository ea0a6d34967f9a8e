// Package config loads the site configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "ROOMBRIDGE_CONFIG"

var ErrInvalidConfig = errors.New("invalid config")

// joinFrames counts the frames queued for a joining client besides one
// status per device: the room key and the room status.
const joinFrames = 2

// Duration is a time.Duration written as "30s" or "24h" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, n.Value, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type Server struct {
	Listen      string `yaml:"listen"`
	UserAppURL  string `yaml:"userAppUrl"`
	EnableDebug bool   `yaml:"enableDebug"`
	TLS         TLS    `yaml:"tls"`
}

type System struct {
	UUID              string `yaml:"uuid"`
	ProcessorHardware bool   `yaml:"processorHardware"`
}

type Secrets struct {
	Dir     string `yaml:"dir"`
	KeyFile string `yaml:"keyFile"`
	Key     string `yaml:"key"`
}

type Grant struct {
	CodeHash string `yaml:"codeHash"`
}

type Room struct {
	Key           string         `yaml:"key"`
	Name          string         `yaml:"name"`
	UUID          string         `yaml:"uuid"`
	GrantCodeHash string         `yaml:"grantCodeHash"`
	CodeTTL       Duration       `yaml:"codeTTL"`
	Config        map[string]any `yaml:"config"`
}

type Device struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Room string `yaml:"room"`
}

type Session struct {
	PingInterval    Duration `yaml:"pingInterval"`
	PongWait        Duration `yaml:"pongWait"`
	WriteWait       Duration `yaml:"writeWait"`
	SendBuffer      int      `yaml:"sendBuffer"`
	MaxMessageBytes int64    `yaml:"maxMessageBytes"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Config is the whole site configuration.
type Config struct {
	Server  Server   `yaml:"server"`
	System  System   `yaml:"system"`
	Secrets Secrets  `yaml:"secrets"`
	Grant   Grant    `yaml:"grant"`
	Rooms   []Room   `yaml:"rooms"`
	Devices []Device `yaml:"devices"`
	Session Session  `yaml:"session"`
	Log     Log      `yaml:"log"`
}

// Default returns the configuration used for every omitted field.
func Default() Config {
	return Config{
		Server:  Server{Listen: ":50000"},
		Secrets: Secrets{Dir: "encrypted_data", KeyFile: "master.key", Key: "roombridge.tokens"},
		Session: Session{
			PingInterval:    Duration(30 * time.Second),
			PongWait:        Duration(60 * time.Second),
			WriteWait:       Duration(10 * time.Second),
			SendBuffer:      64,
			MaxMessageBytes: 64 << 10,
		},
		Log: Log{Level: "info"},
	}
}

// Path picks the config file: the flag value if set, else $ROOMBRIDGE_CONFIG.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvConfigPath)
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	rooms := make(map[string]bool, len(c.Rooms))
	for i, r := range c.Rooms {
		switch {
		case r.Key == "":
			errs = append(errs, fmt.Errorf("rooms[%d]: key is required", i))
		case rooms[r.Key]:
			errs = append(errs, fmt.Errorf("rooms[%d]: duplicate key %q", i, r.Key))
		}
		if r.CodeTTL < 0 {
			errs = append(errs, fmt.Errorf("rooms[%d]: codeTTL must not be negative", i))
		}
		rooms[r.Key] = true
	}

	devices := make(map[string]bool, len(c.Devices))
	perRoom := make(map[string]int)
	for i, d := range c.Devices {
		if d.Room != "" {
			perRoom[d.Room]++
		}
		switch {
		case d.Key == "":
			errs = append(errs, fmt.Errorf("devices[%d]: key is required", i))
		case devices[d.Key]:
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate key %q", i, d.Key))
		}
		devices[d.Key] = true
		if d.Room != "" && !rooms[d.Room] {
			errs = append(errs, fmt.Errorf("devices[%d]: unknown room %q", i, d.Room))
		}
		if d.Type != "" && d.Type != "display" {
			errs = append(errs, fmt.Errorf("devices[%d]: unsupported type %q", i, d.Type))
		}
	}

	s := c.Session
	if s.PingInterval <= 0 || s.PongWait <= 0 || s.WriteWait <= 0 {
		errs = append(errs, errors.New("session: durations must be positive"))
	}
	if s.PingInterval >= s.PongWait {
		errs = append(errs, errors.New("session: pingInterval must be shorter than pongWait"))
	}
	if s.SendBuffer <= 0 {
		errs = append(errs, errors.New("session: sendBuffer must be positive"))
	}
	// A joining client gets its whole room's status in one burst.
	for room, n := range perRoom {
		if need := n + joinFrames; s.SendBuffer > 0 && s.SendBuffer < need {
			errs = append(errs, fmt.Errorf("session: sendBuffer %d is below %d needed to join room %q", s.SendBuffer, need, room))
		}
	}
	if (c.Server.TLS.Cert == "") != (c.Server.TLS.Key == "") {
		errs = append(errs, errors.New("server.tls: cert and key must be set together"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
