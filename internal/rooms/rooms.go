// Package rooms resolves room keys to the live room bridges of this site.
package rooms

import (
	"sort"
	"sync"
	"time"

	"github.com/harrylevesque/roombridge/internal/crypto"
)

const (
	// DefaultCodeTTL is how long a user code stays valid when none is configured.
	DefaultCodeTTL = 24 * time.Hour
	codeDigits     = 6
)

// Room is one controllable room. Its user code is a short human code that
// rotates once it expires.
type Room struct {
	Key    string
	Name   string
	UUID   string
	Config map[string]any

	codeTTL time.Duration
	now     func() time.Time

	mu          sync.Mutex
	code        string
	codeExpires time.Time
	onRotate    []func(code string, expires time.Time)
}

// Options configures a Room.
type Options struct {
	Key     string
	Name    string
	UUID    string
	Config  map[string]any
	CodeTTL time.Duration
	Now     func() time.Time
}

// New creates a Room. A zero CodeTTL means DefaultCodeTTL.
func New(opts Options) *Room {
	ttl := opts.CodeTTL
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	name := opts.Name
	if name == "" {
		name = opts.Key
	}
	return &Room{
		Key:     opts.Key,
		Name:    name,
		UUID:    opts.UUID,
		Config:  opts.Config,
		codeTTL: ttl,
		now:     now,
	}
}

// UserCode returns the current code and its expiry, generating a fresh code
// if none exists or the previous one has expired.
func (r *Room) UserCode() (string, time.Time, error) {
	r.mu.Lock()
	if r.code != "" && r.now().Before(r.codeExpires) {
		code, exp := r.code, r.codeExpires
		r.mu.Unlock()
		return code, exp, nil
	}
	code, err := crypto.NewRoomCode(codeDigits)
	if err != nil {
		r.mu.Unlock()
		return "", time.Time{}, err
	}
	r.code = code
	r.codeExpires = r.now().Add(r.codeTTL)
	exp := r.codeExpires
	listeners := append([]func(string, time.Time){}, r.onRotate...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(code, exp)
	}
	return code, exp, nil
}

// OnCodeRotated registers fn to run after each new user code is generated.
func (r *Room) OnCodeRotated(fn func(code string, expires time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRotate = append(r.onRotate, fn)
}

// Directory is the fixed set of rooms served by this process.
type Directory struct {
	rooms map[string]*Room
}

// NewDirectory indexes rooms by key. Later duplicates replace earlier ones.
func NewDirectory(rooms ...*Room) *Directory {
	d := &Directory{rooms: make(map[string]*Room, len(rooms))}
	for _, r := range rooms {
		d.rooms[r.Key] = r
	}
	return d
}

// Room returns the room with the given key.
func (d *Directory) Room(key string) (*Room, bool) {
	r, ok := d.rooms[key]
	return r, ok
}

// Keys returns all room keys sorted.
func (d *Directory) Keys() []string {
	keys := make([]string, 0, len(d.rooms))
	for k := range d.rooms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
