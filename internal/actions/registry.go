// Package actions is the path-keyed dispatch table for inbound client
// commands. Feature modules register handlers under a path at runtime and the
// session layer dispatches decoded envelopes to them without knowing what
// kind of device or room sits behind a path.
package actions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Call is one invocation of a registered action. ClientID and RoomKey
// identify the session the call arrived on; both are empty for calls the
// server makes itself.
type Call struct {
	Path     string
	ID       string
	ClientID string
	RoomKey  string
	Content  json.RawMessage
}

// Handler executes an action. A returned error is logged against the call;
// it never reaches the client connection.
type Handler func(call Call) error

// Registry is a thread-safe map from path to Handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "actions"),
	}
}

// Register adds a handler for path. An existing handler at the same path is replaced.
func (r *Registry) Register(path string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[path]; ok {
		r.logger.Debug("replacing action", "path", path)
	}
	r.handlers[path] = h
}

// Unregister removes the handler for path. Unknown paths are ignored.
func (r *Registry) Unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, path)
}

// Has reports whether a handler is registered at path.
func (r *Registry) Has(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[path]
	return ok
}

// Paths returns all registered paths sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Dispatch runs the handler registered at call.Path on the calling goroutine
// and reports whether one was found. Handler errors and panics are logged
// with the path and invocation id and do not propagate.
func (r *Registry) Dispatch(call Call) bool {
	r.mu.RLock()
	h, ok := r.handlers[call.Path]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	if err := r.invoke(h, call); err != nil {
		r.logger.Warn("action handler failed",
			"path", call.Path, "invocation_id", call.ID, "client_id", call.ClientID, "error", err)
	}
	return true
}

func (r *Registry) invoke(h Handler, call Call) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(call)
}
