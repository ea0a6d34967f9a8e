// Package feedback provides observable device state values. Subscribers are
// called on the goroutine that changed the value, after the lock is released.
package feedback

import "sync"

// Value is an observable value of a comparable type. The zero value is ready to use.
type Value[T comparable] struct {
	mu     sync.RWMutex
	v      T
	nextID int
	subs   map[int]func(T)
}

// Bool is a boolean feedback such as power or mute state.
type Bool = Value[bool]

// Int is an integer feedback such as a volume level.
type Int = Value[int]

// String is a text feedback such as the current input.
type String = Value[string]

// Get returns the current value.
func (f *Value[T]) Get() T {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.v
}

// Set stores v and notifies subscribers if it differs from the current value.
func (f *Value[T]) Set(v T) {
	f.mu.Lock()
	if f.v == v {
		f.mu.Unlock()
		return
	}
	f.v = v
	subs := make([]func(T), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Subscribe registers fn for changes and returns a function that removes it.
func (f *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs == nil {
		f.subs = make(map[int]func(T))
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}
