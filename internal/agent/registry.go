// Package agent keeps ordered lists of interceptors ("agents") and the
// single function combining them.
//
// Agents form a chain: the combined function calls the first agent, which
// may call its continuation to run the next one, and so on up to a terminal
// action. The registry rebuilds the combination whenever the list changes,
// so callers holding the result of Current keep working without
// re-registration.
package agent

import (
	"errors"
	"reflect"
	"sync"

	"navnerd-mcp-server/internal/stream"
)

// ErrNilAgent is the panic value for registering a nil agent.
var ErrNilAgent = errors.New("agent: nil agent")

type entry[A any] struct {
	agent A
}

// Registry holds agents of type A in registration order together with their
// combination of type C.
type Registry[A, C any] struct {
	combine func(agents []A) C

	mu       sync.RWMutex
	entries  []*entry[A]
	combined C
	changes  *stream.Tracker[[]A]
}

// NewRegistry returns an empty registry. combine must accept an empty slice
// and return the terminal-only combination for it.
func NewRegistry[A, C any](combine func(agents []A) C) *Registry[A, C] {
	return &Registry[A, C]{
		combine:  combine,
		combined: combine(nil),
		changes:  stream.NewTracker[[]A](nil),
	}
}

// Add appends agents to the chain. Turning the returned supply off removes
// all of them at once.
func (r *Registry[A, C]) Add(agents ...A) *stream.Supply {
	added := make([]*entry[A], 0, len(agents))
	for _, a := range agents {
		if isNil(a) {
			panic(ErrNilAgent)
		}
		added = append(added, &entry[A]{agent: a})
	}

	supply := stream.NewSupply()
	if len(added) == 0 {
		supply.Off(nil)
		return supply
	}

	r.mu.Lock()
	r.entries = append(r.entries, added...)
	list := r.rebuildLocked()
	r.mu.Unlock()
	r.changes.Set(list)

	supply.WhenOff(func(error) {
		r.remove(added)
	})
	return supply
}

// Current returns the combination of the agents registered right now.
func (r *Registry[A, C]) Current() C {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.combined
}

// Agents returns the registered agents in call order.
func (r *Registry[A, C]) Agents() []A {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

// Len returns the number of registered agents.
func (r *Registry[A, C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Changes streams the agent list, starting with the current one.
func (r *Registry[A, C]) Changes() stream.OnEvent[[]A] {
	return r.changes
}

func (r *Registry[A, C]) remove(removed []*entry[A]) {
	drop := make(map[*entry[A]]struct{}, len(removed))
	for _, e := range removed {
		drop[e] = struct{}{}
	}

	r.mu.Lock()
	kept := r.entries[:0:0]
	for _, e := range r.entries {
		if _, ok := drop[e]; !ok {
			kept = append(kept, e)
		}
	}
	r.entries = kept
	list := r.rebuildLocked()
	r.mu.Unlock()
	r.changes.Set(list)
}

func (r *Registry[A, C]) rebuildLocked() []A {
	list := r.listLocked()
	r.combined = r.combine(list)
	return list
}

func (r *Registry[A, C]) listLocked() []A {
	list := make([]A, len(r.entries))
	for i, e := range r.entries {
		list[i] = e.agent
	}
	return list
}

func isNil(a any) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}
