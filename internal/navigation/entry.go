package navigation

import (
	"net/url"
	"sync"
)

// entry is a navigation history entry created by a Navigator.
type entry struct {
	id  string
	nav *Navigator

	mu      sync.Mutex
	url     *url.URL
	title   string
	data    any
	visited bool
	params  map[Param]ParamHandle
	order   []Param
}

func (e *entry) URL() *url.URL {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url
}

func (e *entry) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.title
}

func (e *entry) Data() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data
}

func (e *entry) Visited() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visited
}

func (e *entry) Current() bool {
	n := e.nav
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries) > 0 && n.entries[n.index] == e
}

func (e *entry) Get(ref Param) any {
	e.mu.Lock()
	h, ok := e.params[ref]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return h.Get()
}

func (e *entry) Put(ref Param, input any) {
	e.mu.Lock()
	h, ok := e.params[ref]
	e.mu.Unlock()
	if ok {
		h.Put(input)
		return
	}

	// Create runs unlocked: it may read the page.
	created := ref.Create(e, input)
	e.mu.Lock()
	if h, ok = e.params[ref]; !ok {
		e.params[ref] = created
		e.order = append(e.order, ref)
	}
	e.mu.Unlock()
	if ok {
		h.Put(input)
	}
}

func (e *entry) handles() []ParamHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ParamHandle, 0, len(e.order))
	for _, ref := range e.order {
		out = append(out, e.params[ref])
	}
	return out
}

// retarget moves the entry to where the agents sent it.
func (e *entry) retarget(final Page, history History) error {
	if final == Page(e) {
		return nil
	}
	u := final.URL()
	visited, err := history.Seen(u)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.url = u
	e.title = final.Title()
	e.data = final.Data()
	e.visited = visited
	e.mu.Unlock()
	return nil
}

// transfer hands the entry parameters to the navigation target. A returned
// handle is dropped when the target has the parameter already; Transfer may
// Put into the target itself to merge.
func (e *entry) transfer(to *entry, when When) {
	e.mu.Lock()
	refs := append([]Param(nil), e.order...)
	e.mu.Unlock()

	for _, ref := range refs {
		e.mu.Lock()
		h := e.params[ref]
		e.mu.Unlock()

		t, ok := h.(ParamTransferer)
		if !ok {
			continue
		}
		moved := t.Transfer(to, when)
		if moved == nil {
			continue
		}
		to.mu.Lock()
		if _, exists := to.params[ref]; !exists {
			to.params[ref] = moved
			to.order = append(to.order, ref)
		}
		to.mu.Unlock()
	}
}

func (e *entry) enter(when EnterWhen) {
	for _, h := range e.handles() {
		if p, ok := h.(ParamEnterer); ok {
			p.Enter(e, when)
		}
	}
}

func (e *entry) leave() {
	for _, h := range e.handles() {
		if p, ok := h.(ParamLeaver); ok {
			p.Leave()
		}
	}
}

func (e *entry) stay(at Page) {
	for _, h := range e.handles() {
		if p, ok := h.(ParamStayer); ok {
			p.Stay(at)
		}
	}
}

func (e *entry) forget() {
	handles := e.handles()
	e.mu.Lock()
	e.params = make(map[Param]ParamHandle)
	e.order = nil
	e.mu.Unlock()

	for _, h := range handles {
		if p, ok := h.(ParamForgetter); ok {
			p.Forget()
		}
	}
}
