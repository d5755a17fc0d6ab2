package navigation

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"navnerd-mcp-server/internal/stream"
)

var (
	// ErrNavigationCancelled is the stay reason when another navigation
	// started before this one completed.
	ErrNavigationCancelled = errors.New("navigation cancelled")

	// ErrNavigatorClosed is returned for navigating after Close.
	ErrNavigatorClosed = errors.New("navigator closed")

	// ErrPageLeft is the supply reason for requests bound to a page that has
	// been left.
	ErrPageLeft = errors.New("page left")
)

// EventType identifies a navigation event.
type EventType string

const (
	EventLeavePage  EventType = "leave-page"
	EventEnterPage  EventType = "enter-page"
	EventStayOnPage EventType = "stay-on-page"
)

// Event is sent by the Navigator around each navigation.
type Event struct {
	Type EventType
	// When is a When value for leave events and an EnterWhen value for
	// enter events. Leaving by Back has "return", stay events have "stay".
	When   string
	From   Page
	To     Page
	Reason error
}

// Options configure a Navigator.
type Options struct {
	// Start is the initial page URL.
	Start *url.URL
	// Title of the initial page.
	Title string
	// Agents intercept Open and Replace. Nil means a registry resolving
	// against Start.
	Agents *Agents
	// History remembers visited URLs. Nil means an in-memory history.
	History History
	Logger  *zap.Logger
}

// Navigator keeps the navigation history and moves between its entries.
type Navigator struct {
	logger  *zap.Logger
	agents  *Agents
	history History

	mu      sync.Mutex
	entries []*entry
	index   int
	// last is the current entry at Close.
	last *entry
	seq  uint64

	pages  *stream.Tracker[Page]
	events stream.Emitter[Event]
}

// NewNavigator creates a navigator at the start page.
func NewNavigator(opts Options) (*Navigator, error) {
	if opts.Start == nil {
		return nil, errors.New("navigator start URL is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Agents == nil {
		opts.Agents = NewAgents(opts.Start)
	}
	if opts.History == nil {
		opts.History = NewMemoryHistory()
	}

	n := &Navigator{
		logger:  opts.Logger,
		agents:  opts.Agents,
		history: opts.History,
	}

	start, err := n.newEntry(opts.Start, opts.Title, nil)
	if err != nil {
		return nil, err
	}
	if err := n.history.Record(start.URL(), time.Now()); err != nil {
		return nil, fmt.Errorf("record start page: %w", err)
	}
	n.entries = []*entry{start}
	n.pages = stream.NewTracker[Page](start)
	start.enter(EnterInit)

	return n, nil
}

// Agents returns the navigation agent registry.
func (n *Navigator) Agents() *Agents {
	return n.agents
}

// Pages streams the current page.
func (n *Navigator) Pages() stream.OnEvent[Page] {
	return n.pages
}

// Events streams navigation events.
func (n *Navigator) Events() stream.OnEvent[Event] {
	return &n.events
}

// Current returns the current page. After Close it is the page that was
// current when closing.
func (n *Navigator) Current() Page {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.entries) == 0 {
		return n.last
	}
	return n.entries[n.index]
}

// Entries returns the history entries and the index of the current one.
func (n *Navigator) Entries() ([]Page, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Page, len(n.entries))
	for i, e := range n.entries {
		out[i] = e
	}
	return out, n.index
}

// Open navigates to a new history entry. It reports false when an agent
// halted the navigation or another navigation superseded it.
func (n *Navigator) Open(target Target) (Page, bool, error) {
	return n.navigate(WhenPreOpen, target)
}

// Replace navigates by replacing the current history entry.
func (n *Navigator) Replace(target Target) (Page, bool, error) {
	return n.navigate(WhenPreReplace, target)
}

// Back returns to the previous history entry. Agents are not consulted.
func (n *Navigator) Back() (Page, bool, error) {
	n.mu.Lock()
	if len(n.entries) == 0 {
		n.mu.Unlock()
		return nil, false, ErrNavigatorClosed
	}
	if n.index == 0 {
		n.mu.Unlock()
		return nil, false, nil
	}
	from := n.entries[n.index]
	n.index--
	n.seq++
	to := n.entries[n.index]
	n.mu.Unlock()

	n.events.Send(Event{Type: EventLeavePage, When: string(EnterReturn), From: from, To: to})
	from.leave()
	err := n.record(to)
	to.enter(EnterReturn)
	n.pages.Set(to)
	n.events.Send(Event{Type: EventEnterPage, When: string(EnterReturn), From: from, To: to})

	return to, true, err
}

// Close completes the page and event streams and forgets every entry.
func (n *Navigator) Close() error {
	n.mu.Lock()
	entries := n.entries
	if len(entries) > 0 {
		n.last = entries[n.index]
	}
	n.entries = nil
	n.index = 0
	n.mu.Unlock()

	n.pages.Done(nil)
	n.events.Done(nil)
	for _, e := range entries {
		e.forget()
	}
	return n.history.Close()
}

func (n *Navigator) navigate(when When, target Target) (Page, bool, error) {
	n.mu.Lock()
	if len(n.entries) == 0 {
		n.mu.Unlock()
		return nil, false, ErrNavigatorClosed
	}
	from := n.entries[n.index]
	n.seq++
	seq := n.seq
	n.mu.Unlock()

	dest := from.URL()
	if target.URL != nil {
		dest = dest.ResolveReference(target.URL)
	}
	to, err := n.newEntry(dest, target.Title, target.Data)
	if err != nil {
		return nil, false, err
	}

	var (
		reached bool
		result  Page
		navErr  error
	)
	n.agents.Combined()(func(final Page) {
		reached = true
		result, navErr = n.commit(seq, when, from, to, final)
	}, when, from, to)

	if !reached {
		n.logger.Debug("Navigation halted by agent",
			zap.String("when", string(when)),
			zap.String("from", from.URL().String()),
			zap.String("to", to.URL().String()))
		n.stay(from, to, nil)
		return nil, false, nil
	}
	return result, result != nil, navErr
}

func (n *Navigator) commit(seq uint64, when When, from, to *entry, final Page) (Page, error) {
	if !n.isLatest(seq) {
		n.stay(from, to, ErrNavigationCancelled)
		return nil, nil
	}

	if err := to.retarget(final, n.history); err != nil {
		n.stay(from, to, err)
		return nil, err
	}
	from.transfer(to, when)
	n.events.Send(Event{Type: EventLeavePage, When: string(when), From: from, To: to})

	// A leave receiver may have started another navigation.
	n.mu.Lock()
	if n.seq != seq {
		n.mu.Unlock()
		n.stay(from, to, ErrNavigationCancelled)
		return nil, nil
	}
	var forgotten []*entry
	enterWhen := EnterOpen
	switch when {
	case WhenPreReplace:
		enterWhen = EnterReplace
		forgotten = append(forgotten, n.entries[n.index])
		n.entries[n.index] = to
	default:
		forgotten = append(forgotten, n.entries[n.index+1:]...)
		n.entries = append(n.entries[:n.index+1], to)
		n.index++
	}
	n.mu.Unlock()

	from.leave()
	for _, e := range forgotten {
		e.forget()
	}

	err := n.record(to)
	to.enter(enterWhen)
	n.pages.Set(to)
	n.events.Send(Event{Type: EventEnterPage, When: string(enterWhen), From: from, To: to})

	n.logger.Debug("Page entered",
		zap.String("id", to.id),
		zap.String("when", string(enterWhen)),
		zap.String("url", to.URL().String()))

	return to, err
}

func (n *Navigator) stay(from, to *entry, reason error) {
	to.stay(from)
	n.events.Send(Event{Type: EventStayOnPage, When: "stay", From: from, To: to, Reason: reason})
}

func (n *Navigator) isLatest(seq uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq == seq
}

func (n *Navigator) record(e *entry) error {
	if err := n.history.Record(e.URL(), time.Now()); err != nil {
		n.logger.Warn("Failed to record visit", zap.String("url", e.URL().String()), zap.Error(err))
		return fmt.Errorf("record visit: %w", err)
	}
	return nil
}

func (n *Navigator) newEntry(u *url.URL, title string, data any) (*entry, error) {
	visited, err := n.history.Seen(u)
	if err != nil {
		return nil, fmt.Errorf("check visit history: %w", err)
	}
	return &entry{
		id:      uuid.NewString(),
		nav:     n,
		url:     u,
		title:   title,
		data:    data,
		visited: visited,
		params:  make(map[Param]ParamHandle),
	}, nil
}

// IDOf returns the history entry ID of a page, or "" for pages not created
// by a Navigator.
func IDOf(p Page) string {
	switch p := p.(type) {
	case *entry:
		return p.id
	case *targetPage:
		return IDOf(p.prev)
	}
	return ""
}
