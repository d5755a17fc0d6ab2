package navmenu

import (
	"errors"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/stream"
)

// ErrNilLink is the panic value for adding a nil link to a menu.
var ErrNilLink = errors.New("navmenu: nil link")

// Weigher weighs a link against the page URL.
type Weigher func(link Link, page *url.URL) int

// Option configures a Menu.
type Option func(*Menu)

// WithBaseURL sets the URL relative hrefs resolve against. Without it they
// resolve against the page URL.
func WithBaseURL(base *url.URL) Option {
	return func(m *Menu) { m.base = base }
}

// WithWeigher replaces the default weigher.
func WithWeigher(w Weigher) Option {
	return func(m *Menu) { m.weigh = w }
}

// WithLogger sets the logger for activation changes.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Menu) { m.logger = logger }
}

// Menu activates the links matching the current page: those with the
// highest positive weight. Several links are active at once on a tie.
type Menu struct {
	weigh  Weigher
	base   *url.URL
	logger *zap.Logger

	serial stream.Serializer
	supply *stream.Supply

	mu     sync.Mutex
	links  []Link
	active map[Link]*stream.Supply
	page   navigation.Page
	closed bool
}

// NewMenu creates an empty menu following pages.
func NewMenu(pages stream.OnEvent[navigation.Page], opts ...Option) *Menu {
	m := &Menu{
		logger: zap.NewNop(),
		supply: stream.NewSupply(),
		active: make(map[Link]*stream.Supply),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.weigh == nil {
		m.weigh = m.defaultWeigh
	}

	pageSupply := pages.On(func(page navigation.Page) {
		m.serial.Run(func() {
			m.mu.Lock()
			m.page = page
			m.mu.Unlock()
			m.update()
		})
	})
	m.supply.Cuts(pageSupply)
	m.supply.WhenOff(func(error) { m.serial.Run(m.close) })
	return m
}

func (m *Menu) defaultWeigh(link Link, page *url.URL) int {
	ref, err := url.Parse(link.Href())
	if err != nil {
		return -1
	}
	base := m.base
	if base == nil {
		base = page
	}
	return Weigh(base.ResolveReference(ref), page)
}

// Supply is the menu supply. Turning it off closes the menu.
func (m *Menu) Supply() *stream.Supply {
	return m.supply
}

// Replace makes links the menu links. Links no longer present are
// deactivated and their supplies cut. Links whose supply is off already are
// skipped.
func (m *Menu) Replace(links ...Link) {
	for _, l := range links {
		if l == nil {
			panic(ErrNilLink)
		}
	}
	m.serial.Run(func() { m.replace(links) })
}

// Links returns the menu links.
func (m *Menu) Links() []Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Link(nil), m.links...)
}

// Active returns the active links in menu order.
func (m *Menu) Active() []Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Link
	for _, l := range m.links {
		if _, ok := m.active[l]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Close deactivates all links and releases them.
func (m *Menu) Close() {
	m.supply.Off(nil)
}

func (m *Menu) close() {
	m.mu.Lock()
	m.closed = true
	var active []Link
	for _, l := range m.links {
		if _, ok := m.active[l]; ok {
			active = append(active, l)
		}
	}
	m.mu.Unlock()

	for _, l := range active {
		m.deactivate(l)
	}
}

func (m *Menu) replace(replacement []Link) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	wanted := make(map[Link]bool, len(replacement))
	var added []Link
	for _, l := range replacement {
		if !wanted[l] {
			wanted[l] = true
			added = append(added, l)
		}
	}
	var removed []Link
	present := make(map[Link]bool, len(m.links))
	for _, l := range m.links {
		present[l] = true
		if !wanted[l] {
			removed = append(removed, l)
		}
	}
	added = filter(added, func(l Link) bool { return !present[l] })
	if len(added) == 0 && len(removed) == 0 {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	for _, l := range removed {
		m.deactivate(l)
	}
	m.mu.Lock()
	m.links = filter(m.links, func(l Link) bool { return wanted[l] })
	m.mu.Unlock()
	for _, l := range removed {
		if s, ok := l.(Supplier); ok {
			s.Supply().Off(nil)
		}
	}

	for _, l := range added {
		if s, ok := l.(Supplier); ok {
			sup := s.Supply()
			if sup.IsOff() {
				continue
			}
			m.supply.Cuts(sup)
			link := l
			sup.WhenOff(func(error) {
				m.serial.Run(func() { m.remove(link) })
			})
		}
		m.mu.Lock()
		m.links = append(m.links, l)
		m.mu.Unlock()
	}

	m.update()
}

// remove drops a link whose own supply went off.
func (m *Menu) remove(link Link) {
	m.mu.Lock()
	idx := -1
	for i, l := range m.links {
		if l == link {
			idx = i
			break
		}
	}
	m.mu.Unlock()
	if idx < 0 {
		return
	}

	m.deactivate(link)
	m.mu.Lock()
	m.links = filter(m.links, func(l Link) bool { return l != link })
	m.mu.Unlock()
	m.update()
}

func (m *Menu) update() {
	m.mu.Lock()
	page := m.page
	links := append([]Link(nil), m.links...)
	closed := m.closed
	m.mu.Unlock()
	if closed || page == nil {
		return
	}

	selected := m.selectActive(page.URL(), links)

	m.mu.Lock()
	var leaving []Link
	for l := range m.active {
		if !selected[l] {
			leaving = append(leaving, l)
		}
	}
	var entering []Link
	for _, l := range links {
		if _, ok := m.active[l]; selected[l] && !ok {
			entering = append(entering, l)
		}
	}
	m.mu.Unlock()

	for _, l := range leaving {
		m.deactivate(l)
	}
	for _, l := range entering {
		var handle *stream.Supply
		if a, ok := l.(Activator); ok {
			handle = a.Activate()
		}
		m.mu.Lock()
		m.active[l] = handle
		m.mu.Unlock()
		m.logger.Debug("Navigation link activated",
			zap.String("href", l.Href()),
			zap.String("page", page.URL().String()))
	}
}

// selectActive returns the links with the highest positive weight.
func (m *Menu) selectActive(page *url.URL, links []Link) map[Link]bool {
	maxWeight := 0
	selected := make(map[Link]bool)
	for _, l := range links {
		w := m.weigh(l, page)
		switch {
		case w <= 0:
		case w > maxWeight:
			maxWeight = w
			selected = map[Link]bool{l: true}
		case w == maxWeight:
			selected[l] = true
		}
	}
	return selected
}

func (m *Menu) deactivate(link Link) {
	m.mu.Lock()
	handle, ok := m.active[link]
	delete(m.active, link)
	m.mu.Unlock()

	if !ok {
		return
	}
	if handle != nil {
		handle.Off(nil)
	}
	m.logger.Debug("Navigation link deactivated", zap.String("href", link.Href()))
}

func filter(links []Link, keep func(Link) bool) []Link {
	out := make([]Link, 0, len(links))
	for _, l := range links {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}
