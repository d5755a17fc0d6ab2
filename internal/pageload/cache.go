package pageload

import (
	"sync"

	"go.uber.org/zap"

	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/stream"
)

// Cache shares the load of one page among all of its receivers. It keeps a
// single entry keyed by the page URL without fragment: requesting another
// page cuts the current load with ErrSuperseded.
//
// The load starts when the first receiver registers. Once the last receiver
// is gone the entry is cut with ErrNoReceivers on the next scheduler tick,
// unless a new receiver arrived in the meantime.
type Cache struct {
	load   LoadFunc
	sched  stream.Scheduler
	logger *zap.Logger

	mu    sync.Mutex
	entry *cacheEntry
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithScheduler sets the scheduler of idle entry cuts. Defaults to
// stream.Go.
func WithScheduler(s stream.Scheduler) CacheOption {
	return func(c *Cache) { c.sched = s }
}

// WithCacheLogger sets the logger for superseded loads.
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// NewCache returns a cache loading pages with load.
func NewCache(load LoadFunc, opts ...CacheOption) *Cache {
	c := &Cache{
		load:   load,
		sched:  stream.Go,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load returns the shared load of the page. Pages with the same URL up to
// the fragment get the same source.
func (c *Cache) Load(page navigation.Page) stream.OnEvent[Response] {
	key := navigation.StripFragment(page.URL()).String()

	c.mu.Lock()
	old := c.entry
	if old != nil && old.key == key {
		c.mu.Unlock()
		return old
	}
	e := &cacheEntry{
		cache:  c,
		key:    key,
		page:   page,
		supply: stream.NewSupply(),
	}
	c.entry = e
	c.mu.Unlock()

	if old != nil {
		c.logger.Debug("Page load superseded", zap.String("old", old.key), zap.String("new", key))
		old.supply.Off(ErrSuperseded)
	}
	e.supply.WhenOff(func(error) {
		c.mu.Lock()
		if c.entry == e {
			c.entry = nil
		}
		c.mu.Unlock()
	})
	return e
}

// Key returns the URL of the cached page, or "" when nothing is cached.
func (c *Cache) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return ""
	}
	return c.entry.key
}

func (c *Cache) isCurrent(e *cacheEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry == e
}

type cacheEntry struct {
	cache  *Cache
	key    string
	page   navigation.Page
	supply *stream.Supply

	mu        sync.Mutex
	tracker   *stream.Tracker[Response]
	receivers int
	finished  bool
}

// On implements stream.OnEvent. Receivers arriving after the load finished
// get its final response replayed.
func (e *cacheEntry) On(receive func(Response)) *stream.Supply {
	e.mu.Lock()
	if e.finished || e.supply.IsOff() {
		tracker := e.tracker
		e.mu.Unlock()
		if tracker != nil {
			if last, ok := tracker.Get(); ok && last.Done() {
				receive(last)
			}
		}
		return stream.OffSupply(e.supply.Reason())
	}

	start := e.tracker == nil
	if start {
		e.tracker = stream.NewEmptyTracker[Response]()
	}
	tracker := e.tracker
	e.receivers++
	e.mu.Unlock()

	supply := tracker.On(receive)
	supply.WhenOff(func(error) { e.release() })
	if start {
		e.start(tracker)
	}
	return supply
}

func (e *cacheEntry) start(tracker *stream.Tracker[Response]) {
	finish := func(reason error) {
		e.mu.Lock()
		e.finished = true
		e.mu.Unlock()
		tracker.Done(reason)
	}

	e.cache.logger.Debug("Page load started", zap.String("url", e.key))
	load := e.cache.load(e.page).On(tracker.Set)
	load.WhenOff(finish)
	e.supply.Cuts(load)
	e.supply.WhenOff(finish)
}

func (e *cacheEntry) release() {
	e.mu.Lock()
	e.receivers--
	idle := e.receivers == 0
	e.mu.Unlock()

	if !idle {
		return
	}
	e.cache.sched.Schedule(func() {
		e.mu.Lock()
		idle := e.receivers == 0
		e.mu.Unlock()
		if idle && e.cache.isCurrent(e) {
			e.supply.Off(ErrNoReceivers)
		}
	})
}
