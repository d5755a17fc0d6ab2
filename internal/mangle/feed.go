package mangle

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"

	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/pageload"
	"navnerd-mcp-server/internal/stream"
)

// Feed turns navigation activity into facts of the navigation schema.
type Feed struct {
	engine *Engine
	logger *zap.Logger
	now    func() time.Time
}

func NewFeed(engine *Engine, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{engine: engine, logger: logger, now: time.Now}
}

// Navigation records navigator events until the returned supply is cut.
func (f *Feed) Navigation(events stream.OnEvent[navigation.Event]) *stream.Supply {
	return events.On(func(ev navigation.Event) {
		if fact, ok := f.navigationFact(ev); ok {
			f.add(fact)
		}
	})
}

func (f *Feed) navigationFact(ev navigation.Event) (Fact, bool) {
	now := f.now()
	switch ev.Type {
	case navigation.EventEnterPage:
		return Fact{
			Predicate: "page_entered",
			Args:      []interface{}{navigation.IDOf(ev.To), urlOf(ev.To), ev.When, now},
			Timestamp: now,
		}, true
	case navigation.EventLeavePage:
		return Fact{
			Predicate: "page_left",
			Args:      []interface{}{navigation.IDOf(ev.From), urlOf(ev.From), now},
			Timestamp: now,
		}, true
	case navigation.EventStayOnPage:
		reason := "halted"
		if errors.Is(ev.Reason, navigation.ErrNavigationCancelled) {
			reason = "cancelled"
		} else if ev.Reason != nil {
			reason = "failed"
		}
		return Fact{
			Predicate: "navigation_stayed",
			Args:      []interface{}{urlOf(ev.To), reason, now},
			Timestamp: now,
		}, true
	}
	return Fact{}, false
}

// PageLoad records a finished page load. Loading responses are skipped.
func (f *Feed) PageLoad(resp pageload.Response) {
	if !resp.Done() {
		return
	}
	status := "ok"
	if resp.Status == pageload.StatusFailed {
		status = "failed"
	}
	code := 0
	if resp.HTTP != nil {
		code = resp.HTTP.StatusCode
	}
	var httpErr *pageload.HTTPError
	if errors.As(resp.Err, &httpErr) {
		code = httpErr.StatusCode
	}
	now := f.now()
	f.add(Fact{
		Predicate: "page_load",
		Args:      []interface{}{urlOf(resp.Page), status, code, now},
		Timestamp: now,
	})
}

// LinkActive records a menu link activated for page.
func (f *Feed) LinkActive(href string, page *url.URL) {
	now := f.now()
	f.add(Fact{
		Predicate: "nav_link_active",
		Args:      []interface{}{href, page.String(), now},
		Timestamp: now,
	})
}

// LinkWeight records the weight of a link against page.
func (f *Feed) LinkWeight(href string, page *url.URL, weight int) {
	f.add(Fact{
		Predicate: "link_weight",
		Args:      []interface{}{href, page.String(), weight},
		Timestamp: f.now(),
	})
}

func (f *Feed) add(fact Fact) {
	if err := f.engine.AddFacts(context.Background(), []Fact{fact}); err != nil {
		f.logger.Warn("Failed to add fact", zap.String("predicate", fact.Predicate), zap.Error(err))
	}
}

func urlOf(p navigation.Page) string {
	if p == nil || p.URL() == nil {
		return ""
	}
	return p.URL().String()
}
