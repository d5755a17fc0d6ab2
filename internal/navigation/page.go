// Package navigation models page navigation: pages and their parameters,
// the agents intercepting navigation, and the Navigator that moves between
// pages and publishes the current one.
package navigation

import "net/url"

// When tells which navigation method triggered the agents.
type When string

const (
	WhenPreOpen    When = "pre-open"
	WhenPreReplace When = "pre-replace"
)

// EnterWhen tells how a page was entered.
type EnterWhen string

const (
	EnterInit    EnterWhen = "init"
	EnterOpen    EnterWhen = "open"
	EnterReplace EnterWhen = "replace"
	EnterReturn  EnterWhen = "return"
)

// Page is a navigation history entry.
type Page interface {
	URL() *url.URL
	Title() string
	Data() any
	// Visited reports whether the page URL was visited before.
	Visited() bool
	// Current reports whether this is the page the navigator is at.
	Current() bool
	// Get returns the value of the page parameter, or nil when unset.
	Get(ref Param) any
	// Put assigns the page parameter, creating its handle on first use.
	Put(ref Param, input any)
}

// Target describes where to navigate. Zero fields are taken from the page
// being replaced.
type Target struct {
	URL   *url.URL
	Title string
	Data  any
}

// Param is a page parameter. Params are used as map keys, so implementations
// should be pointers.
type Param interface {
	// Create builds the handle for the page on first Put.
	Create(page Page, input any) ParamHandle
}

// ParamHandle holds a page parameter value.
type ParamHandle interface {
	Get() any
	Put(input any)
}

// ParamTransferer moves a parameter to the navigation target before the
// current page is left. Returning nil drops the parameter.
type ParamTransferer interface {
	Transfer(to Page, when When) ParamHandle
}

// ParamEnterer is notified when its page is entered.
type ParamEnterer interface {
	Enter(page Page, when EnterWhen)
}

// ParamLeaver is notified when its page is left.
type ParamLeaver interface {
	Leave()
}

// ParamStayer is notified when navigation to its page was cancelled.
type ParamStayer interface {
	Stay(at Page)
}

// ParamForgetter is notified when its page is dropped from history.
type ParamForgetter interface {
	Forget()
}

// targetPage is the page an agent passes on: new location, same accessors.
type targetPage struct {
	url   *url.URL
	title string
	data  any
	prev  Page
}

func (p *targetPage) URL() *url.URL            { return p.url }
func (p *targetPage) Title() string            { return p.title }
func (p *targetPage) Data() any                { return p.data }
func (p *targetPage) Visited() bool            { return p.prev.Visited() }
func (p *targetPage) Current() bool            { return p.prev.Current() }
func (p *targetPage) Get(ref Param) any        { return p.prev.Get(ref) }
func (p *targetPage) Put(ref Param, input any) { p.prev.Put(ref, input) }

// retarget applies target to page. The URL is resolved against base, or
// against the page URL when base is nil.
func retarget(base *url.URL, page Page, target *Target) Page {
	if target == nil {
		return page
	}

	next := &targetPage{
		url:   page.URL(),
		title: page.Title(),
		data:  page.Data(),
		prev:  page,
	}
	if target.URL != nil {
		against := base
		if against == nil {
			against = page.URL()
		}
		next.url = against.ResolveReference(target.URL)
	}
	if target.Title != "" {
		next.title = target.Title
	}
	if target.Data != nil {
		next.data = target.Data
	}
	return next
}

// StripFragment returns a copy of u without the fragment.
func StripFragment(u *url.URL) *url.URL {
	out := *u
	out.Fragment = ""
	out.RawFragment = ""
	return &out
}
