package pageload

import (
	"sync"

	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/stream"
)

// Request asks for the loads of the pages entered from now on.
type Request struct {
	Receive func(Response)
	// Supply revokes the request. A new supply is used when nil.
	Supply *stream.Supply
	// Fragment is the id of the element to report in Response.Fragment.
	Fragment string
}

// Requests is the page parameter collecting page load requests. Put a
// Request on the navigation target (or on the current page) and it receives
// the load of every page entered until its supply goes off. Leaving a page
// aborts its loads with navigation.ErrPageLeft.
type Requests struct {
	load LoadFunc
}

// NewRequests creates the parameter. load is usually a Cache.
func NewRequests(load LoadFunc) *Requests {
	return &Requests{load: load}
}

// Add puts the request on page and returns the request supply.
func (r *Requests) Add(page navigation.Page, req Request) *stream.Supply {
	if req.Supply == nil {
		req.Supply = stream.NewSupply()
	}
	page.Put(r, req)
	return req.Supply
}

// Create implements navigation.Param.
func (r *Requests) Create(_ navigation.Page, input any) navigation.ParamHandle {
	h := &requestsHandle{
		requests:   r,
		pageSupply: stream.NewSupply(),
		loadSupply: stream.OffSupply(nil),
	}
	h.Put(input)
	return h
}

type requestsHandle struct {
	requests *Requests

	mu         sync.Mutex
	list       []*Request
	pageSupply *stream.Supply
	loadSupply *stream.Supply
}

// Get returns the pending requests.
func (h *requestsHandle) Get() any {
	return h.pending()
}

func (h *requestsHandle) Put(input any) {
	switch req := input.(type) {
	case Request:
		h.add(&req)
	case *Request:
		h.add(req)
	}
}

func (h *requestsHandle) add(req *Request) {
	if req.Supply == nil {
		req.Supply = stream.NewSupply()
	}
	if req.Supply.IsOff() {
		return
	}
	h.mu.Lock()
	h.list = append(h.list, req)
	h.mu.Unlock()

	req.Supply.WhenOff(func(error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, r := range h.list {
			if r == req {
				h.list = append(h.list[:i], h.list[i+1:]...)
				return
			}
		}
	})
}

func (h *requestsHandle) pending() []*Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Request(nil), h.list...)
}

// Transfer merges the pending requests into the requests of the target.
func (h *requestsHandle) Transfer(to navigation.Page, _ navigation.When) navigation.ParamHandle {
	for _, req := range h.pending() {
		to.Put(h.requests, req)
	}
	return nil
}

func (h *requestsHandle) Enter(page navigation.Page, when navigation.EnterWhen) {
	if when == navigation.EnterInit {
		// The initial page is loaded already.
		return
	}

	loadSupply := stream.NewSupply().Needs(h.pageSupply)
	h.mu.Lock()
	h.loadSupply = loadSupply
	h.mu.Unlock()

	onLoad := h.requests.load(page)
	for _, req := range h.pending() {
		req := req
		sup := onLoad.On(func(resp Response) {
			if req.Fragment != "" && resp.Status == StatusOK {
				resp.Fragment = resp.Document.ElementByID(req.Fragment)
			}
			req.Receive(resp)
		})
		loadSupply.Cuts(sup)
		req.Supply.Cuts(sup)
	}
}

func (h *requestsHandle) Leave() {
	h.mu.Lock()
	loadSupply := h.loadSupply
	h.mu.Unlock()
	loadSupply.Off(navigation.ErrPageLeft)
}

func (h *requestsHandle) Stay(navigation.Page) {
	h.pageSupply.Off(navigation.ErrNavigationCancelled)
}

func (h *requestsHandle) Forget() {
	h.pageSupply.Off(ErrPageForgotten)
}
