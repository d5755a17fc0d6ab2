// Package pageload loads page documents: the Loader fetches and parses them
// through a chain of page load agents, the Cache shares one load of a page
// among all of its receivers, and Requests deliver loads of pages as they
// are entered.
package pageload

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/net/html"

	"navnerd-mcp-server/internal/navigation"
)

var (
	// ErrSuperseded cuts a cached load when a different page is requested.
	ErrSuperseded = errors.New("page load superseded")
	// ErrNoReceivers cuts a cached load nobody listens to anymore.
	ErrNoReceivers = errors.New("page load has no receivers")
	// ErrPageForgotten cuts the loads of a page dropped from history.
	ErrPageForgotten = errors.New("page forgotten")
	// ErrUnsupportedContentType is reported for responses that can not be
	// parsed into a document.
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

// HTTPError reports a non-2xx response.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("http status %s", e.Status)
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Status of a page load response.
type Status int

const (
	StatusLoading Status = iota
	StatusOK
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Response is a page load event. A load sends any number of StatusLoading
// responses followed by exactly one StatusOK or StatusFailed response.
type Response struct {
	Status Status
	Page   navigation.Page
	// Document is set for StatusOK.
	Document *Document
	// HTTP is the fetched response, when there is one. Its body has been
	// consumed and closed.
	HTTP *http.Response
	// Err is set for StatusFailed.
	Err error
	// Fragment is the requested element of the document, if any.
	Fragment *html.Node
}

// Done reports whether this is the last response of a load.
func (r Response) Done() bool {
	return r.Status != StatusLoading
}

func loading(page navigation.Page) Response {
	return Response{Status: StatusLoading, Page: page}
}

func failed(page navigation.Page, resp *http.Response, err error) Response {
	return Response{Status: StatusFailed, Page: page, HTTP: resp, Err: err}
}
