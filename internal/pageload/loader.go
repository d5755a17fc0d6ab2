package pageload

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/stream"
)

// HTTPFetch performs page requests. *http.Client satisfies it.
type HTTPFetch interface {
	Do(req *http.Request) (*http.Response, error)
}

// LoadFunc loads page documents.
type LoadFunc func(page navigation.Page) stream.OnEvent[Response]

// URLModifier adjusts the URL of a page before it is fetched.
type URLModifier func(u *url.URL)

// SetQueryParams returns a modifier setting the given query parameters.
func SetQueryParams(params map[string]string) URLModifier {
	return func(u *url.URL) {
		if len(params) == 0 {
			return
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
}

type pageKey struct{}

// PageFromRequest returns the page a load request was made for.
func PageFromRequest(req *http.Request) (navigation.Page, bool) {
	page, ok := req.Context().Value(pageKey{}).(navigation.Page)
	return page, ok
}

// LoaderOptions configure a Loader.
type LoaderOptions struct {
	// Fetch defaults to http.DefaultClient.
	Fetch HTTPFetch
	// Agents default to an empty registry.
	Agents       *Agents
	URLModifiers []URLModifier
	// Accept defaults to text/html.
	Accept    string
	UserAgent string
	// Timeout bounds each fetch. Zero means no timeout.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Loader loads page documents over HTTP.
type Loader struct {
	fetch     HTTPFetch
	agents    *Agents
	modifiers []URLModifier
	accept    string
	userAgent string
	timeout   time.Duration
	logger    *zap.Logger
}

func NewLoader(opts LoaderOptions) *Loader {
	if opts.Fetch == nil {
		opts.Fetch = http.DefaultClient
	}
	if opts.Agents == nil {
		opts.Agents = NewAgents()
	}
	if opts.Accept == "" {
		opts.Accept = "text/html"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Loader{
		fetch:     opts.Fetch,
		agents:    opts.Agents,
		modifiers: opts.URLModifiers,
		accept:    opts.Accept,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
	}
}

// Agents returns the page load agent registry.
func (l *Loader) Agents() *Agents {
	return l.agents
}

// Load returns a source loading the page document for each receiver. The
// receiver supply goes off once the final response has been delivered;
// turning it off earlier aborts the load.
func (l *Loader) Load(page navigation.Page) stream.OnEvent[Response] {
	return stream.OnEventFunc[Response](func(receive func(Response)) *stream.Supply {
		supply := stream.NewSupply()

		req, err := l.newRequest(page)
		if err != nil {
			receive(failed(page, nil, err))
			supply.Off(nil)
			return supply
		}

		var (
			mu   sync.Mutex
			done bool
		)
		deliver := func(resp Response) {
			if supply.IsOff() {
				return
			}
			if resp.Done() {
				mu.Lock()
				done = true
				mu.Unlock()
			}
			receive(resp)
			if resp.Done() {
				supply.Off(nil)
			}
		}

		inner := l.agents.Combined()(l.fetchFunc(page), req).On(deliver)
		supply.Cuts(inner)
		inner.WhenOff(func(reason error) {
			mu.Lock()
			finished := done
			mu.Unlock()
			if !finished && reason != nil {
				// Agents may end the load with an error instead of a response.
				deliver(failed(page, nil, reason))
			}
			supply.Off(nil)
		})
		return supply
	})
}

func (l *Loader) newRequest(page navigation.Page) (*http.Request, error) {
	u := navigation.StripFragment(page.URL())
	for _, modify := range l.modifiers {
		modify(u)
	}

	ctx := context.WithValue(context.Background(), pageKey{}, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", l.accept)
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}
	return req, nil
}

// fetchFunc is the terminal of the agent chain: it performs the request and
// parses the document.
func (l *Loader) fetchFunc(page navigation.Page) func(*http.Request) stream.OnEvent[Response] {
	return func(req *http.Request) stream.OnEvent[Response] {
		return stream.OnEventFunc[Response](func(receive func(Response)) *stream.Supply {
			supply := stream.NewSupply()
			send := func(resp Response) {
				if !supply.IsOff() {
					receive(resp)
				}
			}

			var (
				ctx    context.Context
				cancel context.CancelFunc
			)
			if l.timeout > 0 {
				ctx, cancel = context.WithTimeout(req.Context(), l.timeout)
			} else {
				ctx, cancel = context.WithCancel(req.Context())
			}
			supply.WhenOff(func(error) { cancel() })

			send(loading(page))
			go func() {
				defer supply.Off(nil)
				send(l.do(ctx, page, req.WithContext(ctx)))
			}()
			return supply
		})
	}
}

func (l *Loader) do(ctx context.Context, page navigation.Page, req *http.Request) Response {
	start := time.Now()
	resp, err := l.fetch.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			l.logger.Debug("Page fetch aborted", zap.String("url", req.URL.String()))
		} else {
			l.logger.Warn("Page fetch failed", zap.String("url", req.URL.String()), zap.Error(err))
		}
		return failed(page, nil, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failed(page, resp, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	// Relative references resolve against the URL the document came from,
	// after redirects and agent rewrites.
	docURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		docURL = resp.Request.URL
	}
	doc, err := ParseDocument(resp.Header.Get("Content-Type"), resp.Body, docURL)
	if err != nil {
		return failed(page, resp, err)
	}

	l.logger.Debug("Page loaded",
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return Response{Status: StatusOK, Page: page, Document: doc, HTTP: resp}
}
