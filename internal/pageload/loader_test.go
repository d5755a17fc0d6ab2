package pageload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/html"

	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testPage struct {
	url *url.URL
}

func (p *testPage) URL() *url.URL                       { return p.url }
func (p *testPage) Title() string                       { return "" }
func (p *testPage) Data() any                           { return nil }
func (p *testPage) Visited() bool                       { return false }
func (p *testPage) Current() bool                       { return true }
func (p *testPage) Get(navigation.Param) any            { return nil }
func (p *testPage) Put(ref navigation.Param, input any) {}

func pageAt(t *testing.T, raw string) *testPage {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return &testPage{url: u}
}

type fetchFunc func(req *http.Request) (*http.Response, error)

func (f fetchFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func respond(status int, contentType, body string) *http.Response {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// collect receives responses until the supply goes off.
func collect(t *testing.T, on stream.OnEvent[Response]) ([]Response, *stream.Supply) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []Response
	)
	supply := on.On(func(resp Response) {
		mu.Lock()
		got = append(got, resp)
		mu.Unlock()
	})
	select {
	case <-supply.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("page load did not complete")
	}
	mu.Lock()
	defer mu.Unlock()
	return append([]Response(nil), got...), supply
}

func TestLoaderFetchesDocument(t *testing.T) {
	var seen *http.Request
	loader := NewLoader(LoaderOptions{
		UserAgent: "navnerd-test",
		Fetch: fetchFunc(func(req *http.Request) (*http.Response, error) {
			seen = req
			return respond(http.StatusOK, "", "<div>test</div>"), nil
		}),
	})
	page := pageAt(t, "http://localhost/test#section")

	got, supply := collect(t, loader.Load(page))

	require.NotNil(t, seen)
	assert.Equal(t, "http://localhost/test", seen.URL.String())
	assert.Equal(t, "text/html", seen.Header.Get("Accept"))
	assert.Equal(t, "navnerd-test", seen.Header.Get("User-Agent"))
	fromReq, ok := PageFromRequest(seen)
	assert.True(t, ok)
	assert.Same(t, page, fromReq)

	require.Len(t, got, 2)
	assert.Equal(t, StatusLoading, got[0].Status)
	assert.Equal(t, StatusOK, got[1].Status)
	assert.Same(t, page, got[1].Page)
	assert.NoError(t, supply.Reason())

	doc := got[1].Document
	require.NotNil(t, doc)
	div := doc.First(func(n *html.Node) bool { return isElement(n, "div") })
	require.NotNil(t, div)
	assert.Equal(t, "test", Text(div))
	assert.Equal(t, "http://localhost/test", doc.Base.String())
}

func TestLoaderResolvesBaseAgainstPageURL(t *testing.T) {
	loader := NewLoader(LoaderOptions{
		Fetch: fetchFunc(func(*http.Request) (*http.Response, error) {
			return respond(http.StatusOK, "text/html", `<html><head><base href=".."></head></html>`), nil
		}),
	})

	got, _ := collect(t, loader.Load(pageAt(t, "http://localhost/test/page/index.html")))

	require.Equal(t, StatusOK, got[len(got)-1].Status)
	assert.Equal(t, "http://localhost/test/", got[len(got)-1].Document.Base.String())
}

func TestLoaderParsesByContentType(t *testing.T) {
	loader := NewLoader(LoaderOptions{
		Fetch: fetchFunc(func(*http.Request) (*http.Response, error) {
			return respond(http.StatusOK, "application/xml; charset=utf-8",
				`<?xml version="1.0"?><content>test</content>`), nil
		}),
	})

	got, _ := collect(t, loader.Load(pageAt(t, "http://localhost/feed")))

	last := got[len(got)-1]
	require.Equal(t, StatusOK, last.Status, "err: %v", last.Err)
	assert.Equal(t, "application/xml", last.Document.ContentType)
	content := last.Document.First(func(n *html.Node) bool { return isElement(n, "content") })
	require.NotNil(t, content)
	assert.Equal(t, "test", Text(content))
}

func TestLoaderReportsFailures(t *testing.T) {
	fetchErr := errors.New("connection refused")

	tests := []struct {
		name   string
		fetch  fetchFunc
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name: "fetch error",
			fetch: func(*http.Request) (*http.Response, error) {
				return nil, fetchErr
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, fetchErr)
			},
		},
		{
			name: "http status",
			fetch: func(*http.Request) (*http.Response, error) {
				return respond(http.StatusNotFound, "text/html", "missing"), nil
			},
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var httpErr *HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
			},
		},
		{
			name: "unsupported content type",
			fetch: func(*http.Request) (*http.Response, error) {
				return respond(http.StatusOK, "application/x-wrong", "dhfdfhfhg"), nil
			},
			status: http.StatusOK,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnsupportedContentType)
			},
		},
		{
			name: "malformed xml",
			fetch: func(*http.Request) (*http.Response, error) {
				return respond(http.StatusOK, "text/xml", "<a><b></a>"), nil
			},
			status: http.StatusOK,
			check: func(t *testing.T, err error) {
				assert.Error(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader(LoaderOptions{Fetch: tt.fetch})
			got, supply := collect(t, loader.Load(pageAt(t, "http://localhost/test")))

			assert.NoError(t, supply.Reason())
			last := got[len(got)-1]
			require.Equal(t, StatusFailed, last.Status)
			if tt.status != 0 {
				require.NotNil(t, last.HTTP)
				assert.Equal(t, tt.status, last.HTTP.StatusCode)
			}
			tt.check(t, last.Err)
		})
	}
}

func TestLoaderAppliesURLModifiers(t *testing.T) {
	var seen string
	loader := NewLoader(LoaderOptions{
		URLModifiers: []URLModifier{SetQueryParams(map[string]string{"test": "updated"})},
		Fetch: fetchFunc(func(req *http.Request) (*http.Response, error) {
			seen = req.URL.String()
			return respond(http.StatusOK, "", "<div>test</div>"), nil
		}),
	})

	collect(t, loader.Load(pageAt(t, "http://localhost/test")))

	assert.Equal(t, "http://localhost/test?test=updated", seen)
}

func TestLoaderCallsAgents(t *testing.T) {
	page := pageAt(t, "http://localhost/test")
	replacement := Response{Status: StatusOK, Page: page, Document: &Document{ContentType: "text/html"}}

	var seen string
	loader := NewLoader(LoaderOptions{
		Fetch: fetchFunc(func(req *http.Request) (*http.Response, error) {
			seen = req.URL.String()
			return respond(http.StatusOK, "", "<div>test</div>"), nil
		}),
	})
	loader.Agents().Add(
		func(next func(*http.Request) stream.OnEvent[Response], req *http.Request) stream.OnEvent[Response] {
			rewritten := req.Clone(req.Context())
			rewritten.URL.Path = "/rewritten"
			return next(rewritten)
		},
		func(next func(*http.Request) stream.OnEvent[Response], _ *http.Request) stream.OnEvent[Response] {
			return stream.Thru(next(nil), func(resp Response) Response {
				if resp.Status == StatusOK {
					return replacement
				}
				return resp
			})
		},
	)

	got, _ := collect(t, loader.Load(page))

	assert.Equal(t, "http://localhost/rewritten", seen)
	require.Len(t, got, 2)
	assert.Equal(t, StatusLoading, got[0].Status)
	assert.Same(t, replacement.Document, got[1].Document)
}

func TestLoaderAgentErrorBecomesFailure(t *testing.T) {
	agentErr := errors.New("blocked by agent")
	loader := NewLoader(LoaderOptions{
		Fetch: fetchFunc(func(*http.Request) (*http.Response, error) {
			t.Error("fetch must not be called")
			return nil, nil
		}),
	})
	loader.Agents().Add(func(func(*http.Request) stream.OnEvent[Response], *http.Request) stream.OnEvent[Response] {
		return stream.OnEventFunc[Response](func(func(Response)) *stream.Supply {
			return stream.OffSupply(agentErr)
		})
	})

	got, _ := collect(t, loader.Load(pageAt(t, "http://localhost/test")))

	require.Len(t, got, 1)
	assert.Equal(t, StatusFailed, got[0].Status)
	assert.ErrorIs(t, got[0].Err, agentErr)
}

func TestLoaderAgentPanicReachesCaller(t *testing.T) {
	boom := errors.New("agent failed")
	loader := NewLoader(LoaderOptions{
		Fetch: fetchFunc(func(*http.Request) (*http.Response, error) {
			t.Error("fetch must not be called")
			return nil, nil
		}),
	})
	loader.Agents().Add(func(func(*http.Request) stream.OnEvent[Response], *http.Request) stream.OnEvent[Response] {
		panic(boom)
	})

	assert.PanicsWithValue(t, boom, func() {
		loader.Load(pageAt(t, "http://localhost/test")).On(func(Response) {
			t.Error("no response expected")
		})
	})
}

func TestLoaderResolvesBaseAgainstFinalRequest(t *testing.T) {
	loader := NewLoader(LoaderOptions{
		Fetch: fetchFunc(func(req *http.Request) (*http.Response, error) {
			resp := respond(http.StatusOK, "text/html", `<html><head><base href="."></head></html>`)
			redirected := *req
			redirected.URL = req.URL.ResolveReference(&url.URL{Path: "/final/doc.html"})
			resp.Request = &redirected
			return resp, nil
		}),
	})
	loader.Agents().Add(func(next func(*http.Request) stream.OnEvent[Response], req *http.Request) stream.OnEvent[Response] {
		rewritten := req.Clone(req.Context())
		rewritten.URL.Path = "/moved/page.html"
		return next(rewritten)
	})

	got, _ := collect(t, loader.Load(pageAt(t, "http://localhost/test/page/index.html")))
	last := got[len(got)-1]
	require.Equal(t, StatusOK, last.Status, "err: %v", last.Err)
	assert.Equal(t, "http://localhost/final/", last.Document.Base.String())

	loader = NewLoader(LoaderOptions{
		Fetch: fetchFunc(func(*http.Request) (*http.Response, error) {
			return respond(http.StatusOK, "text/html", `<html><head><base href="."></head></html>`), nil
		}),
	})
	loader.Agents().Add(func(next func(*http.Request) stream.OnEvent[Response], req *http.Request) stream.OnEvent[Response] {
		rewritten := req.Clone(req.Context())
		rewritten.URL.Path = "/moved/page.html"
		return next(rewritten)
	})

	got, _ = collect(t, loader.Load(pageAt(t, "http://localhost/test/page/index.html")))
	last = got[len(got)-1]
	require.Equal(t, StatusOK, last.Status, "err: %v", last.Err)
	assert.Equal(t, "http://localhost/moved/", last.Document.Base.String())
}

func TestLoaderCancelAbortsFetch(t *testing.T) {
	started := make(chan struct{})
	aborted := make(chan error, 1)
	loader := NewLoader(LoaderOptions{
		Fetch: fetchFunc(func(req *http.Request) (*http.Response, error) {
			close(started)
			<-req.Context().Done()
			aborted <- req.Context().Err()
			return nil, req.Context().Err()
		}),
	})

	var got []Response
	var mu sync.Mutex
	supply := loader.Load(pageAt(t, "http://localhost/slow")).On(func(resp Response) {
		mu.Lock()
		got = append(got, resp)
		mu.Unlock()
	})
	<-started
	supply.Off(nil)

	select {
	case err := <-aborted:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch was not aborted")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, StatusLoading, got[0].Status)
}

func TestLoaderOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><head><title>%s</title><script src="app.js"></script></head></html>`, r.URL.Path)
	}))
	defer server.Close()

	loader := NewLoader(LoaderOptions{Fetch: server.Client(), Timeout: 5 * time.Second})
	got, _ := collect(t, loader.Load(pageAt(t, server.URL+"/docs/index.html")))

	last := got[len(got)-1]
	require.Equal(t, StatusOK, last.Status, "err: %v", last.Err)
	assert.Equal(t, "/docs/index.html", last.Document.Title())
	assert.Equal(t, []string{server.URL + "/docs/app.js"}, last.Document.Scripts())
}
