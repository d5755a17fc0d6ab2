// Package browser renders pages in Chrome through Rod and hands the
// resulting DOM to the page loader as an HTTP response.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"navnerd-mcp-server/internal/config"
)

var (
	// ErrNotConfigured is returned when neither a debugger URL nor a launch
	// command is configured.
	ErrNotConfigured = errors.New("no debugger_url or launch command provided")
	// ErrMethodNotAllowed is returned for requests other than GET.
	ErrMethodNotAllowed = errors.New("browser fetcher only supports GET")
)

// Fetcher loads pages in an incognito Chrome context and returns the
// rendered document. It implements pageload.HTTPFetch.
type Fetcher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
}

func NewFetcher(cfg config.BrowserConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, logger: logger}
}

// Start connects to an existing Chrome or launches one. A healthy
// connection is reused.
func (f *Fetcher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start(ctx)
}

func (f *Fetcher) start(ctx context.Context) error {
	if f.browser != nil {
		if _, err := f.browser.Version(); err == nil {
			return nil
		}
		f.logger.Warn("Stale browser connection detected, reconnecting")
		_ = f.browser.Close()
		f.browser, f.controlURL = nil, ""
	}

	controlURL := f.cfg.DebuggerURL
	if controlURL == "" {
		l := newLauncher(f.cfg)
		if l == nil {
			return ErrNotConfigured
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	// The browser outlives the request that started it.
	b := rod.New().ControlURL(controlURL).Context(context.WithoutCancel(ctx))
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	f.browser = b
	f.controlURL = controlURL
	f.logger.Info("Browser connected", zap.String("control_url", controlURL))
	return nil
}

// newLauncher builds a launcher out of the configured launch command:
// a Chrome binary followed by flags. It returns nil without one.
func newLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	if len(cfg.Launch) == 0 {
		return nil
	}
	l := launcher.New().Bin(cfg.Launch[0]).Headless(cfg.IsHeadless())
	for _, raw := range cfg.Launch[1:] {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// ControlURL returns the DevTools URL of the connected browser.
func (f *Fetcher) ControlURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.controlURL
}

func (f *Fetcher) connected(ctx context.Context) (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.start(ctx); err != nil {
		return nil, err
	}
	return f.browser, nil
}

// Do navigates a fresh page to the request URL and waits for it to load.
// The response carries the status and headers of the main document and the
// serialized DOM as its body.
func (f *Fetcher) Do(req *http.Request) (*http.Response, error) {
	if req.Method != "" && req.Method != http.MethodGet {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, req.Method)
	}
	ctx := req.Context()
	b, err := f.connected(ctx)
	if err != nil {
		return nil, err
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	defer func() { _ = incognito.Close() }()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	p := page.Context(ctx).Timeout(f.cfg.NavigationTimeout())
	if ua := req.Header.Get("User-Agent"); ua != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			f.logger.Debug("Failed to set user agent", zap.Error(err))
		}
	}
	if accept := req.Header.Get("Accept"); accept != "" {
		if _, err := p.SetExtraHeaders([]string{"Accept", accept}); err != nil {
			f.logger.Debug("Failed to set extra headers", zap.Error(err))
		}
	}

	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		return nil, fmt.Errorf("enable network events: %w", err)
	}
	var doc *proto.NetworkResponse
	waitDoc := p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		doc = e.Response
		return true
	})

	target := req.URL.String()
	if err := p.Navigate(target); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", target, err)
	}
	waitDoc()
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for %s to load: %w", target, err)
	}
	content, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("read document of %s: %w", target, err)
	}

	resp := &http.Response{
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(content)),
		ContentLength: int64(len(content)),
		Request:       req,
	}
	if doc != nil {
		resp.StatusCode = doc.Status
		for k, v := range doc.Headers {
			resp.Header.Set(k, v.String())
		}
	}
	resp.Status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	// The body is the rendered DOM whatever the server sent.
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	resp.Header.Del("Content-Length")
	resp.Header.Del("Content-Encoding")

	f.logger.Debug("Page rendered",
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(content)))
	return resp, nil
}

// Shutdown closes the browser.
func (f *Fetcher) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser, f.controlURL = nil, ""
	f.logger.Info("Browser shutdown complete")
	return err
}
