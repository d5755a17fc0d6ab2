package mcp

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"navnerd-mcp-server/internal/browser"
	"navnerd-mcp-server/internal/config"
	"navnerd-mcp-server/internal/mangle"
	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/navmenu"
	"navnerd-mcp-server/internal/pageload"
	"navnerd-mcp-server/internal/recorder"
	"navnerd-mcp-server/internal/script"
	"navnerd-mcp-server/internal/stream"
)

// ErrUnknownAgent is returned for removing an agent that is not registered.
var ErrUnknownAgent = errors.New("unknown agent")

// RuntimeOptions override parts of the runtime built from the config.
type RuntimeOptions struct {
	// Fetch replaces the configured loader backend.
	Fetch pageload.HTTPFetch
	// TraceDir enables navigation traces when set.
	TraceDir string
	Logger   *zap.Logger
}

// Runtime is the navigation core served by the MCP tools: a navigator whose
// pages are loaded through a shared cache, a menu following the loaded
// documents, and the fact and trace sinks recording all of it.
type Runtime struct {
	cfg    config.Config
	logger *zap.Logger

	Navigator *navigation.Navigator
	History   navigation.History
	Loader    *pageload.Loader
	Cache     *pageload.Cache
	Requests  *pageload.Requests
	Scripts   *pageload.ScriptCollector
	Menu      *navmenu.Menu
	Engine    *mangle.Engine
	Feed      *mangle.Feed
	Recorder  *recorder.Recorder
	Fetcher   *browser.Fetcher

	supply *stream.Supply

	mu           sync.Mutex
	configAgents *stream.Supply
	agents       map[string]*stream.Supply
	last         pageload.Response
	loaded       bool
}

// NewRuntime builds the runtime described by cfg.
func NewRuntime(cfg config.Config, opts RuntimeOptions) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	start, err := url.Parse(cfg.Navigation.StartURL)
	if err != nil {
		return nil, fmt.Errorf("start url: %w", err)
	}
	base, err := url.Parse(cfg.Navigation.Base())
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}

	r := &Runtime{
		cfg:          cfg,
		logger:       logger,
		supply:       stream.NewSupply(),
		configAgents: stream.OffSupply(nil),
		agents:       make(map[string]*stream.Supply),
	}

	if cfg.Navigation.HistoryStore != "" {
		h, err := navigation.OpenBoltHistory(cfg.Navigation.HistoryStore)
		if err != nil {
			return nil, err
		}
		r.History = h
	} else {
		r.History = navigation.NewMemoryHistory()
	}

	r.Engine, err = mangle.NewEngine(cfg.Mangle, logger.Named("mangle"))
	if err != nil {
		_ = r.History.Close()
		return nil, err
	}
	r.Feed = mangle.NewFeed(r.Engine, logger.Named("mangle"))

	if opts.TraceDir != "" {
		r.Recorder, err = recorder.NewRecorder(opts.TraceDir, logger.Named("recorder"))
		if err != nil {
			_ = r.History.Close()
			return nil, err
		}
		if _, err := r.Recorder.Start(""); err != nil {
			_ = r.History.Close()
			return nil, err
		}
	}

	r.Navigator, err = navigation.NewNavigator(navigation.Options{
		Start:   start,
		Agents:  navigation.NewAgents(base),
		History: r.History,
		Logger:  logger.Named("navigation"),
	})
	if err != nil {
		_ = r.History.Close()
		return nil, err
	}

	r.Loader = pageload.NewLoader(pageload.LoaderOptions{
		Fetch:        r.fetch(cfg, opts),
		URLModifiers: modifiers(cfg.Loader),
		Accept:       cfg.Loader.Accept,
		UserAgent:    cfg.Loader.UserAgent,
		Timeout:      cfg.Loader.FetchTimeout(),
		Logger:       logger.Named("pageload"),
	})
	if cfg.Loader.CollectScripts {
		r.Scripts = pageload.NewScriptCollector()
		r.Loader.Agents().Add(r.Scripts.Agent())
	}

	cacheOpts := []pageload.CacheOption{pageload.WithCacheLogger(logger.Named("cache"))}
	if grace := cfg.Loader.GracePeriod(); grace > 0 {
		cacheOpts = append(cacheOpts, pageload.WithScheduler(stream.After(grace)))
	}
	r.Cache = pageload.NewCache(r.Loader.Load, cacheOpts...)
	r.Requests = pageload.NewRequests(r.Cache.Load)

	var menuOpts []navmenu.Option
	if cfg.Navigation.BaseURL != "" {
		menuOpts = append(menuOpts, navmenu.WithBaseURL(base))
	}
	menuOpts = append(menuOpts, navmenu.WithLogger(logger.Named("menu")))
	r.Menu = navmenu.NewMenu(r.Navigator.Pages(), menuOpts...)
	r.supply.Cuts(r.Menu.Supply())

	r.supply.Cuts(r.Feed.Navigation(r.Navigator.Events()))
	if r.Recorder != nil {
		r.supply.Cuts(r.Recorder.Navigation(r.Navigator.Events()))
	}

	// Every entered page gets loaded, and its document drives the menu.
	reqSupply := r.Requests.Add(r.Navigator.Current(), pageload.Request{Receive: r.onLoad})
	r.supply.Cuts(reqSupply)

	if err := r.ApplyAgents(cfg.Navigation.Agents); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) fetch(cfg config.Config, opts RuntimeOptions) pageload.HTTPFetch {
	if opts.Fetch != nil {
		return opts.Fetch
	}
	if cfg.Loader.Backend == config.BackendRod {
		r.Fetcher = browser.NewFetcher(cfg.Browser, r.logger.Named("browser"))
		return r.Fetcher
	}
	return &http.Client{}
}

func modifiers(cfg config.LoaderConfig) []pageload.URLModifier {
	if len(cfg.URLParams) == 0 {
		return nil
	}
	return []pageload.URLModifier{pageload.SetQueryParams(cfg.URLParams)}
}

func (r *Runtime) onLoad(resp pageload.Response) {
	if !resp.Done() {
		return
	}
	r.Feed.PageLoad(resp)
	if r.Recorder != nil {
		r.Recorder.PageLoad(resp)
	}

	r.mu.Lock()
	r.last = resp
	r.loaded = true
	r.mu.Unlock()

	if resp.Status != pageload.StatusOK {
		return
	}
	docLinks := navmenu.LinksFromDocument(resp.Document)
	links := make([]navmenu.Link, len(docLinks))
	for i, l := range docLinks {
		links[i] = &trackedLink{NavLink: l, feed: r.Feed, page: resp.Page.URL()}
	}
	r.Menu.Replace(links...)
}

// LastLoad returns the last finished load of an entered page.
func (r *Runtime) LastLoad() (pageload.Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.loaded
}

// trackedLink records its activations as facts.
type trackedLink struct {
	*navmenu.NavLink
	feed *mangle.Feed
	page *url.URL
}

func (l *trackedLink) Activate() *stream.Supply {
	l.feed.LinkActive(l.Href(), l.page)
	return l.NavLink.Activate()
}

// ApplyAgents replaces the agents built from configuration rules. Agents
// registered at runtime stay.
func (r *Runtime) ApplyAgents(rules []config.AgentRule) error {
	agents, err := script.FromRules(rules, script.Options{Logger: r.logger.Named("agents")})
	if err != nil {
		return err
	}
	supply := r.Navigator.Agents().Add(agents...)

	r.mu.Lock()
	old := r.configAgents
	r.configAgents = supply
	r.mu.Unlock()

	old.Off(nil)
	r.supply.Cuts(supply)
	r.logger.Info("Navigation agents applied", zap.Int("rules", len(rules)))
	return nil
}

// AddAgent registers a rule at runtime and returns its id.
func (r *Runtime) AddAgent(rule config.AgentRule) (string, error) {
	agents, err := script.FromRules([]config.AgentRule{rule}, script.Options{Logger: r.logger.Named("agents")})
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	supply := r.Navigator.Agents().Add(agents...)
	r.supply.Cuts(supply)

	r.mu.Lock()
	r.agents[id] = supply
	r.mu.Unlock()
	supply.WhenOff(func(error) {
		r.mu.Lock()
		delete(r.agents, id)
		r.mu.Unlock()
	})
	return id, nil
}

// RemoveAgent revokes an agent registered with AddAgent.
func (r *Runtime) RemoveAgent(id string) error {
	r.mu.Lock()
	supply, ok := r.agents[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	supply.Off(nil)
	return nil
}

// TraceDir returns the default trace directory of a workspace.
func TraceDir(wsDir string) string {
	if wsDir == "" {
		return ""
	}
	return filepath.Join(wsDir, config.WorkspaceDirName, recorder.TraceDir)
}

// Close releases the navigator, the browser and the trace.
func (r *Runtime) Close() error {
	r.supply.Off(nil)
	var errs []error
	if err := r.Navigator.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.Fetcher != nil {
		errs = append(errs, r.Fetcher.Shutdown())
	}
	if r.Recorder != nil {
		errs = append(errs, r.Recorder.Close())
	}
	return errors.Join(errs...)
}
