package mcp

import (
	"context"
	"fmt"
	"time"

	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/pageload"
	"navnerd-mcp-server/internal/stream"
)

const (
	defaultWaitTimeout = 30 * time.Second
	defaultMaxLinks    = 50
)

func waitTimeout(args map[string]interface{}) time.Duration {
	if ms := getIntArg(args, "timeout_ms", 0); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultWaitTimeout
}

// awaitLoad waits for the final response of a load.
func awaitLoad(ctx context.Context, loads <-chan pageload.Response, timeout time.Duration) (pageload.Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-loads:
		return resp, nil
	case <-timer.C:
		return pageload.Response{}, fmt.Errorf("page load not finished after %v", timeout)
	case <-ctx.Done():
		return pageload.Response{}, ctx.Err()
	}
}

func finalResponses() (chan pageload.Response, func(pageload.Response)) {
	loads := make(chan pageload.Response, 1)
	return loads, func(resp pageload.Response) {
		if !resp.Done() {
			return
		}
		select {
		case loads <- resp:
		default:
		}
	}
}

type NavigateTool struct {
	rt *Runtime
}

func (t *NavigateTool) Name() string { return "navigate" }
func (t *NavigateTool) Description() string {
	return `Navigate to a URL through the navigation agent chain.

Agents configured in navigation.agents (or registered with register-agent)
may redirect, retitle or block the navigation. A blocked navigation leaves
the current page in place and returns navigated=false.

WHEN TO USE:
- Moving to another page of the site
- Checking what the agent chain does with a URL

Returns: {navigated, page: {id, url, title, visited}, load: {status, code, title, links}}`
}
func (t *NavigateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Target URL, absolute or relative to the current page",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Optional title of the new history entry",
			},
			"replace": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace the current history entry instead of adding one",
			},
			"wait": map[string]interface{}{
				"type":        "boolean",
				"description": "Wait for the page load (default true)",
			},
			"fragment": map[string]interface{}{
				"type":        "string",
				"description": "Id of an element whose text to return from the loaded document",
			},
			"timeout_ms": map[string]interface{}{
				"type":        "integer",
				"description": "How long to wait for the load (default 30000)",
			},
		},
		"required": []string{"url"},
	}
}
func (t *NavigateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	u, err := parseURLArg(args, "url")
	if err != nil {
		return nil, err
	}
	nav := t.rt.Navigator

	var (
		loads chan pageload.Response
		req   *stream.Supply
	)
	wait := getBoolArg(args, "wait", true)
	if wait {
		var receive func(pageload.Response)
		loads, receive = finalResponses()
		req = t.rt.Requests.Add(nav.Current(), pageload.Request{
			Receive:  receive,
			Fragment: getStringArg(args, "fragment"),
		})
		defer req.Off(nil)
	}

	navigate := nav.Open
	if getBoolArg(args, "replace", false) {
		navigate = nav.Replace
	}
	page, ok, err := navigate(navigation.Target{URL: u, Title: getStringArg(args, "title")})
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]interface{}{
			"navigated": false,
			"current":   describePage(nav.Current()),
		}, nil
	}

	result := map[string]interface{}{
		"navigated": true,
		"page":      describePage(page),
	}
	if wait {
		resp, err := awaitLoad(ctx, loads, waitTimeout(args))
		if err != nil {
			return nil, err
		}
		result["load"] = describeLoad(resp, defaultMaxLinks)
	}
	return result, nil
}

type NavigateBackTool struct {
	rt *Runtime
}

func (t *NavigateBackTool) Name() string { return "navigate-back" }
func (t *NavigateBackTool) Description() string {
	return `Return to the previous history entry. Agents are not consulted.

Returns: {navigated, page} - navigated is false at the first entry.`
}
func (t *NavigateBackTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *NavigateBackTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	page, ok, err := t.rt.Navigator.Back()
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]interface{}{"navigated": false, "current": describePage(t.rt.Navigator.Current())}, nil
	}
	return map[string]interface{}{"navigated": true, "page": describePage(page)}, nil
}

type LoadPageTool struct {
	rt *Runtime
}

func (t *LoadPageTool) Name() string { return "load-page" }
func (t *LoadPageTool) Description() string {
	return `Load a page document without navigating.

Without url the current page is loaded through the shared page cache, so
concurrent loads of the same page are fetched once. With url the page is
fetched directly and the navigation history is left alone.

Returns: {status, code, title, links, scripts, fragment}`
}
func (t *LoadPageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Page to load. Defaults to the current page",
			},
			"fragment": map[string]interface{}{
				"type":        "string",
				"description": "Id of an element whose text to return",
			},
			"max_links": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of links to return (default 50)",
			},
			"timeout_ms": map[string]interface{}{
				"type":        "integer",
				"description": "How long to wait for the load (default 30000)",
			},
		},
	}
}
func (t *LoadPageTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var source stream.OnEvent[pageload.Response]
	if getStringArg(args, "url") == "" {
		source = t.rt.Cache.Load(t.rt.Navigator.Current())
	} else {
		u, err := parseURLArg(args, "url")
		if err != nil {
			return nil, err
		}
		u = t.rt.Navigator.Current().URL().ResolveReference(u)
		source = t.rt.Loader.Load(detachedPage{url: u})
	}

	loads, receive := finalResponses()
	supply := source.On(receive)
	defer supply.Off(nil)

	resp, err := awaitLoad(ctx, loads, waitTimeout(args))
	if err != nil {
		return nil, err
	}
	if id := getStringArg(args, "fragment"); id != "" && resp.Document != nil {
		resp.Fragment = resp.Document.ElementByID(id)
	}
	return describeLoad(resp, getIntArg(args, "max_links", defaultMaxLinks)), nil
}

type HistoryTool struct {
	rt *Runtime
}

func (t *HistoryTool) Name() string { return "history" }
func (t *HistoryTool) Description() string {
	return `Show the navigation history.

Returns: {entries, index, visits, traces, last_load} where entries are the
history entries (index is the current one), visits the remembered visit
counts and traces the recorded navigation trace files, newest first.`
}
func (t *HistoryTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *HistoryTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	pages, index := t.rt.Navigator.Entries()
	entries := make([]*pageView, len(pages))
	for i, p := range pages {
		entries[i] = describePage(p)
	}

	visits, err := t.rt.History.Visits()
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{
		"entries": entries,
		"index":   index,
		"visits":  visits,
	}
	if t.rt.Recorder != nil {
		traces, err := t.rt.Recorder.Traces()
		if err != nil {
			return nil, err
		}
		result["traces"] = traces
	}
	if last, ok := t.rt.LastLoad(); ok {
		result["last_load"] = describeLoad(last, 0)
	}
	return result, nil
}
