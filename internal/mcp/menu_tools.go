package mcp

import (
	"context"
	"fmt"
	"net/url"

	"navnerd-mcp-server/internal/navmenu"
)

type WeighLinksTool struct {
	rt *Runtime
}

func (t *WeighLinksTool) Name() string { return "weigh-links" }
func (t *WeighLinksTool) Description() string {
	return `Weigh links against a page URL.

The weight tells how well a link matches the page: the same origin is
required, then matching path segments, the directory and query parameters
add to it. Links with the highest positive weight are the active ones of a
menu.

Returns: {page, links: [{href, weight, active}]}`
}
func (t *WeighLinksTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"links": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Link hrefs, resolved against the page URL",
			},
			"page_url": map[string]interface{}{
				"type":        "string",
				"description": "Page to weigh against. Defaults to the current page",
			},
		},
		"required": []string{"links"},
	}
}

type weightView struct {
	Href   string `json:"href"`
	Weight int    `json:"weight"`
	Active bool   `json:"active,omitempty"`
}

func (t *WeighLinksTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	hrefs := getStringsArg(args, "links")
	if len(hrefs) == 0 {
		return nil, fmt.Errorf("links is required")
	}
	page := t.rt.Navigator.Current().URL()
	if getStringArg(args, "page_url") != "" {
		u, err := parseURLArg(args, "page_url")
		if err != nil {
			return nil, err
		}
		page = u
	}

	weights := make([]weightView, 0, len(hrefs))
	best := 0
	for _, href := range hrefs {
		ref, err := url.Parse(href)
		if err != nil {
			weights = append(weights, weightView{Href: href, Weight: -1})
			continue
		}
		w := navmenu.Weigh(page.ResolveReference(ref), page)
		t.rt.Feed.LinkWeight(href, page, w)
		weights = append(weights, weightView{Href: href, Weight: w})
		best = max(best, w)
	}
	for i := range weights {
		weights[i].Active = best > 0 && weights[i].Weight == best
	}
	return map[string]interface{}{"page": page.String(), "links": weights}, nil
}

type NavMenuTool struct {
	rt *Runtime
}

func (t *NavMenuTool) Name() string { return "nav-menu" }
func (t *NavMenuTool) Description() string {
	return `Show the navigation menu of the current page.

The menu follows the loaded documents: the links inside their <nav>
elements become menu links and the ones best matching the current page are
active. Pass links to replace the menu with your own.

Returns: {page, links: [{href, text, active}]}`
}
func (t *NavMenuTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"links": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional hrefs replacing the menu links",
			},
		},
	}
}
func (t *NavMenuTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	current := t.rt.Navigator.Current()
	if hrefs := getStringsArg(args, "links"); len(hrefs) > 0 {
		links := make([]navmenu.Link, 0, len(hrefs))
		for _, href := range hrefs {
			links = append(links, &trackedLink{NavLink: navmenu.NewLink(href, ""), feed: t.rt.Feed, page: current.URL()})
		}
		t.rt.Menu.Replace(links...)
	}

	active := make(map[navmenu.Link]bool)
	for _, l := range t.rt.Menu.Active() {
		active[l] = true
	}
	var views []linkView
	for _, l := range t.rt.Menu.Links() {
		v := linkView{Href: l.Href(), Active: active[l]}
		if tl, ok := l.(*trackedLink); ok {
			v.Text = tl.Text()
		}
		views = append(views, v)
	}
	return map[string]interface{}{"page": describePage(current), "links": views}, nil
}
