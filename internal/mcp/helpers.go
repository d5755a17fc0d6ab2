package mcp

import (
	"fmt"
	"net/url"

	"navnerd-mcp-server/internal/navigation"
	"navnerd-mcp-server/internal/navmenu"
	"navnerd-mcp-server/internal/pageload"
)

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// getBoolArg extracts a boolean argument with default.
func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return fallback
}

// getStringsArg accepts a list of strings or a single string.
func getStringsArg(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case map[string]interface{}:
				out = append(out, getStringArg(s, "href"))
			}
		}
		return out
	}
	return nil
}

func parseURLArg(args map[string]interface{}, key string) (*url.URL, error) {
	raw := getStringArg(args, key)
	if raw == "" {
		return nil, fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return u, nil
}

// detachedPage is a page outside of the navigation history.
type detachedPage struct {
	url *url.URL
}

func (p detachedPage) URL() *url.URL             { return p.url }
func (p detachedPage) Title() string             { return "" }
func (p detachedPage) Data() any                 { return nil }
func (p detachedPage) Visited() bool             { return false }
func (p detachedPage) Current() bool             { return false }
func (p detachedPage) Get(navigation.Param) any  { return nil }
func (p detachedPage) Put(navigation.Param, any) {}

type pageView struct {
	ID      string `json:"id,omitempty"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Visited bool   `json:"visited"`
	Current bool   `json:"current"`
}

func describePage(p navigation.Page) *pageView {
	if p == nil {
		return nil
	}
	v := &pageView{
		ID:      navigation.IDOf(p),
		Title:   p.Title(),
		Visited: p.Visited(),
		Current: p.Current(),
	}
	if u := p.URL(); u != nil {
		v.URL = u.String()
	}
	return v
}

type linkView struct {
	Href   string `json:"href"`
	Text   string `json:"text,omitempty"`
	Active bool   `json:"active,omitempty"`
}

type loadView struct {
	URL      string     `json:"url"`
	Status   string     `json:"status"`
	Code     int        `json:"code,omitempty"`
	Error    string     `json:"error,omitempty"`
	Title    string     `json:"title,omitempty"`
	Links    []linkView `json:"links,omitempty"`
	Scripts  []string   `json:"scripts,omitempty"`
	Fragment string     `json:"fragment,omitempty"`
}

// describeLoad summarizes a finished load, keeping at most maxLinks links.
func describeLoad(resp pageload.Response, maxLinks int) loadView {
	v := loadView{Status: resp.Status.String()}
	if resp.Page != nil && resp.Page.URL() != nil {
		v.URL = resp.Page.URL().String()
	}
	if resp.HTTP != nil {
		v.Code = resp.HTTP.StatusCode
	}
	if resp.Err != nil {
		v.Error = resp.Err.Error()
	}
	if resp.Fragment != nil {
		v.Fragment = pageload.Text(resp.Fragment)
	}
	if resp.Document == nil {
		return v
	}
	v.Title = resp.Document.Title()
	v.Scripts = resp.Document.Scripts()
	for _, l := range navmenu.LinksFromDocument(resp.Document) {
		if len(v.Links) >= maxLinks {
			break
		}
		v.Links = append(v.Links, linkView{Href: l.Href(), Text: l.Text()})
	}
	return v
}
