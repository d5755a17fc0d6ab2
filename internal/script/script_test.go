package script

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navnerd-mcp-server/internal/config"
	"navnerd-mcp-server/internal/navigation"
)

type page struct {
	url     *url.URL
	title   string
	visited bool
}

func (p *page) URL() *url.URL             { return p.url }
func (p *page) Title() string             { return p.title }
func (p *page) Data() any                 { return nil }
func (p *page) Visited() bool             { return p.visited }
func (p *page) Current() bool             { return false }
func (p *page) Get(navigation.Param) any  { return nil }
func (p *page) Put(navigation.Param, any) {}

func pageAt(t *testing.T, raw string) *page {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return &page{url: u}
}

func TestScriptDecide(t *testing.T) {
	from := pageAt(t, "https://a.com/")
	to := pageAt(t, "https://a.com/docs")
	to.title = "Docs"
	to.visited = true

	tests := []struct {
		name        string
		body        string
		wantProceed bool
		wantURL     string
		wantTitle   string
	}{
		{name: "undefined proceeds", body: "", wantProceed: true},
		{name: "true proceeds", body: "return true;", wantProceed: true},
		{name: "false prevents", body: "return false;"},
		{name: "null prevents", body: "return null;"},
		{name: "string redirects", body: `return "/login?next=" + encodeURIComponent(nav.to.url);`, wantProceed: true, wantURL: "/login?next=https%3A%2F%2Fa.com%2Fdocs"},
		{name: "object retargets", body: `return {url: "/docs/", title: nav.to.title + "!"};`, wantProceed: true, wantURL: "/docs/", wantTitle: "Docs!"},
		{name: "sees page state", body: `return nav.when === "pre-open" && nav.to.visited && nav.from.url === "https://a.com/";`, wantProceed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Compile(tt.name, "function agent(nav) {"+tt.body+"}", Options{})
			require.NoError(t, err)

			d, err := s.Decide(navigation.WhenPreOpen, from, to)
			require.NoError(t, err)
			assert.Equal(t, tt.wantProceed, d.Proceed)
			if tt.wantURL == "" && tt.wantTitle == "" {
				assert.Nil(t, d.Target)
				return
			}
			require.NotNil(t, d.Target)
			if tt.wantURL != "" {
				assert.Equal(t, tt.wantURL, d.Target.URL.String())
			}
			assert.Equal(t, tt.wantTitle, d.Target.Title)
		})
	}
}

func TestScriptErrors(t *testing.T) {
	from := pageAt(t, "https://a.com/")
	to := pageAt(t, "https://a.com/x")

	_, err := Compile("syntax", "function agent( {", Options{})
	assert.Error(t, err)

	_, err = Compile("missing", "var x = 1;", Options{})
	assert.ErrorIs(t, err, ErrNoAgentFunction)

	s, err := Compile("number", "function agent() { return 42; }", Options{})
	require.NoError(t, err)
	_, err = s.Decide(navigation.WhenPreOpen, from, to)
	assert.ErrorIs(t, err, ErrBadResult)

	s, err = Compile("throws", `function agent() { throw new Error("boom"); }`, Options{})
	require.NoError(t, err)
	_, err = s.Decide(navigation.WhenPreOpen, from, to)
	assert.ErrorContains(t, err, "boom")

	s, err = Compile("loops", "function agent() { for (;;) {} }", Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = s.Decide(navigation.WhenPreOpen, from, to)
	assert.ErrorIs(t, err, ErrInterrupted)
}

func TestScriptAgentFailurePreventsNavigation(t *testing.T) {
	s, err := Compile("throws", `function agent() { throw new Error("boom"); }`, Options{})
	require.NoError(t, err)

	called := false
	s.Agent()(func(*navigation.Target) { called = true }, navigation.WhenPreOpen, pageAt(t, "https://a.com/"), pageAt(t, "https://a.com/x"))
	assert.False(t, called)
}

func newNavigator(t *testing.T, rules []config.AgentRule) *navigation.Navigator {
	t.Helper()
	agents, err := FromRules(rules, Options{})
	require.NoError(t, err)

	start, err := url.Parse("https://a.com/")
	require.NoError(t, err)
	nav, err := navigation.NewNavigator(navigation.Options{Start: start})
	require.NoError(t, err)
	t.Cleanup(func() { nav.Close() })
	nav.Agents().Add(agents...)
	return nav
}

func open(t *testing.T, nav *navigation.Navigator, raw string) (navigation.Page, bool) {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	p, ok, err := nav.Open(navigation.Target{URL: u})
	require.NoError(t, err)
	return p, ok
}

func TestFromRulesDriveNavigator(t *testing.T) {
	nav := newNavigator(t, []config.AgentRule{
		{Name: "admin", Match: "https://a.com/admin", Block: true},
		{Match: "https://a.com/doc/", Redirect: "https://a.com/docs/"},
		{Match: "https://a.com/docs/", Title: "Documentation"},
		{Name: "guard", Script: `function agent(nav) { return nav.to.url.indexOf("secret") < 0; }`},
	})

	_, ok := open(t, nav, "https://a.com/admin/users")
	assert.False(t, ok, "blocked by rule")
	assert.Equal(t, "https://a.com/", nav.Current().URL().String())

	p, ok := open(t, nav, "https://a.com/doc/")
	require.True(t, ok)
	assert.Equal(t, "https://a.com/docs/", p.URL().String())
	assert.Equal(t, "Documentation", p.Title(), "later rules see the redirected target")

	_, ok = open(t, nav, "https://a.com/secret")
	assert.False(t, ok, "blocked by script")

	p, ok = open(t, nav, "https://a.com/blog/")
	require.True(t, ok)
	assert.Equal(t, "https://a.com/blog/", p.URL().String())
}

func TestFromRulesErrors(t *testing.T) {
	_, err := FromRules([]config.AgentRule{{Name: "bad", Script: "function nope() {}"}}, Options{})
	assert.ErrorIs(t, err, ErrNoAgentFunction)

	_, err = FromRules([]config.AgentRule{{Name: "idle"}}, Options{})
	assert.ErrorContains(t, err, "agent idle: no action")
}
