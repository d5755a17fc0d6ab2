package navmenu

import (
	"strings"
	"sync"

	"golang.org/x/net/html"

	"navnerd-mcp-server/internal/pageload"
	"navnerd-mcp-server/internal/stream"
)

// Link is a navigation link of a menu.
type Link interface {
	Href() string
}

// Activator is a link reacting on activation. The returned supply is turned
// off when the link is deactivated.
type Activator interface {
	Activate() *stream.Supply
}

// Supplier is a link with its own supply. A link whose supply goes off is
// removed from the menu.
type Supplier interface {
	Supply() *stream.Supply
}

// NavLink is a link with an activation flag.
type NavLink struct {
	href   string
	text   string
	supply *stream.Supply

	mu     sync.Mutex
	active *stream.Supply
}

// NewLink creates a link. text is informational.
func NewLink(href, text string) *NavLink {
	return &NavLink{
		href:   href,
		text:   text,
		supply: stream.NewSupply(),
	}
}

// Href returns the resolved link target.
func (l *NavLink) Href() string { return l.href }
func (l *NavLink) Text() string { return l.text }

// Supply returns the link supply. It goes off when the link leaves the menu.
func (l *NavLink) Supply() *stream.Supply { return l.supply }

// Activate implements Activator.
func (l *NavLink) Activate() *stream.Supply {
	active := stream.NewSupply()
	l.mu.Lock()
	l.active = active
	l.mu.Unlock()
	return active
}

// Active reports whether the link is activated.
func (l *NavLink) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active != nil && !l.active.IsOff()
}

// LinksFromDocument returns the anchors inside <nav> elements of the
// document, or all anchors if it has no <nav>. Hrefs are resolved against
// the document base.
func LinksFromDocument(doc *pageload.Document) []*NavLink {
	var navs []*html.Node
	doc.Walk(func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "nav" {
			navs = append(navs, n)
		}
		return true
	})
	if len(navs) == 0 {
		navs = []*html.Node{doc.Root}
	}

	var (
		links []*NavLink
		seen  = make(map[*html.Node]bool)
	)
	for _, nav := range navs {
		(&pageload.Document{Root: nav}).Walk(func(n *html.Node) bool {
			if n.Type != html.ElementNode || n.Data != "a" || seen[n] {
				return true
			}
			seen[n] = true
			href := pageload.Attr(n, "href")
			if href == "" {
				return true
			}
			resolved, err := doc.Resolve(href)
			if err != nil {
				return true
			}
			links = append(links, NewLink(resolved.String(), strings.TrimSpace(pageload.Text(n))))
			return true
		})
	}
	return links
}
