package pageload

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Document is a parsed page.
type Document struct {
	Root *html.Node
	// Base is the URL relative references of the document resolve against.
	Base        *url.URL
	ContentType string
}

// ParseDocument parses body according to contentType. An empty content type
// means HTML. The document base is the first <base href> resolved against
// docURL, the URL the body was fetched from, or docURL itself.
func ParseDocument(contentType string, body io.Reader, docURL *url.URL) (*Document, error) {
	mediaType := "text/html"
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
		}
		mediaType = mt
	}

	var (
		root *html.Node
		err  error
	)
	switch {
	case mediaType == "text/html":
		root, err = html.Parse(body)
	case mediaType == "text/xml", mediaType == "application/xml", strings.HasSuffix(mediaType, "+xml"):
		root, err = parseXML(body)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, mediaType)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", mediaType, err)
	}

	doc := &Document{Root: root, Base: docURL, ContentType: mediaType}
	if base := doc.First(func(n *html.Node) bool { return isElement(n, "base") && hasAttr(n, "href") }); base != nil {
		if ref, err := url.Parse(Attr(base, "href")); err == nil {
			doc.Base = docURL.ResolveReference(ref)
		}
	}
	return doc, nil
}

// parseXML builds an html.Node tree out of an XML document, so both kinds of
// documents are walked the same way.
func parseXML(body io.Reader) (*html.Node, error) {
	root := &html.Node{Type: html.DocumentNode}
	cur := root
	dec := xml.NewDecoder(body)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &html.Node{
				Type:      html.ElementNode,
				Data:      t.Name.Local,
				Namespace: t.Name.Space,
			}
			for _, a := range t.Attr {
				n.Attr = append(n.Attr, html.Attribute{Namespace: a.Name.Space, Key: a.Name.Local, Val: a.Value})
			}
			cur.AppendChild(n)
			cur = n
		case xml.EndElement:
			if cur.Parent != nil {
				cur = cur.Parent
			}
		case xml.CharData:
			if cur != root {
				cur.AppendChild(&html.Node{Type: html.TextNode, Data: string(t)})
			}
		case xml.Comment:
			cur.AppendChild(&html.Node{Type: html.CommentNode, Data: string(t)})
		}
	}
	if root.FirstChild == nil {
		return nil, errors.New("empty xml document")
	}
	return root, nil
}

// Walk calls fn for every node in document order until fn returns false.
func (d *Document) Walk(fn func(n *html.Node) bool) {
	walk(d.Root, fn)
}

func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

// First returns the first node matching fn, or nil.
func (d *Document) First(fn func(n *html.Node) bool) *html.Node {
	var found *html.Node
	d.Walk(func(n *html.Node) bool {
		if fn(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// ElementByID returns the element with the given id attribute, or nil.
func (d *Document) ElementByID(id string) *html.Node {
	return d.First(func(n *html.Node) bool {
		return n.Type == html.ElementNode && Attr(n, "id") == id
	})
}

// Title returns the text of the <title> element.
func (d *Document) Title() string {
	title := d.First(func(n *html.Node) bool { return isElement(n, "title") })
	if title == nil {
		return ""
	}
	return strings.TrimSpace(Text(title))
}

// Resolve resolves href against the document base.
func (d *Document) Resolve(href string) (*url.URL, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return nil, err
	}
	return d.Base.ResolveReference(ref), nil
}

// Scripts returns the resolved URLs of external scripts in document order.
func (d *Document) Scripts() []string {
	var out []string
	d.Walk(func(n *html.Node) bool {
		if isElement(n, "script") {
			if src := Attr(n, "src"); src != "" {
				if u, err := d.Resolve(src); err == nil {
					out = append(out, u.String())
				}
			}
		}
		return true
	})
	return out
}

// Attr returns the value of the attribute key of n, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// Text returns the concatenated text content of n.
func Text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

func isElement(n *html.Node, name string) bool {
	return n.Type == html.ElementNode && n.Data == name
}
