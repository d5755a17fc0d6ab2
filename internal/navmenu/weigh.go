// Package navmenu decides which navigation links match the current page.
//
// Weigh scores a link URL against a page URL. A Menu keeps a set of links,
// follows the current page and activates the links with the highest
// positive weight.
package navmenu

import (
	"net/url"
	"strings"
)

// Weigh returns how well the link URL matches the page URL. Non-positive
// weights mean no match; -1 is used for that.
//
//   - A link without fragment and query matches pages inside its directory;
//     the weight is the link path length.
//   - A link with query parameters requires the same directory and all of its
//     parameters present in the page query; the weight is the path length
//     plus the number of parameters.
//   - A link with fragment requires the same directory and the same query.
//     Both fragments are then weighed as URLs of their own (see HashURL) and
//     the result is added to the path length and the number of parameters.
//
// Query parameters named like __name__ are ignored.
func Weigh(link, page *url.URL) int {
	if origin(link) != origin(page) {
		return -1
	}

	linkDir := dir(link)
	pageDir := dir(page)

	if link.Fragment != "" {
		if linkDir != pageDir {
			return -1
		}
		paramsWeight := searchParamsWeight(link, page)
		if paramsWeight < 0 || searchParamsWeight(page, link) < 0 {
			return -1
		}
		return len(pathname(link)) + paramsWeight + Weigh(HashURL(link), HashURL(page))
	}

	paramsWeight := searchParamsWeight(link, page)
	if paramsWeight != 0 {
		if paramsWeight < 0 || linkDir != pageDir {
			return -1
		}
		return len(pathname(link)) + paramsWeight
	}

	if !strings.HasPrefix(pageDir, linkDir) {
		return -1
	}
	return len(pathname(link))
}

// HashURL treats the fragment of u as a URL of its own: "#a/b?x=1" becomes
// path "/a/b" with query "x=1". The origin is kept, so hash URLs of the same
// origin compare as such.
func HashURL(u *url.URL) *url.URL {
	root := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
	ref, err := url.Parse(u.EscapedFragment())
	if err != nil {
		return root
	}
	if ref.Scheme != "" || ref.Host != "" {
		// Keep the fragment inside the origin.
		ref = &url.URL{Path: ref.Path, RawPath: ref.RawPath, RawQuery: ref.RawQuery, Fragment: ref.Fragment}
	}
	return root.ResolveReference(ref)
}

func origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

func pathname(u *url.URL) string {
	if p := u.EscapedPath(); p != "" {
		return p
	}
	return "/"
}

func dir(u *url.URL) string {
	p := pathname(u)
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// searchParamsWeight counts the link query parameters present in the page
// query, or returns -1 if one of them is absent.
func searchParamsWeight(link, page *url.URL) int {
	linkParams := link.Query()
	pageParams := page.Query()

	weight := 0
	for key, values := range linkParams {
		if isIgnoredParam(key) {
			continue
		}
		for _, v := range values {
			if !contains(pageParams[key], v) {
				return -1
			}
			weight++
		}
	}
	return weight
}

func isIgnoredParam(key string) bool {
	return strings.HasPrefix(key, "__") && strings.HasSuffix(key, "__")
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
