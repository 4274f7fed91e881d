package download

import (
	"net/url"
	"strings"
)

// Candidates returns the URLs to try for rawURL: the file part of rawURL
// joined to each mirror base in order, then rawURL itself.
func Candidates(rawURL string, bases []string) []string {
	urls := make([]string, 0, len(bases)+1)
	if len(bases) > 0 {
		file := lastSegment(rawURL)
		for _, base := range bases {
			if !strings.HasSuffix(base, "/") {
				base += "/"
			}
			urls = append(urls, joinURL(base, file))
		}
	}
	return append(urls, rawURL)
}

// lastSegment returns the last element of the path component of rawURL.
func lastSegment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// joinURL resolves file against base as a relative reference.
func joinURL(base, file string) string {
	b, err := url.Parse(base)
	if err != nil {
		return base + file
	}
	return b.ResolveReference(&url.URL{Path: file}).String()
}
