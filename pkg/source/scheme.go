package source

import (
	"path/filepath"
	"slices"
	"strings"
)

const schemeDelimiter = "://"

type schemeMatcher struct {
	scheme Scheme
	tokens []string
}

// schemes is checked in order and the first match wins.
var schemes = []schemeMatcher{
	{scheme: HTTP, tokens: []string{"http", "https"}},
	{scheme: FTP, tokens: []string{"ftp"}},
	{scheme: Git, tokens: []string{"git", "git+https", "git+http", "git+ssh", "git+file"}},
	{scheme: File, tokens: []string{"file"}},
}

// DetectScheme returns the scheme of rawURL. The scheme token must be
// followed by "://"; a URL without a delimiter that looks like a
// filesystem path is a file source.
func DetectScheme(rawURL string) (Scheme, bool) {
	token, _, found := strings.Cut(rawURL, schemeDelimiter)
	if !found || !isSchemeToken(token) {
		if isLocalPath(rawURL) {
			return File, true
		}
		return "", false
	}

	token = strings.ToLower(token)
	for _, m := range schemes {
		if slices.Contains(m.tokens, token) {
			return m.scheme, true
		}
	}
	return "", false
}

// isSchemeToken reports whether s is a syntactically valid URL scheme.
func isSchemeToken(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// isLocalPath reports whether ref looks like a local filesystem path.
func isLocalPath(ref string) bool {
	return strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") || filepath.IsAbs(ref)
}

// FilePath returns the filesystem path a file source URL refers to.
func FilePath(rawURL string) string {
	if token, rest, found := strings.Cut(rawURL, schemeDelimiter); found && strings.EqualFold(token, string(File)) {
		return rest
	}
	return rawURL
}
