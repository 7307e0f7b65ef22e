// Package webview provides the default rewriter that maps local resource
// URIs into ones resolvable inside a sandboxed rendering surface.
package webview

import (
	"net/url"
	"strconv"
	"strings"
)

// Rewriter scopes rewritten resource URIs by controller handle: the result
// authority is "<handle>.<base authority>" and the original scheme and
// authority are folded into the path.
type Rewriter struct {
	authority string
}

// NewRewriter creates a Rewriter with the given base authority.
func NewRewriter(authority string) *Rewriter {
	return &Rewriter{authority: authority}
}

// Rewrite maps u to an https URI served by the sandboxed surface. Query
// and fragment are preserved. A nil u yields nil.
func (rw *Rewriter) Rewrite(handle int32, u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "file"
	}
	path := u.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	out := &url.URL{
		Scheme:   "https",
		Host:     strconv.FormatInt(int64(handle), 10) + "." + rw.authority,
		Path:     "/" + scheme + pathWithHost(u.Host, path),
		RawQuery: u.RawQuery,
		Fragment: u.Fragment,
	}
	return out
}

func pathWithHost(host, path string) string {
	if host == "" {
		return path
	}
	return "/" + host + path
}
