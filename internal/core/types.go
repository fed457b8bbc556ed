package core

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request is an outgoing resource request as seen by the shim.
type Request struct {
	Method string
	// URL is the resource identifier: an origin-relative path (with query)
	// or an absolute URL. Fragments are never part of it.
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest builds a Request from a method and a raw resource identifier.
// The identifier is normalized so that equal resources produce equal keys.
func NewRequest(method, rawURL string) (*Request, error) {
	if method == "" {
		method = http.MethodGet
	}
	normalized, err := NormalizeIdentifier(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    normalized,
		Header: make(http.Header),
	}, nil
}

// NormalizeIdentifier parses a resource identifier and drops its fragment.
// Relative identifiers are anchored at "/".
func NormalizeIdentifier(rawURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", NewInvalidRequestError("resource identifier is empty", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", NewInvalidRequestError(fmt.Sprintf("invalid resource identifier %q", raw), err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if !u.IsAbs() && !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return u.String(), nil
}

// Cacheable reports whether the request can be answered from a cache entry.
// Only GET and HEAD requests match stored entries.
func (r *Request) Cacheable() bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

// Key returns the request identity used as the cache key.
// HEAD shares the GET entry.
func (r *Request) Key() string {
	method := r.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}
	return method + " " + r.URL
}

// Response is a stored or freshly fetched response payload.
type Response struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	// URL is the final URL the response was served from.
	URL      string    `json:"url,omitempty"`
	StoredAt time.Time `json:"stored_at,omitzero"`
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// unstorableHeaders are per-client and never kept in a shared cache entry.
var unstorableHeaders = []string{"Set-Cookie", "Set-Cookie2"}

// ForStorage returns a deep copy of the response without per-client headers.
func (r *Response) ForStorage() *Response {
	clone := r.Clone()
	if clone == nil {
		return nil
	}
	for _, name := range unstorableHeaders {
		clone.Header.Del(name)
	}
	return clone
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Header = r.Header.Clone()
	if r.Body != nil {
		clone.Body = append([]byte(nil), r.Body...)
	}
	return &clone
}
