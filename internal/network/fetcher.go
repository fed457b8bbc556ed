// Package network performs origin fetches on behalf of the offline cache shim.
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"

	"offlinecache/internal/core"
)

// DefaultMaxBodySize caps a single response body after decoding (64MB).
const DefaultMaxBodySize int64 = 64 << 20

var (
	// ErrBodyTooLarge is returned when a response body exceeds the configured maximum.
	ErrBodyTooLarge = errors.New("response body exceeds maximum size")
	// ErrForeignHost is returned for identifiers that resolve outside the origin
	// and outside every host allowed with WithAllowedURLs.
	ErrForeignHost = errors.New("resource identifier resolves to a foreign host")
)

// hopHeaders are meaningful only for a single transport-level connection.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPFetcher fetches resource identifiers from an origin web application.
type HTTPFetcher struct {
	origin       *url.URL
	client       *http.Client
	maxBodySize  int64
	allowedHosts map[string]struct{}
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithMaxBodySize overrides DefaultMaxBodySize.
func WithMaxBodySize(n int64) Option {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBodySize = n
		}
	}
}

// WithAllowedURLs lets absolute identifiers on the same scheme and host as
// one of urls be fetched. Relative entries are ignored.
func WithAllowedURLs(urls ...string) Option {
	return func(f *HTTPFetcher) {
		for _, raw := range urls {
			u, err := url.Parse(strings.TrimSpace(raw))
			if err != nil || !u.IsAbs() || u.Host == "" {
				continue
			}
			f.allowedHosts[hostKey(u)] = struct{}{}
		}
	}
}

// NewHTTPFetcher creates a fetcher that resolves relative identifiers against originURL.
func NewHTTPFetcher(originURL string, client *http.Client, opts ...Option) (*HTTPFetcher, error) {
	origin, err := url.Parse(originURL)
	if err != nil {
		return nil, fmt.Errorf("invalid origin URL: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return nil, fmt.Errorf("invalid origin URL %q: scheme must be http or https", originURL)
	}
	if client == nil {
		client = http.DefaultClient
	}

	f := &HTTPFetcher{
		origin:       origin,
		client:       client,
		maxBodySize:  DefaultMaxBodySize,
		allowedHosts: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Resolve turns a resource identifier into the absolute URL fetched from the origin.
func (f *HTTPFetcher) Resolve(identifier string) (string, error) {
	u, err := f.resolve(identifier)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (f *HTTPFetcher) resolve(identifier string) (*url.URL, error) {
	ref, err := url.Parse(identifier)
	if err != nil {
		return nil, fmt.Errorf("invalid resource identifier %q: %w", identifier, err)
	}
	return f.origin.ResolveReference(ref), nil
}

func (f *HTTPFetcher) allowed(u *url.URL) bool {
	key := hostKey(u)
	if key == hostKey(f.origin) {
		return true
	}
	_, ok := f.allowedHosts[key]
	return ok
}

func hostKey(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// Fetch performs one network exchange. Error statuses are returned as responses.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *core.Request) (*core.Response, error) {
	u, err := f.resolve(req.URL)
	if err != nil {
		return nil, err
	}
	if !f.allowed(u) {
		return nil, fmt.Errorf("%w: %s", ErrForeignHost, u.Redacted())
	}
	target := u.String()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", target, err)
	}
	for k, vv := range req.Header {
		for _, v := range vv {
			httpReq.Header.Add(k, v)
		}
	}
	removeHopHeaders(httpReq.Header)
	httpReq.Header.Set("Accept-Encoding", "br, gzip, deflate")
	if id := core.GetRequestID(ctx); id != "" {
		httpReq.Header.Set(core.RequestIDHeader, id)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	raw, err := readLimited(resp.Body, f.maxBodySize)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)

	decoded, err := decodeBody(raw, header.Get("Content-Encoding"), f.maxBodySize)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", target, err)
	}
	if header.Get("Content-Encoding") != "" {
		header.Del("Content-Encoding")
		header.Set("Content-Length", strconv.Itoa(len(decoded)))
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &core.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       decoded,
		URL:        finalURL,
	}, nil
}

func removeHopHeaders(h http.Header) {
	for _, name := range h.Values("Connection") {
		for _, field := range strings.Split(name, ",") {
			if field = strings.TrimSpace(field); field != "" {
				h.Del(field)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// decodeBody undoes gzip, deflate and brotli (br) content encodings.
func decodeBody(body []byte, contentEncoding string, limit int64) ([]byte, error) {
	if len(body) == 0 || contentEncoding == "" {
		return body, nil
	}

	// "gzip, br" means gzip was applied first
	encodings := strings.Split(contentEncoding, ",")
	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(encodings[i]))

		var reader io.ReadCloser
		switch encoding {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			gz, err := gzip.NewReader(bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			reader = gz
		case "deflate":
			reader = flate.NewReader(bytes.NewReader(body))
		case "br":
			reader = io.NopCloser(brotli.NewReader(bytes.NewReader(body)))
		default:
			return nil, fmt.Errorf("unsupported content encoding %q", encoding)
		}

		decoded, err := readLimited(reader, limit)
		reader.Close()
		if err != nil {
			return nil, err
		}
		body = decoded
	}
	return body, nil
}
