// Package core defines the request, response and error types shared by the
// offline cache shim and its collaborators.
package core

import "context"

// Fetcher performs the actual network exchange for a request.
// A response with an error status is a response, not an error; an error is
// returned only when no response could be obtained.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts an ordinary function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
