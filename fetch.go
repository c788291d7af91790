package offlinegateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	tee "github.com/always-cache/offline-gateway/pkg/response-writer-tee"
)

var (
	ErrNoFetcher      = errors.New("no fetcher configured")
	ErrNoResponse     = errors.New("fetcher returned no response")
	ErrHandlerAborted = errors.New("handler aborted")
)

// Fetcher is the network as seen by the gateway.
// An error means the network could not be reached; any response,
// successful or not, is returned without error.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
}

// OriginFetcher fetches responses from an origin server over HTTP.
type OriginFetcher struct {
	originURL  url.URL
	originHost string
	httpClient *http.Client
}

// NewOriginFetcher creates a fetcher for the given origin.
// If originHost is set, it is used as the Host header and for TLS negotiation,
// e.g. when the origin URL is just an IP address.
func NewOriginFetcher(originURL url.URL, originHost string) *OriginFetcher {
	f := &OriginFetcher{
		originURL:  originURL,
		originHost: originHost,
		httpClient: &http.Client{
			// do not follow redirects, the client does that
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	if originHost != "" {
		f.httpClient.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return f
}

// Fetch the resource specified in the incoming request from the origin.
func (f *OriginFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	uri := strings.TrimSuffix(f.originURL.String(), "/") + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("create origin request: %w", err)
	}
	req.ContentLength = r.ContentLength
	if f.originHost != "" {
		req.Host = f.originHost
	}
	for k, vv := range r.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	return f.httpClient.Do(req)
}

// HandlerFetcher uses an in-process handler as the network.
// A panicking handler counts as an unreachable network.
type HandlerFetcher struct {
	Handler http.Handler
}

func (f HandlerFetcher) Fetch(ctx context.Context, r *http.Request) (res *http.Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("%w: %v", ErrHandlerAborted, p)
		}
	}()
	rw := tee.NewResponseSaver()
	f.Handler.ServeHTTP(rw, r.WithContext(ctx))
	return rw.ToResponse(r)
}
