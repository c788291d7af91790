package offlinegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/always-cache/offline-gateway/cache"
	cacheupdate "github.com/always-cache/offline-gateway/pkg/cache-update"
	category "github.com/always-cache/offline-gateway/pkg/request-category"
	serializer "github.com/always-cache/offline-gateway/pkg/response-serializer"
	"github.com/always-cache/offline-gateway/rfc9211"
)

const (
	unavailableText = "Offline - resource not available"
	offlineText     = "You are offline. Check your connection."
	offlineAPIError = "Offline - could not complete the request"
)

// cacheFirst serves the stored response if there is one and refreshes it in the background.
// On a miss the response is fetched and stored.
func (g *Gateway) cacheFirst(ctx context.Context, r *http.Request) (*http.Response, rfc9211.CacheStatus) {
	cs := g.newCacheStatus()
	key := g.keyer.GetKey(r)

	if res, ok := g.match(key, r); ok {
		cs.Hit()
		refreshReq := r.Clone(context.WithoutCancel(ctx))
		g.detach(ctx, "gateway.refresh", func(ctx context.Context) {
			if _, err := g.saveRequest(ctx, refreshReq, key); err != nil {
				g.log.Trace().Err(err).Str("key", key).Msg("Background refresh failed")
			}
		})
		return res, cs
	}

	cs.Forward(rfc9211.FwdReasonUriMiss)
	res, err := g.fetch(ctx, r)
	if err != nil {
		g.log.Debug().Err(err).Str("key", key).Msg("Network unavailable, resource not stored")
		cs.Detail = "offline"
		return unavailableResponse(r), cs
	}
	cs.FwdStatus = res.StatusCode
	if isSuccess(res) {
		cs.Stored = g.put(key, r, res)
	}
	return res, cs
}

// networkFirst always asks the network and keeps the store in sync with successful responses.
// If the network is unavailable the stored response is used, however old it is.
func (g *Gateway) networkFirst(ctx context.Context, r *http.Request, cat category.Category) (*http.Response, rfc9211.CacheStatus) {
	cs := g.newCacheStatus()
	key := g.keyer.GetKey(r)

	res, err := g.fetch(ctx, r)
	if err == nil {
		cs.Forward(rfc9211.FwdReasonBypass)
		cs.FwdStatus = res.StatusCode
		if isSuccess(res) {
			cs.Stored = g.put(key, r, res)
			g.saveUpdates(ctx, cacheupdate.GetCacheUpdates(r, res))
		}
		return res, cs
	}

	g.log.Debug().Err(err).Str("key", key).Msg("Network unavailable, trying store")
	if stored, ok := g.match(key, r); ok {
		cs.Hit()
		cs.Detail = "stale"
		return stored, cs
	}
	cs.Forward(rfc9211.FwdReasonMiss)
	cs.Detail = "offline"
	return offlineResponse(r, cat), cs
}

// fetch asks the network for the response.
// A missing fetcher or response counts as a network failure.
func (g *Gateway) fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	if g.fetcher == nil {
		return nil, ErrNoFetcher
	}
	res, err := g.fetcher.Fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNoResponse
	}
	if res.Request == nil {
		res.Request = r
	}
	if res.Header == nil {
		res.Header = http.Header{}
	}
	return res, nil
}

// match returns the stored response for the key in the current store.
// Store errors count as a miss.
func (g *Gateway) match(key string, r *http.Request) (*http.Response, bool) {
	b, ok, err := g.cache.Match(g.version, key)
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("Could not read from store")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	sRes, err := serializer.BytesToStoredResponse(b, r)
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("Could not read stored response")
		return nil, false
	}
	g.log.Trace().Str("key", key).Time("storedAt", sRes.StoredAt).Msg("Found stored response")
	return sRes.Response, true
}

// put writes a copy of the response to the current store.
// Only GET responses are stored. The response body stays readable for the caller.
func (g *Gateway) put(key string, r *http.Request, res *http.Response) bool {
	if r.Method != http.MethodGet && r.Method != "" {
		return false
	}
	entry, err := newCacheEntry(key, res)
	if err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Could not serialize response")
		return false
	}
	if err := g.cache.Put(g.version, entry); err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Could not write to store")
		return false
	}
	g.log.Trace().Str("key", key).Msg("Store write")
	return true
}

func newCacheEntry(key string, res *http.Response) (cache.CacheEntry, error) {
	now := time.Now()
	bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: now,
	})
	return cache.CacheEntry{Key: key, StoredAt: now, Bytes: bts}, err
}

func isSuccess(res *http.Response) bool {
	return res.StatusCode >= 200 && res.StatusCode < 300
}

// unavailableResponse is sent for static assets that are neither stored nor reachable.
func unavailableResponse(r *http.Request) *http.Response {
	return newResponse(r, http.StatusServiceUnavailable, "text/plain; charset=utf-8", unavailableText)
}

type offlinePayload struct {
	Error  string `json:"error"`
	Cached bool   `json:"cached"`
}

// offlineResponse is sent for network-first requests without a stored response.
// API calls get a JSON body with an error marker, everything else a plain text notice.
func offlineResponse(r *http.Request, cat category.Category) *http.Response {
	if cat == category.APICall {
		body, _ := json.Marshal(offlinePayload{Error: offlineAPIError, Cached: false})
		return newResponse(r, http.StatusServiceUnavailable, "application/json", string(body))
	}
	return newResponse(r, http.StatusServiceUnavailable, "text/plain; charset=utf-8", offlineText)
}

func newResponse(r *http.Request, status int, contentType, body string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}
