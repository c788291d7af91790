package offlinegateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	cacheupdate "github.com/always-cache/offline-gateway/pkg/cache-update"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SyncReport summarizes a background sync.
type SyncReport struct {
	Tag       string
	Refreshed int
	Failed    int
}

// Sync refreshes the stored API responses when connectivity returns.
// Only the configured sync tag triggers a refresh, other tags are ignored.
// It is best effort: an entry that cannot be refreshed is skipped and keeps
// its stored response.
func (g *Gateway) Sync(ctx context.Context, tag string) (SyncReport, error) {
	report := SyncReport{Tag: tag}
	if tag != g.syncTag {
		g.log.Trace().Str("tag", tag).Msg("Ignoring unknown sync tag")
		return report, nil
	}
	ctx, span := g.tracer.Start(ctx, "gateway.sync", trace.WithAttributes(attribute.String("gateway.sync_tag", tag)))
	defer span.End()

	keys := make([]string, 0)
	err := g.cache.Keys(g.version, g.keyer.MethodPrefix(http.MethodGet), func(key string) {
		if strings.Contains(key, g.syncPathMarker) {
			keys = append(keys, key)
		}
	})
	if err != nil {
		g.log.Error().Err(err).Str("tag", tag).Msg("Could not enumerate stored requests")
		return report, fmt.Errorf("sync %s: %w", tag, err)
	}

	for _, key := range keys {
		req, err := g.keyer.GetRequestFromKey(key)
		if err != nil {
			g.log.Warn().Err(err).Str("key", key).Msg("Could not create request for sync")
			report.Failed++
			continue
		}
		if stored, err := g.saveRequest(ctx, req.WithContext(ctx), key); err != nil || !stored {
			g.log.Debug().Err(err).Str("key", key).Msg("Could not refresh stored request")
			report.Failed++
			continue
		}
		report.Refreshed++
	}
	span.SetAttributes(
		attribute.Int("gateway.sync_refreshed", report.Refreshed),
		attribute.Int("gateway.sync_failed", report.Failed),
	)
	g.log.Info().
		Str("tag", tag).
		Int("refreshed", report.Refreshed).
		Int("failed", report.Failed).
		Msg("Background sync done")
	return report, nil
}

// saveUpdates refreshes the paths an unsafe request asked to update via `Cache-Update`.
// Updates run detached; delayed updates are abandoned when the gateway is closed.
func (g *Gateway) saveUpdates(ctx context.Context, updates []cacheupdate.CacheUpdate) {
	for _, update := range updates {
		g.log.Trace().Str("update", update.Path).Msgf("Updating store based on header")
		g.detach(ctx, "gateway.cache_update", func(ctx context.Context) {
			if update.Delay > 0 {
				timer := time.NewTimer(update.Delay)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-g.stop.Done():
					return
				}
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, update.Path, nil)
			if err != nil {
				g.log.Error().Err(err).Str("path", update.Path).Msg("Could not create request for updates")
				return
			}
			if _, err := g.saveRequest(ctx, req, g.keyer.GetKey(req)); err != nil {
				g.log.Debug().Err(err).Str("path", update.Path).Msg("Could not save updates")
			}
		})
	}
}

// saveRequest fetches the request and overwrites the stored response on success.
// It reports whether the response was stored.
func (g *Gateway) saveRequest(ctx context.Context, req *http.Request, key string) (bool, error) {
	g.log.Trace().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("key", key).
		Msg("Requesting content from network")

	res, err := g.fetch(ctx, req)
	if err != nil {
		return false, err
	}
	if res.Body != nil {
		defer res.Body.Close()
	}
	if !isSuccess(res) {
		return false, fmt.Errorf("unsuccessful response %d for %s", res.StatusCode, req.URL)
	}
	return g.put(key, req, res), nil
}
