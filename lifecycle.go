package offlinegateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/always-cache/offline-gateway/cache"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var ErrInstallFailed = errors.New("install failed")

// State is the lifecycle state of a gateway version.
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (g *Gateway) State() State {
	return State(g.state.Load())
}

func (g *Gateway) setState(s State) {
	g.state.Store(int32(s))
	g.log.Debug().Str("state", s.String()).Msg("Lifecycle state changed")
}

// Start installs the version and activates it right away,
// without waiting for other instances to finish.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.Install(ctx); err != nil {
		return err
	}
	return g.Activate(ctx)
}

// Install opens the current store and fills it with the manifest.
// The manifest is stored as a whole: if any entry cannot be fetched
// successfully, nothing is stored and the install fails.
func (g *Gateway) Install(ctx context.Context) (err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.install", trace.WithAttributes(
		attribute.Int("gateway.manifest_size", len(g.manifest)),
	))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			g.setState(StateRedundant)
		}
		span.End()
	}()
	g.setState(StateInstalling)

	if err := g.cache.Open(g.version); err != nil {
		return fmt.Errorf("%w: open store %s: %w", ErrInstallFailed, g.version, err)
	}

	entries := make([]cache.CacheEntry, len(g.manifest))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, path := range g.manifest {
		i, path := i, path
		eg.Go(func() error {
			req, err := http.NewRequestWithContext(egCtx, http.MethodGet, path, nil)
			if err != nil {
				return fmt.Errorf("manifest entry %s: %w", path, err)
			}
			res, err := g.fetch(egCtx, req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", path, err)
			}
			if res.Body != nil {
				defer res.Body.Close()
			}
			if !isSuccess(res) {
				return fmt.Errorf("fetch %s: unsuccessful response %d", path, res.StatusCode)
			}
			entry, err := newCacheEntry(g.keyer.GetKey(req), res)
			if err != nil {
				return fmt.Errorf("store %s: %w", path, err)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		g.log.Error().Err(err).Msg("Could not populate store")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	if err := g.cache.PutAll(g.version, entries); err != nil {
		return fmt.Errorf("%w: write manifest: %w", ErrInstallFailed, err)
	}

	g.log.Info().Int("entries", len(entries)).Msg("Installed")
	g.setState(StateInstalled)
	return nil
}

// Activate deletes every store that does not belong to the current version.
// Replacing the whole store generation is the only eviction there is.
func (g *Gateway) Activate(ctx context.Context) error {
	_, span := g.tracer.Start(ctx, "gateway.activate")
	defer span.End()
	g.setState(StateActivating)

	stores, err := g.cache.Stores()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("list stores: %w", err)
	}
	var errs []error
	for _, store := range stores {
		if store == g.version {
			continue
		}
		if err := g.cache.Drop(store); err != nil {
			errs = append(errs, fmt.Errorf("drop store %s: %w", store, err))
			continue
		}
		g.log.Info().Str("store", store).Msg("Deleted stale store")
	}
	if err := g.cache.Open(g.version); err != nil {
		errs = append(errs, fmt.Errorf("open store %s: %w", g.version, err))
	}
	if err := errors.Join(errs...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	g.setState(StateActivated)
	return nil
}
