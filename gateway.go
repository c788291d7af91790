package offlinegateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/always-cache/offline-gateway/cache"
	cachekey "github.com/always-cache/offline-gateway/pkg/cache-key"
	category "github.com/always-cache/offline-gateway/pkg/request-category"
	"github.com/always-cache/offline-gateway/rfc9211"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/always-cache/offline-gateway"

// DefaultManifest lists the assets stored when a version is installed.
var DefaultManifest = []string{
	"/",
	"/static/design-system.css",
	"/static/observability.js",
	"/static/theme-toggle.js",
	"/static/skeleton.js",
	"/static/metrics.js",
	"/favicon.png",
}

const (
	DefaultSyncTag        = "sync-consultas"
	DefaultSyncPathMarker = "/api/consulta"
	DefaultAppName        = "Detetive"
)

type Config struct {
	// Storage for all store generations.
	Cache cache.CacheProvider
	// Version tag, i.e. the name of the current store.
	Version string
	// Network used for fetching responses. Required unless the gateway is
	// used through Middleware.
	Fetcher Fetcher
	// Unique identifier of the origin, part of every cache key.
	// Usually the origin URL.
	OriginId string
	// Classifier deciding the caching strategy. Default patterns if nil.
	Classifier *category.Classifier
	// Paths stored on install. DefaultManifest if nil.
	Manifest []string
	// Tag of the background sync that refreshes stored API responses.
	SyncTag string
	// Only stored URLs containing this marker are refreshed on sync.
	SyncPathMarker string
	// Name used in notifications and the Cache-Status header.
	AppName string
	// Shows push notifications. Notifications are logged if nil.
	Notifier Notifier
	// Open pages. Notification clicks are only logged if nil.
	Clients Clients
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Tracer provider for spans. The global provider is used if nil.
	TracerProvider trace.TracerProvider
}

type Gateway struct {
	cache          cache.CacheProvider
	version        string
	fetcher        Fetcher
	keyer          cachekey.CacheKeyer
	classifier     category.Classifier
	manifest       []string
	syncTag        string
	syncPathMarker string
	appName        string
	notifier       Notifier
	clients        Clients
	log            zerolog.Logger
	tracer         trace.Tracer
	state          atomic.Int32

	// detached tasks, see detach
	background sync.WaitGroup
	closeMutex sync.Mutex
	closed     bool
	stop       context.Context
	cancelStop context.CancelFunc
}

// CreateGateway initializes the gateway instance.
// Call Start (or Install and Activate) before serving requests
// in order to populate the store.
func CreateGateway(config Config) *Gateway {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("version", config.Version).
		Logger()

	classifier := category.NewClassifier()
	if config.Classifier != nil {
		classifier = *config.Classifier
	}
	if err := classifier.Validate(); err != nil {
		logger.Warn().Err(err).Msg("Rules with unknown categories are skipped")
	}

	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	g := &Gateway{
		cache:          config.Cache,
		version:        config.Version,
		fetcher:        config.Fetcher,
		keyer:          cachekey.NewCacheKeyer(orDefault(config.OriginId, "origin")),
		classifier:     classifier,
		manifest:       config.Manifest,
		syncTag:        orDefault(config.SyncTag, DefaultSyncTag),
		syncPathMarker: orDefault(config.SyncPathMarker, DefaultSyncPathMarker),
		appName:        orDefault(config.AppName, DefaultAppName),
		notifier:       config.Notifier,
		clients:        config.Clients,
		log:            logger,
		tracer:         tp.Tracer(tracerName),
	}
	if g.manifest == nil {
		g.manifest = DefaultManifest
	}
	if g.notifier == nil {
		g.notifier = LogNotifier{Logger: logger}
	}
	g.stop, g.cancelStop = context.WithCancel(context.Background())
	return g
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

// Version returns the version tag of the current store.
func (g *Gateway) Version() string {
	return g.version
}

// Classify returns the category of the request.
func (g *Gateway) Classify(r *http.Request) category.Category {
	return g.classifier.Classify(r)
}

// Handle produces the response for an intercepted request.
// It never returns nil: network and store failures degrade to a stored
// response or a synthesized offline response.
func (g *Gateway) Handle(ctx context.Context, r *http.Request) *http.Response {
	res, _ := g.handle(ctx, r)
	return res
}

func (g *Gateway) handle(ctx context.Context, r *http.Request) (res *http.Response, cs rfc9211.CacheStatus) {
	cat := g.Classify(r)
	ctx, span := g.tracer.Start(ctx, "gateway.handle", trace.WithAttributes(
		attribute.String("http.request.method", r.Method),
		attribute.String("url.path", r.URL.Path),
		attribute.String("gateway.category", string(cat)),
	))
	defer span.End()
	defer func() {
		if err := recover(); err != nil {
			g.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Str("url", r.URL.String()).Msg("Panic in gateway handler")
			res = offlineResponse(r, cat)
			cs = g.newCacheStatus()
			cs.Forward(rfc9211.FwdReasonMiss)
			cs.Detail = "panic"
		}
		span.SetAttributes(attribute.String("gateway.cache_status", cs.String()))
	}()

	switch cat.Strategy() {
	case category.CacheFirst:
		res, cs = g.cacheFirst(ctx, r)
	default:
		res, cs = g.networkFirst(ctx, r, cat)
	}
	return res, cs
}

// ServeHTTP implements the http.Handler interface.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, cs := g.handle(r.Context(), r)
	g.send(w, r, res, cs)
}

// Middleware puts the gateway in front of next, which then acts as the network.
// It replaces any configured fetcher, so call it once per gateway.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	g.fetcher = HandlerFetcher{Handler: next}
	return g
}

// Close waits for detached tasks (background refreshes, delayed updates) to finish.
// Delayed updates that have not started yet are abandoned, and no new tasks
// are started once Close has been called.
func (g *Gateway) Close() {
	g.closeMutex.Lock()
	g.closed = true
	g.cancelStop()
	g.closeMutex.Unlock()
	g.background.Wait()
}

// detach runs fn in the background.
// Nothing waits for fn except Close, and its panics are swallowed.
// After Close, fn is dropped.
func (g *Gateway) detach(ctx context.Context, name string, fn func(ctx context.Context)) {
	g.closeMutex.Lock()
	defer g.closeMutex.Unlock()
	if g.closed {
		g.log.Trace().Str("task", name).Msg("Gateway closed, dropping background task")
		return
	}
	ctx = context.WithoutCancel(ctx)
	g.background.Add(1)
	go func() {
		defer g.background.Done()
		defer func() {
			if err := recover(); err != nil {
				g.log.Error().Interface("error", err).Str("task", name).Msg("Panic in background task")
			}
		}()
		ctx, span := g.tracer.Start(ctx, name)
		defer span.End()
		fn(ctx)
	}()
}

func (g *Gateway) newCacheStatus() rfc9211.CacheStatus {
	return rfc9211.CacheStatus{Cache: g.appName}
}

func (g *Gateway) send(w http.ResponseWriter, r *http.Request, res *http.Response, cs rfc9211.CacheStatus) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Set(rfc9211.HeaderName, cs.String())
	w.WriteHeader(res.StatusCode)
	var bytesWritten int64
	if res.Body != nil && r.Method != http.MethodHead {
		var err error
		bytesWritten, err = io.Copy(w, res.Body)
		if err != nil {
			g.log.Error().Err(err).Msg("Could not write response body to client")
		}
	}
	g.logRequest(r, res, cs)
	g.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (g *Gateway) logRequest(r *http.Request, res *http.Response, cs rfc9211.CacheStatus) {
	isHit := 0
	if cs.Status == rfc9211.StatusHit {
		isHit = 1
	}
	g.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("category", string(g.Classify(r))).
		Int("code", res.StatusCode).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

// hop-by-hop and framing headers are set by net/http for the client connection
var skipHeaders = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"X-Forwarded-For":   true,
	"X-Forwarded-Host":  true,
	"X-Forwarded-Proto": true,
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if skipHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
