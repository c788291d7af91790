package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrMethodNotSupported = errors.New("method not supported")
	ErrMalformedKey       = errors.New("malformed key")
)

const (
	originSeparator = ":"
	methodSeparator = ":"
)

type CacheKeyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin - well - origin.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewCacheKeyer(originId string) CacheKeyer {
	return CacheKeyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// MethodPrefix gets the key prefix for the origin with the given method.
// E.g. prefix for all GET requests in the store.
func (c CacheKeyer) MethodPrefix(method string) string {
	return c.OriginPrefix + method + methodSeparator
}

// GetKey returns the identity of a request in the store.
// It consists of the method and the request URI (path and query).
// The URL fragment never reaches the key.
func (c CacheKeyer) GetKey(r *http.Request) string {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return c.MethodPrefix(method) + r.URL.RequestURI()
}

// GetRequestFromKey generates a caching-wise equal request than the request that resulted in the
// provided key.
// Only GET keys can be turned back into requests, since the body of other requests is not stored.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.OriginPrefix) {
		return nil, fmt.Errorf("key %q does not belong to origin %q: %w", key, c.OriginId, ErrMalformedKey)
	}
	method, uri, found := strings.Cut(strings.TrimPrefix(key, c.OriginPrefix), methodSeparator)
	if !found || uri == "" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKey, key)
	}
	if method != http.MethodGet {
		return nil, ErrMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}
