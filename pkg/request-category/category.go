// Package category classifies outbound requests so the gateway can pick a caching strategy.
package category

import (
	"net/http"
	"strings"
)

type Category string

const (
	StaticAsset Category = "static-asset"
	APICall     Category = "api-call"
	Navigation  Category = "navigation"
	Other       Category = "other"
)

type Strategy string

const (
	CacheFirst   Strategy = "cache-first"
	NetworkFirst Strategy = "network-first"
)

// Strategy returns the caching policy used for the category.
func (c Category) Strategy() Strategy {
	if c == StaticAsset {
		return CacheFirst
	}
	return NetworkFirst
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case StaticAsset, APICall, Navigation, Other:
		return true
	}
	return false
}

var (
	DefaultAPIPrefixes      = []string{"/api/"}
	DefaultStaticPrefixes   = []string{"/static/"}
	DefaultStaticExtensions = []string{".css", ".js", ".png", ".jpg", ".svg", ".woff", ".woff2"}
)

type Classifier struct {
	// Rules are checked in order before the built-in patterns.
	Rules            Rules    `yaml:"rules"`
	APIPrefixes      []string `yaml:"apiPrefixes"`
	StaticPrefixes   []string `yaml:"staticPrefixes"`
	StaticExtensions []string `yaml:"staticExtensions"`
}

// NewClassifier returns a classifier using the default patterns.
func NewClassifier() Classifier {
	return Classifier{
		APIPrefixes:      DefaultAPIPrefixes,
		StaticPrefixes:   DefaultStaticPrefixes,
		StaticExtensions: DefaultStaticExtensions,
	}
}

// Validate checks the override rules once, so that Classify stays free of side effects.
func (c Classifier) Validate() error {
	return c.Rules.Validate()
}

// Classify maps a request to its category.
// API paths win over static patterns, so `/api/export.js` is an API call.
func (c Classifier) Classify(r *http.Request) Category {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if rule := c.Rules.find(r); rule != nil {
		return rule.Category
	}
	if hasAnyPrefix(path, c.APIPrefixes) {
		return APICall
	}
	if hasAnyPrefix(path, c.StaticPrefixes) || hasAnySuffix(path, c.StaticExtensions) {
		return StaticAsset
	}
	if IsNavigation(r) {
		return Navigation
	}
	return Other
}

// IsNavigation reports whether the browser flagged the request as a page navigation.
func IsNavigation(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate") ||
		strings.EqualFold(r.Header.Get("Sec-Fetch-Dest"), "document")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if suffix != "" && strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
