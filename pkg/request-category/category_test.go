package category

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func newRequest(method, path string) *http.Request {
	req, _ := http.NewRequest(method, path, nil)
	return req
}

func TestClassifyStaticAssets(t *testing.T) {
	c := NewClassifier()
	for _, path := range []string{
		"/static/design-system.css",
		"/static/anything",
		"/favicon.png",
		"/bundle.js",
		"/fonts/inter.woff2",
		"/img/logo.svg",
		"/photo.jpg",
	} {
		if got := c.Classify(newRequest("GET", path)); got != StaticAsset {
			t.Fatalf("%s classified as %s", path, got)
		}
	}
}

func TestClassifyAPI(t *testing.T) {
	c := NewClassifier()
	for _, path := range []string{"/api/consulta", "/api/", "/api/export.js"} {
		if got := c.Classify(newRequest("GET", path)); got != APICall {
			t.Fatalf("%s classified as %s", path, got)
		}
	}
}

func TestClassifyNavigation(t *testing.T) {
	c := NewClassifier()
	req := newRequest("GET", "/history")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	if got := c.Classify(req); got != Navigation {
		t.Fatalf("Navigation classified as %s", got)
	}
	doc := newRequest("GET", "/")
	doc.Header.Set("Sec-Fetch-Dest", "document")
	if got := c.Classify(doc); got != Navigation {
		t.Fatalf("Document classified as %s", got)
	}
	// static patterns take precedence over navigation intent
	asset := newRequest("GET", "/static/app.js")
	asset.Header.Set("Sec-Fetch-Mode", "navigate")
	if got := c.Classify(asset); got != StaticAsset {
		t.Fatalf("Navigated asset classified as %s", got)
	}
}

func TestClassifyOther(t *testing.T) {
	c := NewClassifier()
	for _, path := range []string{"/", "/history", "/apis", "/staticfile"} {
		if got := c.Classify(newRequest("GET", path)); got != Other {
			t.Fatalf("%s classified as %s", path, got)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := NewClassifier()
	req := newRequest("GET", "/api/consulta?cpf=1")
	first := c.Classify(req)
	for i := 0; i < 10; i++ {
		if got := c.Classify(req); got != first {
			t.Fatalf("Classification changed from %s to %s", first, got)
		}
	}
}

func TestStrategy(t *testing.T) {
	if StaticAsset.Strategy() != CacheFirst {
		t.Fatal("Static assets should be cache-first")
	}
	for _, c := range []Category{APICall, Navigation, Other} {
		if c.Strategy() != NetworkFirst {
			t.Fatalf("%s should be network-first", c)
		}
	}
}

func TestRuleFinder(t *testing.T) {
	c := NewClassifier()
	c.Rules = Rules{
		Rule{Prefix: "/api/assets/", Category: StaticAsset},
		Rule{Path: "/manifest.json", Method: "GET", Category: StaticAsset},
		Rule{Suffix: ".map", Category: Other},
		Rule{Prefix: "/search", Query: map[string]string{"live": ""}, Category: APICall},
		Rule{Prefix: "/", Category: "bogus"},
	}

	if got := c.Classify(newRequest("GET", "/api/assets/logo")); got != StaticAsset {
		t.Fatalf("Rule prefix ignored, got %s", got)
	}
	if got := c.Classify(newRequest("GET", "/manifest.json")); got != StaticAsset {
		t.Fatalf("Rule path ignored, got %s", got)
	}
	if got := c.Classify(newRequest("POST", "/manifest.json")); got != Other {
		t.Fatalf("Rule method ignored, got %s", got)
	}
	if got := c.Classify(newRequest("GET", "/static/app.js.map")); got != Other {
		t.Fatalf("Rule suffix ignored, got %s", got)
	}
	if got := c.Classify(newRequest("GET", "/search?live")); got != APICall {
		t.Fatalf("Rule query ignored, got %s", got)
	}
	if got := c.Classify(newRequest("GET", "/search")); got != Other {
		t.Fatalf("Rule query matched without parameter, got %s", got)
	}
}

func TestValidateRules(t *testing.T) {
	c := NewClassifier()
	if err := c.Validate(); err != nil {
		t.Fatalf("Default classifier invalid: %v", err)
	}
	c.Rules = Rules{
		Rule{Prefix: "/api/assets/", Category: StaticAsset},
		Rule{Prefix: "/", Category: "bogus"},
	}
	err := c.Validate()
	if !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("Expected invalid rule, got %v", err)
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("Error does not name the category: %v", err)
	}
}

func TestClassifyDoesNotLog(t *testing.T) {
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.TraceLevel)
	defer func() { log.Logger = previous }()

	c := NewClassifier()
	c.Rules = Rules{
		Rule{Prefix: "/", Category: "bogus"},
		Rule{Prefix: "/api/assets/", Category: StaticAsset},
	}
	for i := 0; i < 3; i++ {
		if got := c.Classify(newRequest("GET", "/api/assets/logo")); got != StaticAsset {
			t.Fatalf("Category is %s", got)
		}
	}
	if buf.Len() != 0 {
		t.Fatalf("Classify logged %s", buf.String())
	}
}
