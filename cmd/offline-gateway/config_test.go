package main

import (
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	category "github.com/always-cache/offline-gateway/pkg/request-category"
)

const testConfig = `
origin: https://detetive.example
port: 9000
version: v7
manifest:
  - /
  - /static/app.css
syncTag: sync-consultas
classifier:
  rules:
    - prefix: /api/static/
      category: static-asset
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatalf("Could not write config: %v", err)
	}
	return filename
}

func TestLoadConfig(t *testing.T) {
	config, err := loadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if config.Origin != "https://detetive.example" || config.Port != 9000 || config.Version != "v7" {
		t.Fatalf("Config is %+v", config)
	}
	if !reflect.DeepEqual(config.Manifest, []string{"/", "/static/app.css"}) {
		t.Fatalf("Manifest is %v", config.Manifest)
	}
	if config.DB != "cache.db" {
		t.Fatalf("Default db not kept: %s", config.DB)
	}

	// rules come first, patterns missing from the file keep their defaults
	classifier := *config.Classifier
	if cat := classifier.Classify(httptest.NewRequest("GET", "/api/static/logo.png", nil)); cat != category.StaticAsset {
		t.Fatalf("Rule not applied, category %s", cat)
	}
	if cat := classifier.Classify(httptest.NewRequest("GET", "/api/consulta", nil)); cat != category.APICall {
		t.Fatalf("Default API prefix lost, category %s", cat)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("OFFLINE_GATEWAY_VERSION", "v8")
	t.Setenv("OFFLINE_GATEWAY_PORT", "9100")
	t.Setenv("OFFLINE_GATEWAY_MANIFEST", "/,/favicon.png")

	config, err := loadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if config.Version != "v8" || config.Port != 9100 {
		t.Fatalf("Config is %+v", config)
	}
	if !reflect.DeepEqual(config.Manifest, []string{"/", "/favicon.png"}) {
		t.Fatalf("Manifest is %v", config.Manifest)
	}
	if config.Origin != "https://detetive.example" {
		t.Fatalf("Origin is %s", config.Origin)
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	config, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if config.Port != 8080 || config.Version != "v1" || config.Classifier == nil {
		t.Fatalf("Config is %+v", config)
	}
	if _, err := config.originURL(); !errors.Is(err, errNoOrigin) {
		t.Fatalf("Expected missing origin, got %v", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
	if _, err := loadConfig(writeConfig(t, "port: [")); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
	invalidRule := "classifier:\n  rules:\n    - prefix: /\n      category: bogus\n"
	if _, err := loadConfig(writeConfig(t, invalidRule)); !errors.Is(err, category.ErrInvalidRule) {
		t.Fatalf("Expected invalid rule error, got %v", err)
	}
	t.Setenv("OFFLINE_GATEWAY_PORT", "not a number")
	if _, err := loadConfig(""); err == nil {
		t.Fatal("Expected error for invalid env")
	}
}

func TestOriginURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:3000": "http://localhost:3000",
		"10.0.0.1":              "https://10.0.0.1",
	}
	for origin, expected := range tests {
		u, err := Config{Origin: origin}.originURL()
		if err != nil {
			t.Fatalf("originURL(%s): %v", origin, err)
		}
		if u.String() != expected {
			t.Errorf("Expected %s, got %s", expected, u.String())
		}
	}
}

func TestDBFilename(t *testing.T) {
	if name := (Config{DB: "memory"}).dbFilename(); name != "" {
		t.Fatalf("Memory db is %s", name)
	}
	if name := (Config{DB: "cache.db"}).dbFilename(); name != "cache.db" {
		t.Fatalf("File db is %s", name)
	}
}

func TestNewGatewayRequiresOrigin(t *testing.T) {
	config := defaultConfig()
	config.DB = filepath.Join(t.TempDir(), "cache.db")

	if _, _, err := newGateway(config, true); !errors.Is(err, errNoOrigin) {
		t.Fatalf("Expected missing origin, got %v", err)
	}
	g, closeGateway, err := newGateway(config, false)
	if err != nil {
		t.Fatalf("newGateway: %v", err)
	}
	defer closeGateway()
	if g.Version() != "v1" {
		t.Fatalf("Version is %s", g.Version())
	}
}
