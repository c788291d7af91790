package offlinegateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/always-cache/offline-gateway/cache"
	cacheupdate "github.com/always-cache/offline-gateway/pkg/cache-update"

	"github.com/rs/zerolog"
)

func TestSyncRefreshesMarkedEntries(t *testing.T) {
	var mu sync.Mutex
	fetched := make([]string, 0)
	net := newNetwork(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fetched = append(fetched, r.URL.RequestURI())
		mu.Unlock()
		if r.URL.Query().Get("cpf") == "2" {
			http.Error(w, "gone", http.StatusBadGateway)
			return
		}
		w.Write([]byte("synced"))
	})
	g, _ := newTestGateway(t, net)
	for _, path := range []string{"/api/consulta?cpf=1", "/api/consulta?cpf=2", "/api/other"} {
		storeResponse(t, g, get(path), "stored")
	}

	report, err := g.Sync(context.Background(), DefaultSyncTag)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Refreshed != 1 || report.Failed != 1 {
		t.Fatalf("Report is %+v", report)
	}
	if body, _ := storedBody(t, g, get("/api/consulta?cpf=1")); body != "synced" {
		t.Fatalf("Refreshed body is %s", body)
	}
	if body, _ := storedBody(t, g, get("/api/consulta?cpf=2")); body != "stored" {
		t.Fatalf("Failed entry body is %s", body)
	}
	if body, _ := storedBody(t, g, get("/api/other")); body != "stored" {
		t.Fatalf("Unmarked entry body is %s", body)
	}
	for _, uri := range fetched {
		if uri == "/api/other" {
			t.Fatal("Unmarked entry was fetched")
		}
	}
}

func TestSyncOffline(t *testing.T) {
	net := newNetwork(nil)
	net.offline.Store(true)
	g, _ := newTestGateway(t, net)
	storeResponse(t, g, get("/api/consulta"), "stored")

	report, err := g.Sync(context.Background(), DefaultSyncTag)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Refreshed != 0 || report.Failed != 1 {
		t.Fatalf("Report is %+v", report)
	}
}

func TestSyncIgnoresUnknownTag(t *testing.T) {
	net := newNetwork(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("synced"))
	})
	g, _ := newTestGateway(t, net)
	storeResponse(t, g, get("/api/consulta"), "stored")

	report, err := g.Sync(context.Background(), "sync-other")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Refreshed != 0 || report.Failed != 0 {
		t.Fatalf("Report is %+v", report)
	}
	if net.calls.Load() != 0 {
		t.Fatalf("Network was called %d times", net.calls.Load())
	}
}

func TestSaveRequestRejectsUnsuccessful(t *testing.T) {
	net := newNetwork(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	g, _ := newTestGateway(t, net)
	req := get("/static/app.css")

	stored, err := g.saveRequest(context.Background(), req, g.keyer.GetKey(req))
	if err == nil || stored {
		t.Fatalf("Expected error, got stored=%v", stored)
	}
}

func TestDelayedUpdateAbandonedOnClose(t *testing.T) {
	net := newNetwork(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("updated"))
	})
	g, _ := newTestGateway(t, net)
	req := httptest.NewRequest("POST", "/api/consulta", nil)

	g.saveUpdates(req.Context(), []cacheupdate.CacheUpdate{{Path: "/api/consulta/list", Delay: time.Hour}})
	start := time.Now()
	g.Close()
	if time.Since(start) > 5*time.Second {
		t.Fatal("Close waited for the delayed update")
	}
	if net.calls.Load() != 0 {
		t.Fatalf("Network was called %d times", net.calls.Load())
	}
}

func TestSyncWithMultiByteOrigin(t *testing.T) {
	net := newNetwork(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("synced"))
	})
	store, err := cache.NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Could not open cache: %v", err)
	}
	defer store.Close()
	logger := zerolog.Nop()
	g := CreateGateway(Config{
		Cache:    store,
		Version:  "v1",
		Fetcher:  net,
		OriginId: "https://détetive.example",
		Logger:   &logger,
	})
	defer g.Close()
	storeResponse(t, g, get("/api/consulta?cpf=1"), "stored")

	report, err := g.Sync(context.Background(), DefaultSyncTag)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Refreshed != 1 {
		t.Fatalf("Report is %+v", report)
	}
	if body, _ := storedBody(t, g, get("/api/consulta?cpf=1")); body != "synced" {
		t.Fatalf("Stored body is %s", body)
	}
}
