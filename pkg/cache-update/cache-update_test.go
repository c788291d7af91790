package cacheupdate

import (
	"net/http"
	"testing"
	"time"
)

func TestGetCacheUpdates(t *testing.T) {
	req, _ := http.NewRequest("POST", "/api/consulta/new", nil)
	res := &http.Response{Header: http.Header{}}
	res.Header.Add("Cache-Update", "/api/consulta")
	res.Header.Add("Cache-Update", "history; delay=2")

	updates := GetCacheUpdates(req, res)
	if len(updates) != 2 {
		t.Fatalf("Got %d updates", len(updates))
	}
	if updates[0].Path != "/api/consulta" || updates[0].Delay != 0 {
		t.Fatalf("First update is %+v", updates[0])
	}
	if updates[1].Path != "/api/consulta/history" || updates[1].Delay != 2*time.Second {
		t.Fatalf("Second update is %+v", updates[1])
	}
}

func TestSafeRequestsDoNotUpdate(t *testing.T) {
	req, _ := http.NewRequest("GET", "/", nil)
	res := &http.Response{Header: http.Header{}}
	res.Header.Add("Cache-Update", "/other")
	if updates := GetCacheUpdates(req, res); len(updates) != 0 {
		t.Fatalf("Got updates %+v for GET", updates)
	}
}

func TestGetDelay(t *testing.T) {
	if d := getDelay("/; DELAY=5"); d != 5*time.Second {
		t.Fatalf("Delay is %s", d)
	}
	if d := getDelay("/"); d != 0 {
		t.Fatalf("Delay is %s", d)
	}
}
