package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbeStandalone(t *testing.T) {
	h := probeHandler("", "dev", http.DefaultClient)
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestProbeRelaysReadyz(t *testing.T) {
	admin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/readyz" {
			t.Errorf("probed %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer admin.Close()

	h := probeHandler(admin.URL, "dev", &http.Client{Timeout: 2 * time.Second})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestProbeReportsUpstreamNotReady(t *testing.T) {
	admin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer admin.Close()

	h := probeHandler(admin.URL, "dev", &http.Client{Timeout: 2 * time.Second})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
}

func TestProbeReportsUnreachable(t *testing.T) {
	h := probeHandler("http://127.0.0.1:1", "dev", &http.Client{Timeout: 200 * time.Millisecond})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
}
