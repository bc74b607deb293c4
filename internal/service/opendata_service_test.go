package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartcity/roadwork/internal/domain"
)

// TestBuildURL verifies separator choice, declaration order and encoding.
func TestBuildURL(t *testing.T) {
	params := domain.QueryParams{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}

	tests := []struct {
		name   string
		base   string
		params domain.QueryParams
		want   string
	}{
		{"no query", "https://x.org/api", params, "https://x.org/api?a=1&b=2"},
		{"existing query", "https://x.org/api?dataset=works", params, "https://x.org/api?dataset=works&a=1&b=2"},
		{"no params", "https://x.org/api", nil, "https://x.org/api"},
		{"encoding", "https://x.org/api", domain.QueryParams{{Key: "q", Value: "rue de l'été&co"}}, "https://x.org/api?q=rue%20de%20l%27%C3%A9t%C3%A9%26co"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildURL(tt.base, tt.params); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

// TestFetch_Fixture verifies invalid records are dropped and valid ones kept.
func TestFetch_Fixture(t *testing.T) {
	svc := NewOpenDataService(FixtureFetcher{Path: "testdata/paris_records.json"})

	ds, stats, err := svc.Fetch(context.Background(), "France-Paris", loadParisDescriptor(t))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if ds.Source != "France-Paris" {
		t.Errorf("expected source France-Paris, got %q", ds.Source)
	}
	if stats.Kept != 2 || stats.Dropped != 3 {
		t.Errorf("expected 2 kept / 3 dropped, got %+v", stats)
	}
	if ds.Len() != 2 {
		t.Fatalf("expected 2 roadworks, got %d", ds.Len())
	}
	for id, r := range ds.Roadworks {
		if id != r.ID {
			t.Errorf("key %q holds roadwork %q", id, r.ID)
		}
		if !r.HasLocation() {
			t.Errorf("roadwork %q has no location", id)
		}
	}
	if _, ok := ds.Get("zero"); ok {
		t.Error("expected the (0,0) roadwork to be dropped")
	}
	eiffel, ok := ds.Get("b2c4")
	if !ok {
		t.Fatal("expected roadwork b2c4")
	}
	if eiffel.Latitude != 48.8584 || eiffel.Longitude != 2.2945 {
		t.Errorf("expected string coordinates to be parsed, got %v,%v", eiffel.Latitude, eiffel.Longitude)
	}
}

// TestFetch_UsesDescriptorURL verifies the request goes to the built URL over HTTP.
func TestFetch_UsesDescriptorURL(t *testing.T) {
	var gotQuery atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"records":[]}`))
	}))
	defer server.Close()

	d := loadParisDescriptor(t)
	local := *d
	local.Metadata.URL = server.URL + "/api/records/1.0/search/"

	svc := NewOpenDataService(NewHTTPFetcher(5*time.Second, 1, 0))
	ds, _, err := svc.Fetch(context.Background(), "France-Paris", &local)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if ds.Len() != 0 {
		t.Errorf("expected empty dataset, got %d", ds.Len())
	}
	want := "dataset=chantiers-perturbants&q=&rows=1000&exclude.statut=5"
	if got, _ := gotQuery.Load().(string); got != want {
		t.Errorf("expected query %q, got %q", want, got)
	}
}

// TestFetch_HTTPErrorIsFetchError verifies a failing host aborts the fetch.
func TestFetch_HTTPErrorIsFetchError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := loadParisDescriptor(t)
	local := *d
	local.Metadata.URL = server.URL

	svc := NewOpenDataService(NewHTTPFetcher(5*time.Second, 2, 0))
	_, _, err := svc.Fetch(context.Background(), "France-Paris", &local)
	if !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

// TestHTTPFetcher_PayloadTooLarge verifies an oversized body is reported as
// such, without retrying.
func TestHTTPFetcher_PayloadTooLarge(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"records":[{"id":"a1f3"}]}`))
	}))
	defer server.Close()

	f := NewHTTPFetcher(5*time.Second, 3, 0)
	f.maxBody = 16
	_, err := f.Fetch(context.Background(), server.URL)
	if !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if !strings.Contains(err.Error(), "payload too large") {
		t.Errorf("expected payload too large, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", calls.Load())
	}
}

// TestHTTPFetcher_CancelledNotRetried verifies a cancelled request stops at once.
func TestHTTPFetcher_CancelledNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		<-r.Context().Done()
	}))
	defer server.Close()

	f := NewHTTPFetcher(5*time.Second, 3, 0)
	_, err := f.Fetch(ctx, server.URL)
	if !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", calls.Load())
	}
}

// TestParse_RootArrayErrors verifies a payload without the roadwork array is fatal.
func TestParse_RootArrayErrors(t *testing.T) {
	svc := NewOpenDataService(nil)
	d := loadParisDescriptor(t)

	for _, body := range []string{`{"records":{"a":1}}`, `{"items":[]}`, `not json`} {
		_, _, err := svc.Parse("France-Paris", d, []byte(body))
		if !errors.Is(err, domain.ErrFetch) {
			t.Errorf("body %s: expected ErrFetch, got %v", strings.TrimSpace(body), err)
		}
	}
}
