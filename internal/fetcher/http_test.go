package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const exportPayload = "id,scientific_name,longitude,latitude\n101,Quercus alba,-75.5,45.1\n"

// newTestFetcher paces every host at the fallback rate so tests are not
// slowed by provider rates.
func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		HostRates:  map[string]rate.Limit{},
	})
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte(exportPayload))
	}))
	defer srv.Close()

	f := newTestFetcher()
	body, err := f.Download(context.Background(), srv.URL+"/observations.csv")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, exportPayload, string(data))
}

func TestDownload_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.Download(context.Background(), srv.URL+"/restricted.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Download(ctx, srv.URL+"/observations.csv")
	require.Error(t, err)
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(exportPayload))
	}))
	defer srv.Close()

	f := newTestFetcher()
	path := filepath.Join(t.TempDir(), "observations.csv")

	n, err := f.DownloadToFile(context.Background(), srv.URL+"/observations.csv", path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(exportPayload)), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, exportPayload, string(data))
}

func TestDownloadToFile_BadPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(exportPayload))
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.DownloadToFile(context.Background(), srv.URL+"/observations.csv",
		filepath.Join(t.TempDir(), "missing", "observations.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create")
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(exportPayload))
	}))
	defer srv.Close()

	f := newTestFetcher()
	body, err := f.Download(context.Background(), srv.URL+"/observations.csv")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, exportPayload, string(data))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		HostRates:  map[string]rate.Limit{},
	})
	_, err := f.Download(context.Background(), srv.URL+"/observations.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
}

func TestRateLimitResponseSlowsThrottle(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(exportPayload))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		HostRates:  map[string]rate.Limit{u.Host: 100},
	})

	body, err := f.Download(context.Background(), srv.URL+"/observations.csv")
	require.NoError(t, err)
	body.Close()

	assert.Equal(t, int32(2), attempts.Load())
	// Halved by the 429, then nudged back up 20% by the success.
	assert.Less(t, float64(f.throttleFor(srv.URL).limit()), 100.0)
}

func TestThrottle_SpeedUpCapsAtTwiceBase(t *testing.T) {
	th := newThrottle(10)
	for range 20 {
		th.speedUp()
	}
	assert.InDelta(t, 20.0, float64(th.limit()), 0.1)
}

func TestThrottle_SlowDownFloorsAtQuarterBase(t *testing.T) {
	th := newThrottle(10)
	for range 10 {
		th.slowDown()
	}
	assert.InDelta(t, 2.5, float64(th.limit()), 0.1)
}

func TestThrottle_WaitContextCancelled(t *testing.T) {
	th := newThrottle(0.001)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, th.wait(ctx))
}

func TestThrottleFor_FallbackRate(t *testing.T) {
	f := newTestFetcher()
	th := f.throttleFor("https://static.example.org/dump.csv")
	assert.InDelta(t, float64(fallbackRate), float64(th.limit()), 0.001)
}

func TestThrottleFor_ConfiguredHost(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{UserAgent: "test"})
	th := f.throttleFor("https://download.ebird.org/ebd/full/ebd.zip")
	assert.InDelta(t, 2.0, float64(th.limit()), 0.001)
}

func TestThrottleFor_ReusesPerHost(t *testing.T) {
	f := newTestFetcher()
	a := f.throttleFor("https://api.gbif.org/v1/occurrence/download/0001.zip")
	b := f.throttleFor("https://api.gbif.org/v1/occurrence/download/0002.zip")
	assert.Same(t, a, b)
}

func TestThrottleFor_UnparseableURL(t *testing.T) {
	f := newTestFetcher()
	assert.NotNil(t, f.throttleFor("://invalid-url"))
}

func TestDefaultHostRates(t *testing.T) {
	rates := DefaultHostRates()
	assert.Contains(t, rates, "api.gbif.org")
	assert.Contains(t, rates, "www.inaturalist.org")
	assert.Contains(t, rates, "data.canadensys.net")
	assert.InDelta(t, 10.0, float64(rates["api.gbif.org"]), 0.001)
	assert.InDelta(t, 2.0, float64(rates["download.ebird.org"]), 0.001)
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "occurrence-cli/1.0", f.opts.UserAgent)
	assert.Equal(t, 30*time.Second, f.opts.Timeout)
	assert.Equal(t, 3, f.opts.MaxRetries)
	assert.Equal(t, DefaultHostRates(), f.opts.HostRates)
}
