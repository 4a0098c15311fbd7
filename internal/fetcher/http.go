package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int

	// HostRates sets the starting request rate per host, in requests
	// per second. Hosts not listed are paced at fallbackRate.
	HostRates map[string]rate.Limit
}

// fallbackRate paces hosts with no configured rate.
const fallbackRate rate.Limit = 20

// DefaultHostRates returns the request rates the provider download
// endpoints tolerate.
func DefaultHostRates() map[string]rate.Limit {
	return map[string]rate.Limit{
		"api.gbif.org":        10,
		"api.inaturalist.org": 5,
		"www.inaturalist.org": 5,
		"data.canadensys.net": 5,
		"download.ebird.org":  2,
	}
}

// throttle paces requests to one host. It speeds up while the host
// keeps answering and backs off when the host returns 429.
type throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	base    rate.Limit
	current rate.Limit
}

func newThrottle(r rate.Limit) *throttle {
	burst := max(int(r), 1)
	return &throttle{
		limiter: rate.NewLimiter(r, burst),
		base:    r,
		current: r,
	}
}

func (t *throttle) wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// speedUp raises the rate 20%, capped at twice the base rate.
func (t *throttle) speedUp() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = min(t.current*1.2, t.base*2)
	t.limiter.SetLimit(t.current)
}

// slowDown halves the rate, floored at a quarter of the base rate.
func (t *throttle) slowDown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = max(t.current/2, t.base/4)
	t.limiter.SetLimit(t.current)
}

func (t *throttle) limit() rate.Limit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// HTTPFetcher downloads feed files with retries and per-host pacing.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	log    *zap.Logger

	mu        sync.Mutex
	throttles map[string]*throttle
}

func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "occurrence-cli/1.0"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.HostRates == nil {
		opts.HostRates = DefaultHostRates()
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:      opts,
		log:       zap.L().With(zap.String("component", "fetch")),
		throttles: make(map[string]*throttle),
	}
}

// throttleFor returns the pacer for the URL's host, creating it on
// first use.
func (f *HTTPFetcher) throttleFor(rawURL string) *throttle {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if th, ok := f.throttles[host]; ok {
		return th
	}
	r, ok := f.opts.HostRates[host]
	if !ok {
		r = fallbackRate
	}
	th := newThrottle(r)
	f.throttles[host] = th
	return th
}

func (f *HTTPFetcher) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	th := f.throttleFor(req.URL.String())

	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if err := th.wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: wait for rate limiter")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			f.log.Warn("request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			f.backoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("fetch: http 429 from %s", req.URL.String())
			th.slowDown()
			f.log.Warn("host rate limited us, slowing down",
				zap.String("url", req.URL.String()),
				zap.Float64("rate", float64(th.limit())))
			f.backoff(ctx, attempt)
			continue
		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("fetch: http %d from %s", resp.StatusCode, req.URL.String())
			f.log.Warn("server error, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1))
			f.backoff(ctx, attempt)
			continue
		}

		th.speedUp()
		return resp, nil
	}

	return nil, eris.Wrap(lastErr, "fetch: retries exhausted")
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	d := min(time.Duration(float64(time.Second)*math.Pow(2, float64(attempt))), 30*time.Second)
	d += rand.N(d / 2)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: build request for %s", rawURL)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("fetch: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL into a local file.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "fetch: create %s", path)
	}
	defer out.Close() //nolint:errcheck

	n, err := io.Copy(out, body)
	if err != nil {
		return n, eris.Wrapf(err, "fetch: write %s", path)
	}
	return n, nil
}
