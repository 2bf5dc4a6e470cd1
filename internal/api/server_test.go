package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/market-relister/internal/config"
	"github.com/market-relister/internal/metrics"
	"github.com/market-relister/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct{}

func (fakeScanner) Stats() types.Stats {
	return types.Stats{Cycles: 4, Bought: 2, Relisted: 1, LastCycleTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (fakeScanner) CacheSize() int { return 17 }

type fakePool struct {
	mu        sync.Mutex
	live      []types.Proxy
	blacklist []string
	refreshes int
}

func (p *fakePool) Live() []types.Proxy { return p.live }

func (p *fakePool) Blacklist() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.blacklist...)
}

func (p *fakePool) LastRefresh() time.Time { return time.Time{} }

func (p *fakePool) Refresh(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	return len(p.live), nil
}

func (p *fakePool) AddBlacklist(px types.Proxy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blacklist = append(p.blacklist, px.Host)
}

func (p *fakePool) refreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

func newTestServer(t *testing.T, cfg *config.Config, pool ProxyPool) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if cfg == nil {
		cfg = config.Default()
	}
	collector := metrics.NewCollector("relister", prometheus.NewRegistry())
	return NewServer(context.Background(), cfg, fakeScanner{}, pool, collector)
}

func do(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := do(s, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStat(t *testing.T) {
	pool := &fakePool{
		live:      []types.Proxy{{Scheme: "http", Host: "1.1.1.1", Port: 8080}},
		blacklist: []string{"9.9.9.9"},
	}
	s := newTestServer(t, nil, pool)

	rec := do(s, "GET", "/stat", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(4), body["cycles"])
	assert.Equal(t, float64(2), body["bought"])
	assert.Equal(t, float64(17), body["cache_size"])
	assert.Equal(t, "2026-01-02T03:04:05Z", body["last_cycle"])
	assert.Equal(t, float64(1), body["live_proxies"])
	assert.Equal(t, float64(1), body["blacklisted"])
	assert.Equal(t, "", body["last_refresh"])
}

func TestStatWithoutProxyPool(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := do(s, "GET", "/stat", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "live_proxies")

	rec = do(s, "GET", "/proxies", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProxiesList(t *testing.T) {
	pool := &fakePool{live: []types.Proxy{
		{Scheme: "http", Host: "1.1.1.1", Port: 8080},
		{Scheme: "socks5", Host: "2.2.2.2", Port: 1080},
	}}
	s := newTestServer(t, nil, pool)

	rec := do(s, "GET", "/proxies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total   int      `json:"total"`
		Proxies []string `json:"proxies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, []string{"http://1.1.1.1:8080", "socks5://2.2.2.2:1080"}, body.Proxies)
}

func TestRefreshRunsInBackground(t *testing.T) {
	pool := &fakePool{}
	s := newTestServer(t, nil, pool)

	rec := do(s, "POST", "/proxies/refresh", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return pool.refreshCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBlacklist(t *testing.T) {
	pool := &fakePool{}
	s := newTestServer(t, nil, pool)

	rec := do(s, "POST", "/proxies/blacklist", `{"proxy":"http://user:pw@5.5.5.5:3128"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"5.5.5.5"}, pool.Blacklist())

	rec = do(s, "POST", "/proxies/blacklist", `{"proxy":"ftp://6.6.6.6:21"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, "POST", "/proxies/blacklist", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, pool.Blacklist(), 1)
}

func TestAPIKeyAuth(t *testing.T) {
	t.Setenv("RELISTER_TEST_KEY", "s3cret")
	cfg := config.Default()
	cfg.API.EnableAPIKeyAuth = true
	cfg.API.APIKeyEnv = "RELISTER_TEST_KEY"
	s := newTestServer(t, cfg, nil)

	assert.Equal(t, http.StatusUnauthorized, do(s, "GET", "/stat", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(s, "GET", "/stat", "", map[string]string{"X-Api-Key": "nope"}).Code)
	assert.Equal(t, http.StatusOK, do(s, "GET", "/stat", "", map[string]string{"X-Api-Key": "s3cret"}).Code)
	assert.Equal(t, http.StatusOK, do(s, "GET", "/stat?key=s3cret", "", nil).Code)

	// health stays public
	assert.Equal(t, http.StatusOK, do(s, "GET", "/health", "", nil).Code)
}

func TestRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.API.EnableIPRateLimit = true
	cfg.API.RateLimitPerMinute = 20
	s := newTestServer(t, cfg, nil)

	// burst is a tenth of the per-minute budget
	assert.Equal(t, http.StatusOK, do(s, "GET", "/stat", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(s, "GET", "/stat", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, "GET", "/stat", "", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)

	do(s, "GET", "/health", "", nil)
	rec := do(s, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `relister_api_requests_total{endpoint="/health",method="GET",status="200"} 1`)
}
