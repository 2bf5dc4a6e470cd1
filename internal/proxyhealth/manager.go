// Package proxyhealth keeps a pool of proxies that were proven to reach the
// marketplace. Candidates come from a public list and are probed with a real
// listings request; only survivors of the latest pass are served.
package proxyhealth

import (
	"context"
	"crypto/x509"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/market-relister/internal/market"
	"github.com/market-relister/internal/metrics"
	"github.com/market-relister/internal/rotation"
	"github.com/market-relister/internal/transport"
	"github.com/market-relister/internal/types"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrRefreshInProgress is returned when a refresh is requested while one runs
	ErrRefreshInProgress = errors.New("proxy refresh already in progress")
	// ErrNoProbeIdentity means the token or server pool is empty, so nothing can be probed
	ErrNoProbeIdentity = errors.New("no token or server available for probing")
)

// ProbeFunc checks a single candidate using a token and server drawn from the
// shared pools. A nil error means the proxy is usable.
type ProbeFunc func(ctx context.Context, p types.Proxy, token, server string) error

type Config struct {
	SourceURL        string
	ProbeTimeout     time.Duration
	ProbeConcurrency int

	FastFilter            bool
	FastFilterTimeout     time.Duration
	FastFilterConcurrency int
	FastFilterThreshold   int

	// Target of the default probe
	Hostname  string
	Port      int
	IOTimeout time.Duration
	Market    market.Config
	// RootCAs overrides the system trust store for probe handshakes
	RootCAs *x509.CertPool

	// Seed is served when the live pool is empty
	Seed *types.Proxy
}

type Manager struct {
	cfg     Config
	tokens  *rotation.Pool[string]
	servers *rotation.Pool[string]
	http    *resty.Client
	probe   ProbeFunc
	metrics *metrics.Collector

	live      atomic.Pointer[rotation.Pool[types.Proxy]]
	refreshMu sync.Mutex
	lastPass  atomic.Int64

	mu        sync.RWMutex
	blacklist map[string]struct{}
}

type Option func(*Manager)

func WithProbe(fn ProbeFunc) Option {
	return func(m *Manager) { m.probe = fn }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

func WithHTTPClient(c *resty.Client) Option {
	return func(m *Manager) { m.http = c }
}

// NewManager builds a manager with an empty live pool. tokens and servers are
// the same pools the scan loop rotates through.
func NewManager(cfg Config, tokens, servers *rotation.Pool[string], opts ...Option) *Manager {
	if cfg.SourceURL == "" {
		cfg.SourceURL = DefaultSourceURL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = 256
	}
	if cfg.Port == 0 {
		cfg.Port = 443
	}

	m := &Manager{
		cfg:       cfg,
		tokens:    tokens,
		servers:   servers,
		http:      newSourceClient(),
		blacklist: make(map[string]struct{}),
	}
	m.probe = m.marketProbe
	for _, opt := range opts {
		opt(m)
	}
	m.live.Store(rotation.New[types.Proxy](nil))
	return m
}

// marketProbe tunnels a listings request through the candidate
func (m *Manager) marketProbe(ctx context.Context, p types.Proxy, token, server string) error {
	tr := transport.New(transport.Binding{
		Hostname: m.cfg.Hostname,
		ServerIP: server,
		Token:    token,
		Port:     m.cfg.Port,
		Proxy:    &p,
	}, transport.WithIOTimeout(m.cfg.IOTimeout), transport.WithRootCAs(m.cfg.RootCAs))
	return market.Probe(ctx, tr, m.cfg.Market)
}

// Refresh runs one full pass: download, optional TCP pre-filter, probe, swap.
// When the list cannot be fetched the previous pool stays in place.
func (m *Manager) Refresh(ctx context.Context) (int, error) {
	if !m.refreshMu.TryLock() {
		return 0, ErrRefreshInProgress
	}
	defer m.refreshMu.Unlock()

	if m.tokens.Len() == 0 || m.servers.Len() == 0 {
		log.Errorf("Proxy refresh skipped, keeping %d live proxies: %v", m.live.Load().Len(), ErrNoProbeIdentity)
		return 0, ErrNoProbeIdentity
	}

	start := time.Now()
	log.Info("Starting proxy refresh")

	candidates, err := m.fetchCandidates(ctx)
	if err != nil {
		log.Errorf("Proxy list fetch failed, keeping %d live proxies: %v", m.live.Load().Len(), err)
		return 0, err
	}

	if m.cfg.FastFilter && len(candidates) > m.cfg.FastFilterThreshold {
		candidates = FastConnectFilter(ctx, candidates, m.cfg.FastFilterTimeout, m.cfg.FastFilterConcurrency)
	}

	survivors := m.probeAll(ctx, candidates)
	if err := ctx.Err(); err != nil {
		log.Warnf("Proxy refresh interrupted, keeping previous pool: %v", err)
		return 0, err
	}

	m.live.Store(rotation.New(survivors))
	m.lastPass.Store(time.Now().UnixNano())
	m.metrics.SetLiveProxies(len(survivors))

	log.Infof("Proxy refresh complete: %d/%d live in %v", len(survivors), len(candidates), time.Since(start))
	return len(survivors), nil
}

func (m *Manager) probeAll(ctx context.Context, candidates []types.Proxy) []types.Proxy {
	alive := make([]bool, len(candidates))
	sem := make(chan struct{}, m.cfg.ProbeConcurrency)
	var wg sync.WaitGroup

	for i, p := range candidates {
		if ctx.Err() != nil {
			break
		}
		token, okT := m.tokens.Next()
		server, okS := m.servers.Next()
		if !okT || !okS {
			log.Warn("No token or server available for probing")
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, p types.Proxy) {
			defer wg.Done()
			defer func() { <-sem }()

			probeStart := time.Now()
			if err := m.probeWithTimeout(ctx, p, token, server); err != nil {
				m.metrics.RecordProbeFailure()
				log.WithField("proxy", p.String()).Debugf("Probe failed: %v", err)
				return
			}
			m.metrics.RecordProbeSuccess(time.Since(probeStart).Seconds())
			alive[i] = true
		}(i, p)
	}
	wg.Wait()

	survivors := make([]types.Proxy, 0)
	for i, ok := range alive {
		if ok {
			survivors = append(survivors, candidates[i])
		}
	}
	return survivors
}

// probeWithTimeout gives up on a probe at the deadline even if the probe
// itself does not return
func (m *Manager) probeWithTimeout(ctx context.Context, p types.Proxy, token, server string) error {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.probe(pctx, p, token, server) }()

	select {
	case err := <-done:
		if err == nil && pctx.Err() != nil {
			return pctx.Err()
		}
		return err
	case <-pctx.Done():
		return pctx.Err()
	}
}

// Next returns the next live proxy whose host is not blacklisted. When every
// live proxy is blacklisted it returns the next one anyway. With an empty pool
// the seed proxy is returned if configured.
func (m *Manager) Next() (types.Proxy, bool) {
	pool := m.live.Load()
	n := pool.Len()
	if n == 0 {
		if m.cfg.Seed != nil {
			return *m.cfg.Seed, true
		}
		return types.Proxy{}, false
	}

	for i := 0; i < n; i++ {
		p, ok := pool.Next()
		if !ok {
			break
		}
		if !m.IsBlacklisted(p.Host) {
			return p, true
		}
	}
	return pool.Next()
}

// AddBlacklist excludes the proxy's host from Next immediately
func (m *Manager) AddBlacklist(p types.Proxy) {
	m.mu.Lock()
	m.blacklist[p.Host] = struct{}{}
	n := len(m.blacklist)
	m.mu.Unlock()

	m.metrics.SetBlacklisted(n)
	log.WithField("proxy", p.String()).Warn("Proxy blacklisted")
}

func (m *Manager) IsBlacklisted(host string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blacklist[host]
	return ok
}

// Blacklist returns the blacklisted hosts in sorted order
func (m *Manager) Blacklist() []string {
	m.mu.RLock()
	hosts := make([]string, 0, len(m.blacklist))
	for h := range m.blacklist {
		hosts = append(hosts, h)
	}
	m.mu.RUnlock()

	sort.Strings(hosts)
	return hosts
}

// Live returns the proxies that passed the latest refresh
func (m *Manager) Live() []types.Proxy {
	return m.live.Load().Items()
}

// LastRefresh is the completion time of the latest successful pass
func (m *Manager) LastRefresh() time.Time {
	ns := m.lastPass.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run refreshes immediately and then on every interval until ctx is done
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	m.runRefresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Proxy refresh loop stopped")
			return
		case <-ticker.C:
			m.runRefresh(ctx)
		}
	}
}

func (m *Manager) runRefresh(ctx context.Context) {
	if _, err := m.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
		log.Errorf("Proxy refresh failed: %v", err)
	}
}
