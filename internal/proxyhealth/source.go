package proxyhealth

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/market-relister/internal/types"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultSourceURL is the public list the candidates are downloaded from
	DefaultSourceURL = "https://api.proxyscrape.com/v3/free-proxy-list/get?request=displayproxies&protocol=http&proxy_format=protocolipport&format=text&timeout=20000"

	maxListBytes = 10 * 1024 * 1024
)

func newSourceClient() *resty.Client {
	return resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "text/plain, */*")
}

// fetchCandidates downloads and parses the candidate list
func (m *Manager) fetchCandidates(ctx context.Context) ([]types.Proxy, error) {
	start := time.Now()

	resp, err := m.http.R().SetContext(ctx).Get(m.cfg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode())
	}

	body := resp.Body()
	if len(body) > maxListBytes {
		body = body[:maxListBytes]
	}

	proxies, err := parseList(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	log.Infof("Source %s returned %d proxies (took %v)", m.cfg.SourceURL, len(proxies), time.Since(start))
	m.metrics.RecordCandidatesFetched(m.cfg.SourceURL, len(proxies))
	return proxies, nil
}
