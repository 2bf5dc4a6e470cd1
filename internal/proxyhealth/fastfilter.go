package proxyhealth

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/market-relister/internal/types"
	log "github.com/sirupsen/logrus"
)

// FastConnectFilter keeps only the proxies that accept a TCP connection.
// It runs before the protocol probe to cut large candidate lists down cheaply.
// Input order is preserved.
func FastConnectFilter(ctx context.Context, proxies []types.Proxy, timeout time.Duration, concurrency int) []types.Proxy {
	if len(proxies) == 0 {
		return proxies
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	log.Infof("Starting fast TCP filter: %d proxies, concurrency=%d, timeout=%v",
		len(proxies), concurrency, timeout)
	startTime := time.Now()

	connectable := make([]bool, len(proxies))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, p := range proxies {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)

		go func(i int, addr string) {
			defer wg.Done()
			defer func() { <-sem }()
			connectable[i] = testTCPConnection(ctx, addr, timeout)
		}(i, p.Address())
	}
	wg.Wait()

	kept := make([]types.Proxy, 0, len(proxies)/5)
	for i, ok := range connectable {
		if ok {
			kept = append(kept, proxies[i])
		}
	}

	filtered := len(proxies) - len(kept)
	log.Infof("Fast filter complete: %d/%d connectable (%.1f%% filtered out) in %v",
		len(kept), len(proxies), float64(filtered)/float64(len(proxies))*100.0, time.Since(startTime))
	return kept
}

func testTCPConnection(ctx context.Context, address string, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
