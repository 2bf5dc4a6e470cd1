package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/market-relister/internal/api"
	"github.com/market-relister/internal/config"
	"github.com/market-relister/internal/dedup"
	"github.com/market-relister/internal/logging"
	"github.com/market-relister/internal/market"
	"github.com/market-relister/internal/metrics"
	"github.com/market-relister/internal/notify"
	"github.com/market-relister/internal/orchestrator"
	"github.com/market-relister/internal/proxyhealth"
	"github.com/market-relister/internal/rotation"
	"github.com/market-relister/internal/settings"
	"github.com/market-relister/internal/storage"
	"github.com/market-relister/internal/trade"
	"github.com/market-relister/internal/transport"
	"github.com/market-relister/internal/types"
	log "github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	configPath := os.Getenv("RELISTER_CONFIG")
	if configPath == "" {
		configPath = "config.json"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCloser := logging.Init(cfg.Logging)
	defer logCloser.Close()
	log.Infof("Starting market relister v%s", version)

	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace, nil)

	store, err := storage.NewStorage(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Inputs.SeedOnStart {
		if err := settings.Seed(ctx, store, cfg.Inputs); err != nil {
			log.Fatalf("Failed to seed store: %v", err)
		}
	}
	inputs, err := settings.LoadInputs(ctx, store)
	if err != nil {
		log.Fatalf("Failed to load inputs: %v", err)
	}
	if cfg.Market.Hostname != "" {
		inputs.Hostname = cfg.Market.Hostname
	}
	if err := inputs.Validate(); err != nil {
		log.Fatalf("Invalid inputs: %v", err)
	}
	log.Infof("Loaded %d servers, %d tokens, %d buyers, %d sellers for %s",
		len(inputs.Servers), len(inputs.Tokens), len(inputs.Buyers), len(inputs.Sellers), inputs.Hostname)

	servers := rotation.New(inputs.Servers)
	tokens := rotation.New(inputs.Tokens)

	proxies := newProxyManager(cfg, inputs.Hostname, tokens, servers, metricsCollector)
	if proxies == nil && cfg.Market.ViaProxy {
		log.Warn("market.via_proxy is set but no proxy pool or seed proxy is configured; every request will fail")
	}
	if proxies != nil && cfg.Proxy.Enabled {
		go proxies.Run(ctx, cfg.Proxy.RefreshInterval())
	}

	pools := orchestrator.Pools{
		Servers: servers,
		Tokens:  tokens,
		Buyers:  rotation.New(inputs.Buyers),
		Sellers: rotation.New(inputs.Sellers),
	}
	if proxies != nil {
		pools.Proxies = proxies
	}

	clientCfg := cfg.Market.Client()
	newClient := func(id orchestrator.Identity) orchestrator.Market {
		tr := transport.New(transport.Binding{
			Hostname: inputs.Hostname,
			ServerIP: id.Server,
			Token:    id.Token,
			Port:     cfg.Market.Port,
			Proxy:    id.Proxy,
		}, transport.WithIOTimeout(cfg.Market.IOTimeout()))
		return market.NewClient(tr, id.Buyer, id.Seller, clientCfg)
	}

	orch := orchestrator.New(orchestrator.Config{
		UnitTimeout:      cfg.Scan.UnitTimeout(),
		SoldTimeout:      cfg.Scan.SoldTimeout(),
		CycleDelay:       cfg.Scan.CycleDelay(),
		ReconcileSold:    cfg.Scan.ReconcileSold,
		HistorySource:    cfg.Trade.HistorySource,
		NotifyOnBuy:      cfg.Notify.NotifyOnBuy,
		BlacklistOnError: cfg.Scan.BlacklistOnError,
	},
		pools,
		newClient,
		trade.NewEngine(cfg.Trade.Thresholds, cfg.Trade.MarginPercent),
		dedup.New(cfg.Scan.CacheCapacity),
		store,
		orchestrator.WithNotifier(newNotifier(cfg.Notify)),
		orchestrator.WithMetrics(metricsCollector),
	)

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		orch.Run(ctx)
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		var pool api.ProxyPool
		if proxies != nil {
			pool = proxies
		}
		apiServer = api.NewServer(ctx, cfg, orch, pool, metricsCollector)
		go func() {
			if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("API server failed: %v", err)
			}
		}()
	}

	log.Info("Relister started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("API server shutdown error: %v", err)
		}
	}

	// Abandoned units may still be finishing a buy and relist
	finished := make(chan struct{})
	go func() {
		<-scanDone
		orch.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timed out with trades still in flight")
	}

	log.Info("Shutdown complete")
}

// newProxyManager returns nil when neither a proxy source nor a seed proxy is configured
func newProxyManager(cfg *config.Config, hostname string, tokens, servers *rotation.Pool[string], mc *metrics.Collector) *proxyhealth.Manager {
	var seed *types.Proxy
	if uri := os.Getenv(cfg.Proxy.SeedURIEnv); uri != "" {
		p, err := proxyhealth.ParseProxy(uri)
		if err != nil {
			log.Fatalf("Invalid proxy in $%s: %v", cfg.Proxy.SeedURIEnv, err)
		}
		seed = &p
		log.Infof("Seed proxy %s", p.String())
	}

	if !cfg.Proxy.Enabled && seed == nil {
		return nil
	}

	return proxyhealth.NewManager(proxyhealth.Config{
		SourceURL:             cfg.Proxy.SourceURL,
		ProbeTimeout:          cfg.Proxy.ProbeTimeout(),
		ProbeConcurrency:      cfg.Proxy.ProbeConcurrency,
		FastFilter:            cfg.Proxy.EnableFastFilter,
		FastFilterTimeout:     cfg.Proxy.FastFilterTimeout(),
		FastFilterConcurrency: cfg.Proxy.FastFilterConcurrency,
		FastFilterThreshold:   cfg.Proxy.FastFilterMinCandidates,
		Hostname:              hostname,
		Port:                  cfg.Market.Port,
		IOTimeout:             cfg.Market.IOTimeout(),
		Market:                cfg.Market.Client(),
		Seed:                  seed,
	}, tokens, servers, proxyhealth.WithMetrics(mc))
}

func newNotifier(cfg config.NotifyConfig) notify.Notifier {
	if !cfg.Enabled {
		return notify.Nop{}
	}
	token, chatID := os.Getenv(cfg.TokenEnv), os.Getenv(cfg.ChatIDEnv)
	if token == "" || chatID == "" {
		log.Warnf("Notifications enabled but $%s or $%s is empty, notifications disabled", cfg.TokenEnv, cfg.ChatIDEnv)
		return notify.Nop{}
	}
	return notify.NewTelegram(cfg.BaseURL, token, chatID, time.Duration(cfg.TimeoutMs)*time.Millisecond)
}
