// Package orchestrator drives scan cycles: rotate an identity, fetch the
// active listings, refresh the sold index, then verify every listing in its
// own time-boxed unit that may end in buy, persist and relist.
package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/market-relister/internal/dedup"
	"github.com/market-relister/internal/metrics"
	"github.com/market-relister/internal/notify"
	"github.com/market-relister/internal/storage"
	"github.com/market-relister/internal/trade"
	"github.com/market-relister/internal/types"
	log "github.com/sirupsen/logrus"
)

const (
	HistorySearch = "search"
	HistoryIndex  = "index"
)

type Config struct {
	UnitTimeout time.Duration
	SoldTimeout time.Duration
	CycleDelay  time.Duration

	ReconcileSold bool
	HistorySource string
	NotifyOnBuy   bool

	// BlacklistOnError drops the cycle's proxy after a transport failure on fetch
	BlacklistOnError bool
}

type Orchestrator struct {
	cfg       Config
	pools     Pools
	newClient ClientFactory
	engine    *trade.Engine
	cache     *dedup.Cache
	store     storage.Store
	notifier  notify.Notifier
	metrics   *metrics.Collector

	// pending tracks unit goroutines, including abandoned ones
	pending sync.WaitGroup

	cycles       atomic.Int64
	failedCycles atomic.Int64
	quotaAborts  atomic.Int64
	itemsSeen    atomic.Int64
	bought       atomic.Int64
	relisted     atomic.Int64
	abandoned    atomic.Int64
	lastCycle    atomic.Int64
}

type Option func(*Orchestrator)

func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

func New(cfg Config, pools Pools, newClient ClientFactory, engine *trade.Engine, cache *dedup.Cache, store storage.Store, opts ...Option) *Orchestrator {
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = 5 * time.Second
	}
	if cfg.SoldTimeout <= 0 {
		cfg.SoldTimeout = 5 * time.Second
	}
	if cfg.HistorySource == "" {
		cfg.HistorySource = HistorySearch
	}

	o := &Orchestrator{
		cfg:       cfg,
		pools:     pools,
		newClient: newClient,
		engine:    engine,
		cache:     cache,
		store:     store,
		notifier:  notify.Nop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CycleReport summarises one scan cycle
type CycleReport struct {
	ID        string
	Items     int
	NewSold   int
	Outcomes  map[Outcome]int
	Abandoned int
	Duration  time.Duration
}

// Run executes cycles back to back with the configured delay until ctx is done
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		if _, err := o.RunCycle(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("Scan cycle failed: %v", err)
		}

		select {
		case <-ctx.Done():
			log.Info("Scan loop stopped")
			return
		case <-time.After(o.cfg.CycleDelay):
		}
	}
}

// RunCycle performs one scan. A quota error from the listing fetch aborts the
// cycle before any unit starts. Unit failures never fail the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := time.Now()
	report := &CycleReport{ID: uuid.NewString(), Outcomes: make(map[Outcome]int)}
	logger := log.WithField("cycle_id", report.ID)

	o.cycles.Add(1)
	defer func() {
		report.Duration = time.Since(start)
		o.lastCycle.Store(time.Now().UnixNano())
	}()

	ident, err := o.pools.Rotate()
	if err != nil {
		o.failCycle("failed", start)
		return report, err
	}
	logger = logger.WithFields(log.Fields{"server": ident.Server, "proxy": proxyLabel(ident.Proxy)})
	client := o.newClient(ident)

	items, err := client.FetchActive(ctx)
	if err != nil {
		if types.IsKind(err, types.KindQuota) {
			o.quotaAborts.Add(1)
			o.failCycle("quota", start)
			logger.Warnf("Listing fetch hit the quota, cycle aborted: %v", err)
		} else {
			o.failCycle("failed", start)
			logger.Errorf("Listing fetch failed: %v", err)
		}
		if ident.Proxy != nil && o.cfg.BlacklistOnError && o.pools.Proxies != nil &&
			(types.IsKind(err, types.KindTransport) || types.IsKind(err, types.KindQuota)) {
			o.pools.Proxies.AddBlacklist(*ident.Proxy)
		}
		return report, err
	}

	items = uniqueItems(items)
	report.Items = len(items)
	o.itemsSeen.Add(int64(len(items)))
	o.metrics.RecordItemsSeen(len(items))
	logger.Infof("Found %d items in %v", len(items), time.Since(start))

	if o.cfg.ReconcileSold {
		report.NewSold = o.reconcileSold(ctx, client, logger)
	}

	outcomes := make([]Outcome, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item types.Item) {
			defer wg.Done()
			outcomes[i] = o.runUnit(ctx, client, item, logger)
		}(i, item)
	}
	wg.Wait()

	for _, out := range outcomes {
		report.Outcomes[out]++
	}
	report.Abandoned = report.Outcomes[OutcomeAbandoned]

	o.metrics.RecordCycle("ok", time.Since(start).Seconds())
	logger.WithField("outcomes", report.Outcomes).Infof("Cycle complete in %v", time.Since(start))
	return report, nil
}

func (o *Orchestrator) failCycle(result string, start time.Time) {
	o.failedCycles.Add(1)
	o.metrics.RecordCycle(result, time.Since(start).Seconds())
}

// reconcileSold records sold listings not yet in the index and announces them
func (o *Orchestrator) reconcileSold(ctx context.Context, client Market, logger *log.Entry) int {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SoldTimeout)
	defer cancel()

	sold, err := client.FetchSold(sctx)
	if err != nil {
		logger.Warnf("Sold feed unavailable: %v", err)
		return 0
	}

	known, err := o.store.Read(sctx, storage.CollectionSold, nil)
	if err != nil {
		logger.Warnf("Sold index unreadable: %v", err)
		return 0
	}
	seen := make(map[string]struct{}, len(known))
	for _, doc := range known {
		if id, ok := doc["id"]; ok {
			seen[docKey(id)] = struct{}{}
		}
	}

	added := 0
	for _, item := range sold {
		key := strconv.FormatUint(uint64(item.ID), 10)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		rec := types.SoldRecord{
			ItemID:    item.ID,
			Template:  item.Template,
			Name:      item.Name,
			Price:     item.Price,
			Timestamp: time.Now().UTC(),
		}
		doc, err := storage.NewDocument(rec)
		if err != nil {
			logger.Errorf("Encode sold record %d: %v", item.ID, err)
			continue
		}
		if err := o.store.Create(sctx, storage.CollectionSold, doc); err != nil {
			logger.Errorf("Persist sold record %d: %v", item.ID, err)
			return added
		}
		added++
		o.announce(func(ctx context.Context) error {
			if item.Image == "" {
				return o.notifier.SendText(ctx, notify.SoldCaption(rec))
			}
			return o.notifier.SendImage(ctx, item.Image, notify.SoldCaption(rec))
		}, logger)
	}

	if added > 0 {
		logger.Infof("Recorded %d new sold items", added)
	}
	return added
}

// announce delivers a notification off the unit's critical path
func (o *Orchestrator) announce(send func(ctx context.Context) error, logger *log.Entry) {
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := send(ctx); err != nil {
			logger.Warnf("Notification failed: %v", err)
		}
	}()
}

// Wait blocks until abandoned units and pending notifications have finished
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// Stats returns counters for the status API
func (o *Orchestrator) Stats() types.Stats {
	s := types.Stats{
		Cycles:       o.cycles.Load(),
		FailedCycles: o.failedCycles.Load(),
		QuotaAborts:  o.quotaAborts.Load(),
		ItemsSeen:    o.itemsSeen.Load(),
		Bought:       o.bought.Load(),
		Relisted:     o.relisted.Load(),
		Abandoned:    o.abandoned.Load(),
	}
	if ns := o.lastCycle.Load(); ns != 0 {
		s.LastCycleTime = time.Unix(0, ns)
	}
	return s
}

// CacheSize is the number of item ids currently suppressed
func (o *Orchestrator) CacheSize() int {
	return o.cache.Len()
}

func uniqueItems(items []types.Item) []types.Item {
	seen := make(map[uint32]struct{}, len(items))
	out := make([]types.Item, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}

func proxyLabel(p *types.Proxy) string {
	if p == nil {
		return "direct"
	}
	return p.String()
}

func docKey(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	}
	return ""
}
