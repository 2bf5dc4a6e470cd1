package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/market-relister/internal/notify"
	"github.com/market-relister/internal/storage"
	"github.com/market-relister/internal/types"
	log "github.com/sirupsen/logrus"
)

// Outcome is how a verification unit ended
type Outcome string

const (
	OutcomeCached       Outcome = "cached"
	OutcomeThinHistory  Outcome = "thin_history"
	OutcomeHistoryError Outcome = "history_failed"
	OutcomeRejected     Outcome = "rejected"
	OutcomeExpired      Outcome = "expired"
	OutcomeBuyFailed    Outcome = "buy_failed"
	OutcomePersistError Outcome = "persist_failed"
	OutcomeSellFailed   Outcome = "sell_failed"
	OutcomeRelisted     Outcome = "relisted"
	OutcomeAbandoned    Outcome = "abandoned"
)

// runUnit verifies one item under the unit timeout. The join gives up at the
// deadline; the unit itself keeps running and finishes any trade it started.
// The unit metric always carries the final outcome, abandoned or not.
func (o *Orchestrator) runUnit(ctx context.Context, client Market, item types.Item, cycleLog *log.Entry) Outcome {
	uctx, cancel := context.WithTimeout(ctx, o.cfg.UnitTimeout)
	logger := cycleLog.WithFields(log.Fields{"item_id": item.ID, "template": item.Template})

	done := make(chan Outcome, 1)
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		defer cancel()
		out := o.verify(uctx, client, item, logger)
		o.metrics.RecordUnit(string(out))
		done <- out
	}()

	select {
	case out := <-done:
		return out
	case <-uctx.Done():
		select {
		case out := <-done:
			return out
		default:
		}
		o.abandoned.Add(1)
		o.metrics.RecordUnitAbandoned()
		logger.Warn("Unit abandoned at deadline; an in-flight buy may still complete without a confirmed sell")
		return OutcomeAbandoned
	}
}

func (o *Orchestrator) verify(ctx context.Context, client Market, item types.Item, logger *log.Entry) Outcome {
	start := time.Now()
	id := strconv.FormatUint(uint64(item.ID), 10)

	if o.cache.Contains(id) {
		return OutcomeCached
	}

	history, err := o.history(ctx, client, item.Template)
	if err != nil {
		logger.Debugf("Price history unavailable: %v", err)
		return OutcomeHistoryError
	}
	if len(history) < o.engine.Thresholds().MinSamples {
		logger.Debugf("History too thin: %d samples", len(history))
		return OutcomeThinHistory
	}

	ev := o.engine.Evaluate(history, item.Price)
	if !ev.Qualified {
		o.cache.Insert(id)
		logger.Debugf("Item skipped: %v", ev.Err())
		return OutcomeRejected
	}

	// Nothing has been spent yet, so a late unit simply stops here
	if ctx.Err() != nil {
		logger.Warnf("Qualified after deadline, buy skipped (took %v)", time.Since(start))
		return OutcomeExpired
	}

	// From the buy on, the chain must not be cut halfway by the unit timeout
	trading := context.WithoutCancel(ctx)

	buyStart := time.Now()
	err = client.Buy(trading, item)
	o.metrics.RecordTradeDuration("buy", time.Since(buyStart).Seconds())
	if err != nil {
		logger.Errorf("Buy failed: %v", err)
		return OutcomeBuyFailed
	}

	// Our own relisting must never qualify for a buy again
	o.cache.Insert(id)
	o.bought.Add(1)
	logger.WithFields(log.Fields{"price": item.Price, "resale": ev.Resale}).Infof("Bought item in %v", time.Since(start))

	if o.cfg.NotifyOnBuy {
		o.announce(func(ctx context.Context) error {
			return o.notifier.SendImage(ctx, item.Image, notify.BuyCaption(item))
		}, logger)
	}

	rec := types.TradeRecord{
		ItemID:    item.ID,
		Template:  item.Template,
		BuyPrice:  item.Price,
		Resale:    ev.Resale,
		Timestamp: time.Now().UTC(),
	}
	if err := o.persist(trading, rec); err != nil {
		logger.Errorf("Trade record not stored, item left unlisted: %v", err)
		return OutcomePersistError
	}

	sellStart := time.Now()
	err = client.Sell(trading, item.ID, ev.Resale)
	o.metrics.RecordTradeDuration("sell", time.Since(sellStart).Seconds())
	if err != nil {
		logger.Errorf("Sell failed, item %d bought but not relisted: %v", item.ID, err)
		return OutcomeSellFailed
	}

	o.relisted.Add(1)
	logger.WithField("resale", ev.Resale).Infof("Relisted item in %v", time.Since(start))
	return OutcomeRelisted
}

// history returns the template's past prices from the configured source
func (o *Orchestrator) history(ctx context.Context, client Market, template uint32) ([]float64, error) {
	if o.cfg.HistorySource != HistoryIndex {
		return client.SearchHistory(ctx, template)
	}

	docs, err := o.store.Read(ctx, storage.CollectionSold, storage.Document{"template": template})
	if err != nil {
		return nil, types.E(types.KindPersistence, "read sold index", err)
	}
	prices := make([]float64, 0, len(docs))
	for _, doc := range docs {
		if p, ok := doc["price"].(float64); ok {
			prices = append(prices, p)
		}
	}
	return prices, nil
}

func (o *Orchestrator) persist(ctx context.Context, rec types.TradeRecord) error {
	doc, err := storage.NewDocument(rec)
	if err != nil {
		return types.E(types.KindPersistence, "encode trade", err)
	}
	if err := o.store.Create(ctx, storage.CollectionTrades, doc); err != nil {
		return types.E(types.KindPersistence, "store trade", err)
	}
	return nil
}
