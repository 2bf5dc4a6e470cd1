// Package market speaks the marketplace's private trade API.
//
// The upstream has no published schema. Responses are mined with regular
// expressions and success is decided by sentinel substrings, so any protocol
// drift should only ever require changes in this package.
package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/market-relister/internal/transport"
	"github.com/market-relister/internal/types"
	log "github.com/sirupsen/logrus"
)

const (
	PathItems  = "/api3/trade_get_items"
	PathSearch = "/api3/trade_search"
	PathBuy    = "/api3/trade_buy"
	PathSell   = "/api3/trade_sell"

	SentinelQuota       = "misuse quota"
	SentinelPrices      = "prices"
	SentinelBuySuccess  = "market_item_buy_form_success"
	SentinelSellSuccess = "market_item_sell_form_success"

	ActiveSort  = "2"
	probeBuffer = 1024
)

// Config carries the request constants and read sizes for each call
type Config struct {
	Build            string
	Fingerprint      string
	SoldSort         string
	SellDurationDays int
	ViaProxy         bool

	ActiveBuffer int
	SoldBuffer   int
	SearchBuffer int
	BuyBuffer    int
	SellBuffer   int
}

// DefaultConfig returns the values the web client currently sends
func DefaultConfig() Config {
	return Config{
		Build:            "aj.24.726.1455",
		Fingerprint:      "74d8ca5a4c539ac6d2dcc22f6591cf8f",
		SoldSort:         "5",
		SellDurationDays: 1,
		ActiveBuffer:     12 * 1024,
		SoldBuffer:       12 * 1024,
		SearchBuffer:     2 * 1024,
		BuyBuffer:        4 * 1024,
		SellBuffer:       1024,
	}
}

// Client is bound to one transport identity plus a buyer and a seller account
type Client struct {
	tr     *transport.Transport
	buyer  types.Credential
	seller types.Credential
	cfg    Config
}

func NewClient(tr *transport.Transport, buyer, seller types.Credential, cfg Config) *Client {
	return &Client{tr: tr, buyer: buyer, seller: seller, cfg: cfg}
}

func (c *Client) exchange(ctx context.Context, path string, form transport.Form, bufSize int) (string, error) {
	viaProxy := c.cfg.ViaProxy && c.tr.Binding().Proxy != nil
	return c.tr.Exchange(ctx, viaProxy, path, form, bufSize)
}

func (c *Client) listingForm(sort string) transport.Form {
	return transport.NewForm(
		"sort", sort,
		"token", c.tr.Token(),
		"fp4", c.cfg.Fingerprint,
		"build", c.cfg.Build,
	)
}

func (c *Client) fetchListings(ctx context.Context, op, sort string, bufSize int) ([]types.Item, error) {
	body, err := c.exchange(ctx, PathItems, c.listingForm(sort), bufSize)
	if err != nil {
		return nil, err
	}

	if containsSentinel(body, SentinelQuota) {
		return nil, types.E(types.KindQuota, op, fmt.Errorf("upstream reported %q", SentinelQuota))
	}
	return parseItems(body), nil
}

// FetchActive returns the listings currently for sale
func (c *Client) FetchActive(ctx context.Context) ([]types.Item, error) {
	return c.fetchListings(ctx, "fetch active", ActiveSort, c.cfg.ActiveBuffer)
}

// FetchSold returns recently sold listings
func (c *Client) FetchSold(ctx context.Context) ([]types.Item, error) {
	return c.fetchListings(ctx, "fetch sold", c.cfg.SoldSort, c.cfg.SoldBuffer)
}

// SearchHistory returns past sale prices of a template, oldest first
func (c *Client) SearchHistory(ctx context.Context, template uint32) ([]float64, error) {
	form := transport.NewForm(
		"template_id", strconv.FormatUint(uint64(template), 10),
		"seller_id", "0",
		"token", c.tr.Token(),
	)

	body, err := c.exchange(ctx, PathSearch, form, c.cfg.SearchBuffer)
	if err != nil {
		return nil, err
	}
	if !containsSentinel(body, SentinelPrices) {
		return nil, types.E(types.KindProtocol, "search history", fmt.Errorf("template %d: no price list", template))
	}
	return parsePrices(body), nil
}

// Buy purchases item with the buyer account
func (c *Client) Buy(ctx context.Context, item types.Item) error {
	start := time.Now()
	form := transport.NewForm(
		"id", strconv.FormatUint(uint64(item.ID), 10),
		"token", c.buyer.Token,
		"udid", c.buyer.UDID,
	)

	body, err := c.exchange(ctx, PathBuy, form, c.cfg.BuyBuffer)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"item_id": item.ID, "elapsed": time.Since(start)}).Debug("Buy request answered")

	if !containsSentinel(body, SentinelBuySuccess) {
		return types.E(types.KindProtocol, "buy", fmt.Errorf("item %d: no success sentinel", item.ID))
	}
	return nil
}

// Sell lists item id for price with the seller account
func (c *Client) Sell(ctx context.Context, id uint32, price uint32) error {
	start := time.Now()
	form := transport.NewForm(
		"id", strconv.FormatUint(uint64(id), 10),
		"price", strconv.FormatUint(uint64(price), 10),
		"duration_days", strconv.Itoa(c.cfg.SellDurationDays),
		"token", c.seller.Token,
		"udid", c.seller.UDID,
	)

	body, err := c.exchange(ctx, PathSell, form, c.cfg.SellBuffer)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"item_id": id, "elapsed": time.Since(start)}).Debug("Sell request answered")

	if !containsSentinel(body, SentinelSellSuccess) {
		return types.E(types.KindProtocol, "sell", fmt.Errorf("item %d: no success sentinel", id))
	}
	return nil
}

// Probe sends a real listings request through the transport's proxy and
// succeeds only when the reply's status line is 200
func Probe(ctx context.Context, tr *transport.Transport, cfg Config) error {
	form := transport.NewForm(
		"sort", ActiveSort,
		"token", tr.Token(),
		"build", cfg.Build,
	)

	body, err := tr.Exchange(ctx, true, PathItems, form, probeBuffer)
	if err != nil {
		return err
	}
	if code := statusCode(body); code != http.StatusOK {
		return types.E(types.KindProtocol, "probe", fmt.Errorf("reply status %d", code))
	}
	return nil
}
