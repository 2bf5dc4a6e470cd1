package orchestrator

import (
	"context"
	"fmt"

	"github.com/market-relister/internal/rotation"
	"github.com/market-relister/internal/types"
)

// Market is what one scan cycle needs from the marketplace client
type Market interface {
	FetchActive(ctx context.Context) ([]types.Item, error)
	FetchSold(ctx context.Context) ([]types.Item, error)
	SearchHistory(ctx context.Context, template uint32) ([]float64, error)
	Buy(ctx context.Context, item types.Item) error
	Sell(ctx context.Context, id uint32, price uint32) error
}

// ProxySource hands out proxies and takes back the ones that failed
type ProxySource interface {
	Next() (types.Proxy, bool)
	AddBlacklist(p types.Proxy)
}

// Identity is everything one cycle is bound to
type Identity struct {
	Server string
	Token  string
	Buyer  types.Credential
	Seller types.Credential
	Proxy  *types.Proxy
}

// ClientFactory binds a market client to an identity
type ClientFactory func(id Identity) Market

// Pools are the rotations shared with the rest of the process.
// Proxies may be nil, in which case cycles run without a proxy.
type Pools struct {
	Servers *rotation.Pool[string]
	Tokens  *rotation.Pool[string]
	Buyers  *rotation.Pool[types.Credential]
	Sellers *rotation.Pool[types.Credential]
	Proxies ProxySource
}

// Rotate draws the next identity from every pool
func (p Pools) Rotate() (Identity, error) {
	var id Identity
	var ok bool

	if id.Server, ok = p.Servers.Next(); !ok {
		return id, fmt.Errorf("server pool is empty")
	}
	if id.Token, ok = p.Tokens.Next(); !ok {
		return id, fmt.Errorf("token pool is empty")
	}
	if id.Buyer, ok = p.Buyers.Next(); !ok {
		return id, fmt.Errorf("buyer pool is empty")
	}
	if id.Seller, ok = p.Sellers.Next(); !ok {
		return id, fmt.Errorf("seller pool is empty")
	}
	if p.Proxies != nil {
		if proxy, ok := p.Proxies.Next(); ok {
			id.Proxy = &proxy
		}
	}
	return id, nil
}
