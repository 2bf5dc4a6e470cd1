package types

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Item is one active or sold listing as mined from the marketplace
type Item struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	Image    string `json:"image"`
	Price    uint32 `json:"price"`
	Template uint32 `json:"template"`
}

// Proxy is a tunnel endpoint parsed from a proxy URI
type Proxy struct {
	Scheme      string `json:"scheme"` // "http" or "socks5"
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"-"`
	Credentials string `json:"-"` // base64 user:pass for Proxy-Authorization
}

// Address returns host:port of the proxy
func (p Proxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Proxy) String() string {
	return fmt.Sprintf("%s://%s", p.Scheme, p.Address())
}

// Role tags an account credential
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Credential is an account able to buy or sell
type Credential struct {
	Name  string `json:"name"`
	Token string `json:"token"`
	UDID  string `json:"udid"`
	Role  Role   `json:"role"`
}

// TradeRecord is handed to the persistence collaborator after a successful buy
type TradeRecord struct {
	ItemID    uint32    `json:"id"`
	Template  uint32    `json:"template"`
	BuyPrice  uint32    `json:"price"`
	Resale    uint32    `json:"resale"`
	Timestamp time.Time `json:"timestamp"`
}

// SoldRecord is one entry of the persisted sold-index
type SoldRecord struct {
	ItemID    uint32    `json:"id"`
	Template  uint32    `json:"template"`
	Name      string    `json:"name"`
	Price     uint32    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats holds scan statistics exposed by the status API
type Stats struct {
	Cycles        int64     `json:"cycles"`
	FailedCycles  int64     `json:"failed_cycles"`
	QuotaAborts   int64     `json:"quota_aborts"`
	ItemsSeen     int64     `json:"items_seen"`
	Bought        int64     `json:"bought"`
	Relisted      int64     `json:"relisted"`
	Abandoned     int64     `json:"abandoned"`
	LastCycleTime time.Time `json:"last_cycle_time"`
}
