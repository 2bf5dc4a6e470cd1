package proxyhealth

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/market-relister/internal/types"
)

const defaultProxyPort = 8080

// ParseProxy turns a proxy URI into a Proxy. A bare host:port is taken as http.
// user:pass in the URI becomes base64 tunnel credentials.
func ParseProxy(uri string) (types.Proxy, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return types.Proxy{}, fmt.Errorf("empty proxy uri")
	}
	if !strings.Contains(uri, "://") {
		uri = "http://" + uri
	}

	u, err := url.Parse(uri)
	if err != nil {
		return types.Proxy{}, fmt.Errorf("parse proxy uri: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https":
		scheme = "http"
	case "socks5", "socks5h":
		scheme = "socks5"
	default:
		return types.Proxy{}, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return types.Proxy{}, fmt.Errorf("proxy uri %q has no host", uri)
	}

	port := defaultProxyPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return types.Proxy{}, fmt.Errorf("invalid proxy port %q", p)
		}
	}

	proxy := types.Proxy{Scheme: scheme, Host: host, Port: port}
	if u.User != nil {
		proxy.Username = u.User.Username()
		proxy.Password, _ = u.User.Password()
		proxy.Credentials = base64.StdEncoding.EncodeToString([]byte(proxy.Username + ":" + proxy.Password))
	}
	return proxy, nil
}

// parseList reads one proxy URI per line, skipping blanks, comments and
// unparseable entries, and drops duplicates
func parseList(r io.Reader) ([]types.Proxy, error) {
	proxies := make([]types.Proxy, 0)
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p, err := ParseProxy(line)
		if err != nil {
			continue
		}

		key := p.Scheme + "|" + strings.ToLower(p.Address())
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		proxies = append(proxies, p)
	}

	if err := scanner.Err(); err != nil {
		return proxies, fmt.Errorf("scan: %w", err)
	}
	return proxies, nil
}
