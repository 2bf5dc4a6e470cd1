package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/market-relister/internal/types"
	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
)

const (
	defaultIOTimeout  = 5 * time.Second
	tunnelReplyBuffer = 1024

	// Header block the upstream expects from its web client
	requestTemplate = "POST %s HTTP/1.1\r\n" +
		"Host: %s\r\n" +
		"Accept: */*\r\n" +
		"Accept-Language: pt-PT,pt;q=0.9,en-US;q=0.8,en;q=0.7\r\n" +
		"Connection: keep-alive\r\n" +
		"Content-type: application/x-www-form-urlencoded\r\n" +
		"Origin: https://cc-app.s3.amazonaws.com\r\n" +
		"Referer: https://cc-app.s3.amazonaws.com\r\n" +
		"Sec-Fetch-Dest: empty\r\n" +
		"Sec-Fetch-Mode: cors\r\n" +
		"Sec-Fetch-Site: cross-site\r\n" +
		"User-Agent: Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36\r\n" +
		"sec-ch-ua: \"Not)A;Brand\";v=\"99\", \"Google Chrome\";v=\"127\", \"Chromium\";v=\"127\"\r\n" +
		"sec-ch-ua-mobile: ?0\r\n" +
		"sec-ch-ua-platform: \"Windows\"\r\n" +
		"Content-Length: %d\r\n\r\n" +
		"%s"
)

// Binding is the identity one logical connection is made under
type Binding struct {
	Hostname string
	ServerIP string
	Token    string
	Port     int
	Proxy    *types.Proxy
}

// Transport opens one-shot TLS connections for a single binding.
// Nothing is pooled: every exchange dials a fresh connection.
type Transport struct {
	binding   Binding
	rootCAs   *x509.CertPool
	ioTimeout time.Duration
	dialer    *net.Dialer
}

type Option func(*Transport)

// WithRootCAs overrides the system trust store
func WithRootCAs(pool *x509.CertPool) Option {
	return func(t *Transport) { t.rootCAs = pool }
}

// WithIOTimeout bounds each dial, handshake, write and read
func WithIOTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.ioTimeout = d
		}
	}
}

func New(b Binding, opts ...Option) *Transport {
	t := &Transport{
		binding:   b,
		ioTimeout: defaultIOTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.dialer = &net.Dialer{Timeout: t.ioTimeout}
	return t
}

// Binding returns the identity this transport was built for
func (t *Transport) Binding() Binding { return t.binding }

// Token is the listing credential of the binding
func (t *Transport) Token() string { return t.binding.Token }

func (t *Transport) target() string {
	return net.JoinHostPort(t.binding.ServerIP, strconv.Itoa(t.binding.Port))
}

// Connect dials the server IP directly
func (t *Transport) Connect(ctx context.Context) (net.Conn, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", t.target())
	if err != nil {
		return nil, types.E(types.KindTransport, "connect", errors.Wrap(err, t.target()))
	}
	return conn, nil
}

// ConnectViaProxy dials the bound proxy and opens a tunnel to the server.
// http proxies get an HTTP CONNECT; socks5 proxies go through a SOCKS5 dialer.
func (t *Transport) ConnectViaProxy(ctx context.Context) (net.Conn, error) {
	p := t.binding.Proxy
	if p == nil {
		return nil, types.E(types.KindTransport, "connect via proxy", fmt.Errorf("no proxy bound"))
	}

	if p.Scheme == "socks5" {
		return t.dialSOCKS5(ctx, p)
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", p.Address())
	if err != nil {
		return nil, types.E(types.KindTransport, "connect via proxy", errors.Wrap(err, p.Address()))
	}

	if err := t.openTunnel(ctx, conn, p); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (t *Transport) openTunnel(ctx context.Context, conn net.Conn, p *types.Proxy) error {
	t.setDeadline(ctx, conn)
	defer conn.SetDeadline(time.Time{})

	target := t.target()
	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if p.Credentials != "" {
		fmt.Fprintf(&req, "Proxy-Authorization: Basic %s\r\n", p.Credentials)
	}
	req.WriteString("\r\n")

	if _, err := conn.Write([]byte(req.String())); err != nil {
		return types.E(types.KindTransport, "tunnel", errors.Wrap(err, "write CONNECT"))
	}

	buf := make([]byte, tunnelReplyBuffer)
	n, err := conn.Read(buf)
	if err != nil {
		return types.E(types.KindTransport, "tunnel", errors.Wrap(err, "read CONNECT reply"))
	}

	reply := strings.ToLower(string(buf[:n]))
	if !strings.Contains(reply, "200 connection established") {
		line, _, _ := strings.Cut(string(buf[:n]), "\r\n")
		return types.E(types.KindTransport, "tunnel", fmt.Errorf("proxy refused tunnel: %q", line))
	}
	return nil
}

func (t *Transport) dialSOCKS5(ctx context.Context, p *types.Proxy) (net.Conn, error) {
	var auth *proxy.Auth
	if p.Username != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}

	d, err := proxy.SOCKS5("tcp", p.Address(), auth, t.dialer)
	if err != nil {
		return nil, types.E(types.KindTransport, "connect via proxy", errors.Wrap(err, "socks5 dialer"))
	}

	var conn net.Conn
	if cd, ok := d.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", t.target())
	} else {
		conn, err = d.Dial("tcp", t.target())
	}
	if err != nil {
		return nil, types.E(types.KindTransport, "connect via proxy", errors.Wrap(err, p.Address()))
	}
	return conn, nil
}

// TLSConnect runs a client handshake for the bound hostname over conn
func (t *Transport) TLSConnect(ctx context.Context, conn net.Conn) (*tls.Conn, error) {
	cfg := &tls.Config{
		ServerName: t.binding.Hostname,
		RootCAs:    t.rootCAs,
		MinVersion: tls.VersionTLS12,
	}

	hctx, cancel := context.WithTimeout(ctx, t.ioTimeout)
	defer cancel()

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		conn.Close()
		return nil, types.E(types.KindTransport, "tls handshake", errors.Wrap(err, t.binding.Hostname))
	}
	return tlsConn, nil
}

// BuildRequest frames a POST with the fixed header set and a form body
func (t *Transport) BuildRequest(path string, body string) []byte {
	return []byte(fmt.Sprintf(requestTemplate, path, t.binding.Hostname, len(body), body))
}

// Exchange connects (directly or through the proxy), writes one request and
// returns whatever a single read of up to bufSize bytes yields.
// Responses larger than one read are truncated; callers detect that
// through missing sentinels.
func (t *Transport) Exchange(ctx context.Context, viaProxy bool, path string, form Form, bufSize int) (string, error) {
	var (
		raw net.Conn
		err error
	)
	if viaProxy {
		raw, err = t.ConnectViaProxy(ctx)
	} else {
		raw, err = t.Connect(ctx)
	}
	if err != nil {
		return "", err
	}

	conn, err := t.TLSConnect(ctx, raw)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	t.setDeadline(ctx, conn)

	if _, err := conn.Write(t.BuildRequest(path, form.Encode())); err != nil {
		return "", types.E(types.KindTransport, "write", errors.Wrap(err, path))
	}

	buf := make([]byte, bufSize)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return "", types.E(types.KindTransport, "read", errors.Wrap(err, path))
	}
	return string(buf[:n]), nil
}

func (t *Transport) setDeadline(ctx context.Context, conn net.Conn) {
	deadline := time.Now().Add(t.ioTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
}
