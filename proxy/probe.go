package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	tls "github.com/refraction-networking/utls"
	xproxy "golang.org/x/net/proxy"
)

const probeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// chromeH1Spec is a Chrome ClientHello with ALPN pinned to http/1.1,
// since http.Transport cannot speak h2 over a utls conn.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// Prober tests proxy connectivity by fetching a URL through it.
type Prober struct {
	// TargetURL is fetched through the proxy; any status below 500 passes.
	TargetURL string
}

// NewProber returns a Prober fetching target.
func NewProber(target string) *Prober {
	return &Prober{TargetURL: target}
}

// Test reports whether e can reach the target within its timeout.
// It never returns an error; failures are logged and reported as false.
func (p *Prober) Test(ctx context.Context, e Entry) bool {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout())
	defer cancel()

	client, err := p.client(e)
	if err != nil {
		slog.Warn("proxy test failed", "proxy", e.URL, "error", err)
		return false
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.TargetURL, nil)
	if err != nil {
		slog.Warn("proxy test failed", "proxy", e.URL, "error", err)
		return false
	}
	req.Header.Set("User-Agent", probeUA)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("proxy test failed", "proxy", e.URL, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= http.StatusInternalServerError {
		slog.Warn("proxy test failed", "proxy", e.URL, "status", resp.StatusCode)
		return false
	}
	slog.Debug("proxy test passed", "proxy", e.URL, "status", resp.StatusCode)
	return true
}

// client builds an http.Client that egresses through e.
//
// http/https proxies use the transport's CONNECT support. socks5 proxies
// are dialed with x/net/proxy and TLS runs over utls with a Chrome hello.
func (p *Prober) client(e Entry) (*http.Client, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}

	transport := &http.Transport{
		ForceAttemptHTTP2:     false,
		TLSHandshakeTimeout:   e.Timeout(),
		ResponseHeaderTimeout: e.Timeout(),
	}

	switch u.Scheme {
	case "http", "https":
		if e.Auth != nil {
			u.User = url.UserPassword(e.Auth.Username, e.Auth.Password)
		}
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		var auth *xproxy.Auth
		if e.Auth != nil {
			auth = &xproxy.Auth{User: e.Auth.Username, Password: e.Auth.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", u.Host, auth, &net.Dialer{Timeout: e.Timeout()})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		ctxDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support contexts")
		}
		transport.DialContext = ctxDialer.DialContext
		transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := ctxDialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return handshakeChrome(ctx, conn, addr)
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	return &http.Client{Transport: transport, Timeout: e.Timeout() + time.Second}, nil
}

func handshakeChrome(ctx context.Context, conn net.Conn, addr string) (net.Conn, error) {
	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}
