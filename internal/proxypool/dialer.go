package proxypool

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// NewHTTPClient builds a plain (non-browser-fingerprinted) *http.Client that
// dials through p, or through the system default transport if p is nil.
// Used by the OAuthDriver and the health probes, which talk stateless JSON
// over HTTPS and don't need Chrome TLS impersonation (that's reserved for
// the Web driver via internal/httpclient).
//
// httpclient only ever wires proxies through req/v3's SetProxyURL and
// never builds a raw net.Conn dialer, so SOCKS5 support is new
// construction (see DESIGN.md).
func NewHTTPClient(p *Proxy, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		ForceAttemptHTTP2: true,
	}
	if p != nil {
		transport.DialContext = dialVia(p)
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func dialVia(p *Proxy) func(ctx context.Context, network, addr string) (net.Conn, error) {
	switch p.Protocol {
	case ProtocolSOCKS5, ProtocolSOCKS5H:
		return socks5Dial(p)
	default:
		return httpConnectDial(p)
	}
}

func socks5Dial(p *Proxy) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		proxyAddr := fmt.Sprintf("%s:%d", p.Host, p.Port)
		var auth *proxy.Auth
		if p.User != "" {
			auth = &proxy.Auth{User: p.User, Password: p.Pass}
		}
		dialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		conn, err := dialer.Dial(network, addr)
		if err != nil {
			return nil, fmt.Errorf("socks5 dial: %w", err)
		}
		return conn, nil
	}
}

func httpConnectDial(p *Proxy) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		proxyAddr := fmt.Sprintf("%s:%d", p.Host, p.Port)
		d := &net.Dialer{}
		rawConn, err := d.DialContext(ctx, "tcp", proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("proxy tcp dial: %w", err)
		}

		connectReq := &http.Request{
			Method: http.MethodConnect,
			URL:    nil,
			Host:   addr,
			Header: make(http.Header),
		}
		if p.User != "" {
			cred := base64.StdEncoding.EncodeToString([]byte(p.User + ":" + p.Pass))
			connectReq.Header.Set("Proxy-Authorization", "Basic "+cred)
		}
		if err := connectReq.Write(rawConn); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("proxy CONNECT write: %w", err)
		}
		resp, err := http.ReadResponse(bufio.NewReader(rawConn), connectReq)
		if err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("proxy CONNECT read: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			rawConn.Close()
			return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
		}

		if p.Protocol == ProtocolHTTPS {
			host, _, splitErr := net.SplitHostPort(addr)
			if splitErr != nil {
				host = addr
			}
			tlsConn := tls.Client(rawConn, &tls.Config{ServerName: host})
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				rawConn.Close()
				return nil, fmt.Errorf("proxy tls handshake: %w", err)
			}
			return tlsConn, nil
		}
		return rawConn, nil
	}
}
