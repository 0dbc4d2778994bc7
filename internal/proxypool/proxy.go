// Package proxypool implements the Proxy Pool: egress proxy
// selection by configurable rotation strategy, with per-proxy cooldowns
// checked on read.
package proxypool

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Protocol enumerates the proxy schemes the names.
type Protocol string

const (
	ProtocolHTTP    Protocol = "http"
	ProtocolHTTPS   Protocol = "https"
	ProtocolSOCKS5  Protocol = "socks5"
	ProtocolSOCKS5H Protocol = "socks5h"
)

// Proxy is one pool entry; identity = protocol://host:port.
type Proxy struct {
	Protocol Protocol
	Host     string
	Port     int
	User     string
	Pass     string

	mu            sync.Mutex
	cooldownUntil time.Time
}

// Key is the proxy's identity string.
func (p *Proxy) Key() string {
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)
}

// URL renders the full dialable URL, including credentials.
func (p *Proxy) URL() string {
	if p.User == "" {
		return p.Key()
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d", p.Protocol, url.QueryEscape(p.User), url.QueryEscape(p.Pass), p.Host, p.Port)
}

// Redacted renders the proxy for user-visible output with credentials
// hidden, as scheme://[auth]@host:port.
func (p *Proxy) Redacted() string {
	if p.User == "" {
		return p.Key()
	}
	return fmt.Sprintf("%s://[auth]@%s:%d", p.Protocol, p.Host, p.Port)
}

// Available reports isAvailable and clears an elapsed cooldown as a
// side effect of the read.
func (p *Proxy) Available(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cooldownUntil.IsZero() {
		return true
	}
	if now.Before(p.cooldownUntil) {
		return false
	}
	p.cooldownUntil = time.Time{}
	return true
}

func (p *Proxy) setCooldown(until time.Time) {
	p.mu.Lock()
	p.cooldownUntil = until
	p.mu.Unlock()
}

func (p *Proxy) cooldown(now time.Time) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cooldownUntil.IsZero() || !now.Before(p.cooldownUntil) {
		return time.Time{}, false
	}
	return p.cooldownUntil, true
}

// ParseLine parses one line of proxies.txt. Accepted forms:
//
//	scheme://[user:pass@]host:port
//	host:port                       (default http)
//	host:port:user:pass
//	user:pass:host:port
//
// The last two are disambiguated by which colon-separated segment looks
// like a port (all-digit, 1-65535).
func ParseLine(line string) (*Proxy, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}

	if strings.Contains(line, "://") {
		return parseSchemeURL(line)
	}

	parts := strings.Split(line, ":")
	switch len(parts) {
	case 2:
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("proxy line %q: invalid port", line)
		}
		return &Proxy{Protocol: ProtocolHTTP, Host: parts[0], Port: port}, nil
	case 4:
		if isPort(parts[1]) {
			// host:port:user:pass
			port, _ := strconv.Atoi(parts[1])
			return &Proxy{Protocol: ProtocolHTTP, Host: parts[0], Port: port, User: parts[2], Pass: parts[3]}, nil
		}
		if isPort(parts[3]) {
			// user:pass:host:port
			port, _ := strconv.Atoi(parts[3])
			return &Proxy{Protocol: ProtocolHTTP, Host: parts[2], Port: port, User: parts[0], Pass: parts[1]}, nil
		}
		return nil, fmt.Errorf("proxy line %q: cannot locate port segment", line)
	default:
		return nil, fmt.Errorf("proxy line %q: unrecognized format", line)
	}
}

func isPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0 && n <= 65535
}

func parseSchemeURL(line string) (*Proxy, error) {
	u, err := url.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("proxy line %q: %w", line, err)
	}
	proto := Protocol(strings.ToLower(u.Scheme))
	switch proto {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolSOCKS5, ProtocolSOCKS5H:
	default:
		return nil, fmt.Errorf("proxy line %q: unsupported scheme %q", line, u.Scheme)
	}
	host := u.Hostname()
	portStr := u.Port()
	if portStr == "" {
		return nil, fmt.Errorf("proxy line %q: missing port", line)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("proxy line %q: invalid port", line)
	}
	p := &Proxy{Protocol: proto, Host: host, Port: port}
	if u.User != nil {
		p.User = u.User.Username()
		p.Pass, _ = u.User.Password()
	}
	return p, nil
}

// ParseList parses every non-blank, non-comment line of proxies.txt.
func ParseList(text string) ([]*Proxy, error) {
	var out []*Proxy
	for _, line := range strings.Split(text, "\n") {
		p, err := ParseLine(line)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}
