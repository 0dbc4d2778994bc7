package proxypool

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"claude-relay/internal/relayerr"
)

// Mode mirrors ProxySettings.Mode.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeFixed    Mode = "fixed"
	ModeDynamic  Mode = "dynamic"
)

// Strategy mirrors ProxySettings.RotationStrategy.
type Strategy string

const (
	StrategySequential     Strategy = "sequential"
	StrategyRandom         Strategy = "random"
	StrategyRandomNoRepeat Strategy = "random_no_repeat"
	StrategyPerAccount     Strategy = "per_account"
)

// FailureCause is the cause argument to reportFailure.
type FailureCause string

const (
	CauseTransport FailureCause = "transport"
	CauseHTTP403   FailureCause = "http403"
)

// Settings is the subset of config.ProxySettings the pool consumes,
// decoupled from the config package to keep this package import-free of
// viper.
type Settings struct {
	Mode             Mode
	FixedURL         string
	RotationStrategy Strategy
	RotationInterval time.Duration
	CooldownDuration time.Duration
	FallbackStrategy Strategy
}

// Status is the response shape for status().
type Status struct {
	Mode             Mode     `json:"mode"`
	Total            int      `json:"total"`
	Available        int      `json:"available"`
	CurrentReference string   `json:"current_reference,omitempty"`
	Strategy         Strategy `json:"strategy"`
}

// Pool is the Proxy Pool: the rotation strategy cursor and per-proxy
// cooldownUntil are updated under a dedicated lock.
type Pool struct {
	mu       sync.Mutex
	settings Settings
	proxies  []*Proxy
	fixed    *Proxy

	cursor  int      // sequential: index of "current"
	perm    []int    // random_no_repeat: shuffled permutation
	permIdx int

	stopTicker chan struct{}
	rng        *rand.Rand
}

// New builds a Pool from settings and the raw proxies.txt content.
func New(settings Settings, proxiesText string) (*Pool, error) {
	p := &Pool{settings: settings, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if settings.Mode == ModeFixed && settings.FixedURL != "" {
		fx, err := ParseLine(settings.FixedURL)
		if err != nil {
			return nil, err
		}
		p.fixed = fx
	}
	if settings.Mode == ModeDynamic {
		proxies, err := ParseList(proxiesText)
		if err != nil {
			return nil, err
		}
		p.proxies = proxies
	}
	p.reshuffle()
	if settings.Mode == ModeDynamic && settings.RotationStrategy == StrategySequential && settings.RotationInterval > 0 {
		p.startTicker()
	}
	return p, nil
}

func (p *Pool) startTicker() {
	p.stopTicker = make(chan struct{})
	ticker := time.NewTicker(p.settings.RotationInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.mu.Lock()
				if len(p.proxies) > 0 {
					p.cursor = (p.cursor + 1) % len(p.proxies)
				}
				p.mu.Unlock()
			case <-p.stopTicker:
				return
			}
		}
	}()
}

// Close stops the background rotation ticker, if any.
func (p *Pool) Close() {
	if p.stopTicker != nil {
		close(p.stopTicker)
	}
}

// GetProxy implements getProxy(accountId?).
func (p *Pool) GetProxy(accountID string) (*Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.settings.Mode {
	case ModeDisabled, "":
		return nil, nil
	case ModeFixed:
		if p.fixed == nil {
			return nil, nil
		}
		return p.fixed, nil
	}

	if len(p.proxies) == 0 {
		return nil, relayerr.New(relayerr.KindAllProxiesUnavailable, "proxy pool is empty")
	}

	now := time.Now()
	switch p.settings.RotationStrategy {
	case StrategyRandom:
		return p.pickRandomLocked(now)
	case StrategyRandomNoRepeat:
		return p.pickNoRepeatLocked(now)
	case StrategyPerAccount:
		return p.pickPerAccountLocked(accountID, now)
	default: // sequential
		return p.pickSequentialLocked(now)
	}
}

func (p *Pool) pickSequentialLocked(now time.Time) (*Proxy, error) {
	n := len(p.proxies)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if p.proxies[idx].Available(now) {
			return p.proxies[idx], nil
		}
	}
	return nil, relayerr.New(relayerr.KindAllProxiesUnavailable, "all proxies cooling down")
}

func (p *Pool) pickRandomLocked(now time.Time) (*Proxy, error) {
	healthy := p.healthyLocked(now)
	if len(healthy) == 0 {
		return nil, relayerr.New(relayerr.KindAllProxiesUnavailable, "all proxies cooling down")
	}
	return healthy[p.rng.Intn(len(healthy))], nil
}

func (p *Pool) reshuffle() {
	p.perm = p.rng.Perm(len(p.proxies))
	p.permIdx = 0
}

func (p *Pool) pickNoRepeatLocked(now time.Time) (*Proxy, error) {
	n := len(p.proxies)
	if len(p.perm) != n {
		p.reshuffle()
	}
	for tries := 0; tries < n; tries++ {
		if p.permIdx >= len(p.perm) {
			p.reshuffle()
		}
		idx := p.perm[p.permIdx]
		p.permIdx++
		if p.proxies[idx].Available(now) {
			return p.proxies[idx], nil
		}
	}
	return nil, relayerr.New(relayerr.KindAllProxiesUnavailable, "all proxies cooling down")
}

// pickPerAccountLocked implements the per_account strategy:
// base = hash(a) mod N; linear-probe forward on unhealthy.
func (p *Pool) pickPerAccountLocked(accountID string, now time.Time) (*Proxy, error) {
	n := len(p.proxies)
	if accountID == "" {
		switch p.settings.FallbackStrategy {
		case StrategyRandom, "":
			return p.pickRandomLocked(now)
		case StrategyRandomNoRepeat:
			return p.pickNoRepeatLocked(now)
		default:
			return p.pickSequentialLocked(now)
		}
	}
	base := int(hashKey(accountID) % uint64(n))
	for i := 0; i < n; i++ {
		idx := (base + i) % n
		if p.proxies[idx].Available(now) {
			return p.proxies[idx], nil
		}
	}
	return nil, relayerr.New(relayerr.KindAllProxiesUnavailable, "all proxies cooling down")
}

func hashKey(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

func (p *Pool) healthyLocked(now time.Time) []*Proxy {
	out := make([]*Proxy, 0, len(p.proxies))
	for _, px := range p.proxies {
		if px.Available(now) {
			out = append(out, px)
		}
	}
	return out
}

// ReportFailure implements reportFailure(proxy, cause).
func (p *Pool) ReportFailure(proxy *Proxy, cause FailureCause) {
	if proxy == nil {
		return
	}
	until := time.Now().Add(p.settings.CooldownDuration)
	proxy.setCooldown(until)
	log.Warn().Str("proxy", proxy.Redacted()).Str("cause", string(cause)).Time("cooldown_until", until).Msg("proxy quarantined")
}

// Reload implements reload(textContent): replaces the pool and
// resets strategy state.
func (p *Pool) Reload(text string) error {
	proxies, err := ParseList(text)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = proxies
	p.cursor = 0
	p.reshuffle()
	return nil
}

// Status implements status().
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	st := Status{Mode: p.settings.Mode, Strategy: p.settings.RotationStrategy, Total: len(p.proxies)}
	for _, px := range p.proxies {
		if px.Available(now) {
			st.Available++
		}
	}
	if p.settings.Mode == ModeFixed && p.fixed != nil {
		st.Total = 1
		st.Available = 1
		st.CurrentReference = p.fixed.Redacted()
	} else if len(p.proxies) > 0 && p.settings.RotationStrategy == StrategySequential {
		st.CurrentReference = p.proxies[p.cursor%len(p.proxies)].Redacted()
	}
	return st
}
