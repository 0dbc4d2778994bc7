// Package session implements the Session Manager: per-account
// web sessions layered on top of the Account Registry.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imroc/req/v3"
	"github.com/rs/zerolog/log"

	"claude-relay/internal/account"
	"claude-relay/internal/httpclient"
	"claude-relay/internal/proxypool"
)

// ConversationDeleter deletes the upstream conversation bound to a
// session, best-effort, on expiry or explicit cleanup. Implemented by
// internal/driver.WebDriver; injected to avoid a session->driver import
// cycle (driver already imports session for the Stream contract).
type ConversationDeleter interface {
	DeleteConversation(ctx context.Context, s *Session) error
}

// WebSearchSetter performs the upstream PATCH-like call that flips the
// conversation's web-search setting. Implemented by
// internal/driver.WebDriver, injected the same way as ConversationDeleter.
type WebSearchSetter interface {
	SetWebSearchUpstream(ctx context.Context, s *Session, enabled bool) error
}

// Session binds a client key to an account and its live HTTP transport.
type Session struct {
	ClientKey string
	AccountID string

	ProxyURL string // captured at session creation, stable for the Web path

	ConversationID string // server-side conversation id, web path only

	WebSearchEnabled bool
	PaprikaMode      bool // extended thinking

	// HTTPClient carries the Chrome-TLS-fingerprinted browser client the
	// WebDriver sends through (the design note: the Web path must
	// look like a real browser to claude.ai). Built once at session
	// creation against the proxy the session is pinned to.
	HTTPClient *req.Client

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Manager is the Session Manager.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	registry *account.Registry
	proxies  *proxypool.Pool
	ttl      time.Duration
	deleter  ConversationDeleter
	searcher WebSearchSetter

	stop chan struct{}
}

// New constructs a Manager. ttl is the session lifetime.
func New(registry *account.Registry, proxies *proxypool.Pool, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		registry: registry,
		proxies:  proxies,
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// SetConversationDeleter wires the WebDriver in after construction.
func (m *Manager) SetConversationDeleter(d ConversationDeleter) {
	m.mu.Lock()
	m.deleter = d
	m.mu.Unlock()
}

// SetWebSearchSetter wires the WebDriver in after construction.
func (m *Manager) SetWebSearchSetter(d WebSearchSetter) {
	m.mu.Lock()
	m.searcher = d
	m.mu.Unlock()
}

// Close stops the background TTL sweep.
func (m *Manager) Close() { close(m.stop) }

// GetOrCreate implements getOrCreate(clientKey) -> Session:
// created lazily on first use of a (client key -> account) pair.
func (m *Manager) GetOrCreate(clientKey string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[clientKey]; ok && time.Now().Before(s.ExpiresAt) {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	acc, err := m.registry.PickForSession(clientKey)
	if err != nil {
		return nil, fmt.Errorf("pick account for session: %w", err)
	}

	var proxyURL string
	if m.proxies != nil {
		p, err := m.proxies.GetProxy(acc.ID)
		if err != nil {
			return nil, fmt.Errorf("pick proxy for session: %w", err)
		}
		if p != nil {
			proxyURL = p.URL()
		}
	}

	s := &Session{
		ClientKey:  clientKey,
		AccountID:  acc.ID,
		ProxyURL:   proxyURL,
		HTTPClient: httpclient.NewClient(proxyURL),
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[clientKey] = s
	m.mu.Unlock()
	return s, nil
}

// SetWebSearch implements setWebSearch(session, enabled): performs the
// PATCH-like call on the upstream conversation via the injected
// WebSearchSetter (the WebDriver), then caches the flag once the call
// succeeds. A no-op call (enabled already matches the cached flag) skips
// the upstream round trip.
func (m *Manager) SetWebSearch(ctx context.Context, s *Session, enabled bool) error {
	m.mu.Lock()
	if s.WebSearchEnabled == enabled {
		m.mu.Unlock()
		return nil
	}
	setter := m.searcher
	m.mu.Unlock()

	if setter != nil {
		if err := setter.SetWebSearchUpstream(ctx, s, enabled); err != nil {
			return fmt.Errorf("set web search upstream: %w", err)
		}
	}

	m.mu.Lock()
	s.WebSearchEnabled = enabled
	m.mu.Unlock()
	return nil
}

// SetThinking implements setThinking(session, enabled).
func (m *Manager) SetThinking(s *Session, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.PaprikaMode = enabled
}

// Destroy implements destroy(session, reason): best-effort
// upstream conversation delete, then removes the local session.
func (m *Manager) Destroy(s *Session, reason string) {
	m.mu.Lock()
	delete(m.sessions, s.ClientKey)
	deleter := m.deleter
	m.mu.Unlock()

	m.registry.ReleaseSession(s.AccountID, s.ClientKey)

	if s.ConversationID != "" && deleter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deleter.DeleteConversation(ctx, s); err != nil {
			log.Warn().Err(err).Str("conversation_id", s.ConversationID).Str("reason", reason).Msg("best-effort conversation delete failed")
		}
	}
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) sweepExpired() {
	now := time.Now()
	var expired []*Session
	m.mu.Lock()
	for key, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			expired = append(expired, s)
			delete(m.sessions, key)
		}
	}
	deleter := m.deleter
	m.mu.Unlock()

	for _, s := range expired {
		m.registry.ReleaseSession(s.AccountID, s.ClientKey)
		if s.ConversationID != "" && deleter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			deleter.DeleteConversation(ctx, s)
			cancel()
		}
	}
}
