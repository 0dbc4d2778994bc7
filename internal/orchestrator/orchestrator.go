// Package orchestrator is the Request Orchestrator: the top entrypoint
// that borrows an account + proxy + session, runs the Event Pipeline,
// and layers business retries on top of it, re-selecting account and
// proxy on every attempt with a per-error-kind wait policy.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"claude-relay/internal/account"
	"claude-relay/internal/circuit"
	"claude-relay/internal/driver"
	"claude-relay/internal/pipeline"
	"claude-relay/internal/proxypool"
	"claude-relay/internal/relayerr"
	"claude-relay/internal/session"
)

// Config mirrors the orchestrator's retry tunables.
type Config struct {
	OverloadRetryAttempts int           // default 5
	OverloadCooldown      time.Duration // overloadedUntil window set on the account
	MaxBackoff            time.Duration // cap on the 2^n backoff, default 30s
	MaxBusinessAttempts   int           // safety cap across all kinds, default 10
	LivenessProbes        map[string]bool
}

// DefaultConfig returns the orchestrator's stated defaults.
func DefaultConfig() Config {
	return Config{
		OverloadRetryAttempts: 5,
		OverloadCooldown:      30 * time.Second,
		MaxBackoff:            30 * time.Second,
		MaxBusinessAttempts:   10,
	}
}

// Orchestrator is the Request Orchestrator.
type Orchestrator struct {
	registry *account.Registry
	proxies  *proxypool.Pool
	sessions *session.Manager
	oauth    *driver.OAuthDriver
	web      *driver.WebDriver
	circuit  circuit.Manager
	cfg      Config
}

// New constructs an Orchestrator wired to the already-built fleet layers.
// circuitMgr may be nil, in which case the breaker fast-fail check is
// skipped and the registry's own status fields are the only gate.
func New(registry *account.Registry, proxies *proxypool.Pool, sessions *session.Manager, oauth *driver.OAuthDriver, web *driver.WebDriver, circuitMgr circuit.Manager, cfg Config) *Orchestrator {
	return &Orchestrator{registry: registry, proxies: proxies, sessions: sessions, oauth: oauth, web: web, circuit: circuitMgr, cfg: cfg}
}

// Handle runs one client request through the layered retry policy,
// re-selecting account + proxy on every business retry, and returns the
// first successful pipeline.Result or the *relayerr.Error that ended the
// retries: a non-retryable kind, the overload error once
// OverloadRetryAttempts is exceeded, or NoAccountsAvailable once
// MaxBusinessAttempts is used up.
func (o *Orchestrator) Handle(ctx context.Context, req *driver.MessagesRequest, clientKey string) (*pipeline.Result, *relayerr.Error) {
	overloadAttempts := 0

	for attempt := 0; attempt < o.cfg.MaxBusinessAttempts; attempt++ {
		sess, err := o.sessions.GetOrCreate(clientKey)
		if err != nil {
			if relErr, ok := relayerr.As(err); ok {
				return nil, relErr
			}
			return nil, relayerr.Wrap(relayerr.KindNoAccountsAvailable, err)
		}

		acc, ok := o.registry.Get(sess.AccountID)
		if !ok {
			o.sessions.Destroy(sess, "account_not_found")
			return nil, relayerr.New(relayerr.KindNoAccountsAvailable, "session bound to unknown account")
		}

		if o.circuit != nil && !o.circuit.IsAvailable(acc.ID) {
			log.Warn().Str("account_id", acc.ID).Msg("breaker open, skipping account")
			o.sessions.Destroy(sess, "breaker_open")
			continue
		}

		proxy, err := o.proxies.GetProxy(acc.ID)
		if err != nil {
			if relErr, ok := relayerr.As(err); ok {
				return nil, relErr
			}
			return nil, relayerr.Wrap(relayerr.KindAllProxiesUnavailable, err)
		}

		result, relErr := pipeline.Run(ctx, req, acc, proxy, sess, o.oauth, o.web, o.cfg.LivenessProbes)
		if relErr == nil {
			if o.circuit != nil {
				o.circuit.RecordSuccess(acc.ID)
			}
			return result, nil
		}

		if o.circuit != nil {
			o.circuit.RecordFailure(acc.ID)
		}

		log.Warn().Str("account_id", acc.ID).Str("kind", string(relErr.Kind)).Int("attempt", attempt+1).Msg("business retry")
		o.mutate(relErr, acc, proxy)

		if !relErr.Kind.Retryable() {
			o.sessions.Destroy(sess, string(relErr.Kind))
			return nil, relErr
		}

		if relErr.Kind == relayerr.KindUpstreamOverloaded {
			overloadAttempts++
			if overloadAttempts > o.cfg.OverloadRetryAttempts {
				o.sessions.Destroy(sess, string(relErr.Kind))
				return nil, relErr
			}
			if err := o.sleepBackoff(ctx, overloadAttempts); err != nil {
				return nil, relayerr.Wrap(relayerr.KindClientDisconnected, err)
			}
		}

		if relErr.Kind.SwitchesAccount() {
			o.sessions.Destroy(sess, string(relErr.Kind))
		}
	}

	return nil, relayerr.New(relayerr.KindNoAccountsAvailable, "exhausted business retry attempts")
}

// mutate applies the account/proxy state transition each retryable error
// kind calls for, before the next attempt re-selects.
func (o *Orchestrator) mutate(relErr *relayerr.Error, acc *account.Account, proxy *proxypool.Proxy) {
	switch relErr.Kind {
	case relayerr.KindUpstreamOverloaded:
		o.registry.MarkOverloaded(acc.ID, o.cfg.OverloadCooldown)
	case relayerr.KindRateLimited:
		resetsAt := time.Now().Add(60 * time.Second)
		if seconds, ok := relErr.Context["retry_after_seconds"].(int); ok {
			resetsAt = time.Now().Add(time.Duration(seconds) * time.Second)
		}
		o.registry.MarkRateLimited(acc.ID, resetsAt)
	case relayerr.KindProxyTransport:
		if proxy != nil {
			cause := proxypool.CauseTransport
			if c, ok := relErr.Context["cause"].(string); ok && c == "http403" {
				cause = proxypool.CauseHTTP403
			}
			o.proxies.ReportFailure(proxy, cause)
		}
	case relayerr.KindInvalidCredentials:
		o.registry.MarkInvalid(acc.ID)
	}
}

// sleepBackoff implements the Overloaded kind's exponential backoff,
// 2^n seconds capped at MaxBackoff.
func (o *Orchestrator) sleepBackoff(ctx context.Context, attempt int) error {
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > o.cfg.MaxBackoff {
		backoff = o.cfg.MaxBackoff
	}
	select {
	case <-time.After(backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
