// Package health implements the two-phase refresh/health probe, wired
// into the Account Registry via account.Prober.
package health

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"claude-relay/internal/account"
	"claude-relay/internal/driver"
	"claude-relay/internal/httpclient"
	"claude-relay/internal/proxypool"
	"claude-relay/internal/session"
)

// orgInfoURL is the cheap read-only endpoint Phase 1 probes: a GET here
// verifies a credential is still live without spending a chat turn.
const orgInfoURL = "https://claude.ai/api/organizations"

// probeModel is the model name used for Phase 2's synthetic minimal
// request; any valid model works since the probe only inspects the HTTP
// status, never the completion content.
const probeModel = "claude-3-haiku-20240307"

// Monitor implements account.Prober.
type Monitor struct {
	oauth   *driver.OAuthDriver
	web     *driver.WebDriver
	proxies *proxypool.Pool
	timeout time.Duration
}

// NewMonitor constructs a Monitor against the already-wired drivers.
func NewMonitor(oauth *driver.OAuthDriver, web *driver.WebDriver, proxies *proxypool.Pool, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Monitor{oauth: oauth, web: web, proxies: proxies, timeout: timeout}
}

// Probe implements account.Prober: Phase 1 is a cheap
// credential check; Phase 2, run only if Phase 1 passes, is a minimal
// chat turn that surfaces rate-limiting Phase 1 alone can't detect.
func (m *Monitor) Probe(ctx context.Context, acc account.Account) (account.Status, *time.Time, error) {
	var proxy *proxypool.Proxy
	if m.proxies != nil {
		p, err := m.proxies.GetProxy(acc.ID)
		if err == nil {
			proxy = p
		}
	}

	valid, err := m.phase1(ctx, &acc, proxy)
	if err != nil {
		// Network error: status unchanged, let the caller keep retrying later.
		return acc.Status, acc.RateLimitResetsAt, err
	}
	if !valid {
		return account.StatusInvalid, nil, nil
	}

	resetsAt, rateLimited, err := m.phase2(ctx, &acc, proxy)
	if err != nil {
		return acc.Status, acc.RateLimitResetsAt, err
	}
	if rateLimited {
		return account.StatusRateLimited, resetsAt, nil
	}
	return account.StatusValid, nil, nil
}

// phase1 reports whether the credential is still accepted by a
// read-only org-info GET. Returns (false, nil) on a clean auth rejection
// and (_, err) only for genuine network-level failures.
func (m *Monitor) phase1(ctx context.Context, acc *account.Account, proxy *proxypool.Proxy) (bool, error) {
	client := proxypool.NewHTTPClient(proxy, m.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, orgInfoURL, nil)
	if err != nil {
		return false, fmt.Errorf("build org-info request: %w", err)
	}
	if acc.HasOAuthToken() {
		req.Header.Set("Authorization", "Bearer "+acc.Credentials.AccessToken)
	} else {
		req.Header.Set("Cookie", "sessionKey="+acc.Credentials.SessionKey)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("org-info request: %w", err)
	}
	defer resp.Body.Close()

	return classifyOrgInfoStatus(resp.StatusCode)
}

// classifyOrgInfoStatus is Phase 1's status classification, pulled out
// of phase1 so it's testable without a live org-info endpoint: 401/403
// is a clean "credential no longer valid" (no error), 2xx/3xx is valid,
// anything else is a genuine failure the caller shouldn't act on.
func classifyOrgInfoStatus(status int) (bool, error) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return false, nil
	case status >= 400:
		return false, fmt.Errorf("org-info check: unexpected status %d", status)
	default:
		return true, nil
	}
}

// phase2 runs a synthetic single-token chat turn to surface rate
// limiting that a cheap GET can't. OAuth accounts send max_tokens:1
// straight through the OAuthDriver; cookie-only accounts run the Web
// driver's create -> send-minimal -> delete dance against a throwaway
// session that never touches the Session Manager's sticky bindings.
func (m *Monitor) phase2(ctx context.Context, acc *account.Account, proxy *proxypool.Proxy) (*time.Time, bool, error) {
	req := &driver.MessagesRequest{
		Model:     probeModel,
		MaxTokens: 1,
		Messages:  []driver.Message{{Role: "user", Content: "ping"}},
	}

	var resp *http.Response
	var err error
	if acc.CanOAuth && acc.HasOAuthToken() && m.oauth != nil {
		resp, err = m.oauth.Stream(ctx, req, acc, proxy, nil)
	} else if acc.CanWeb && m.web != nil {
		proxyURL := ""
		if proxy != nil {
			proxyURL = proxy.URL()
		}
		sess := &session.Session{
			AccountID:  acc.ID,
			ProxyURL:   proxyURL,
			HTTPClient: httpclient.NewClient(proxyURL),
			CreatedAt:  time.Now(),
			ExpiresAt:  time.Now().Add(m.timeout),
		}
		resp, err = m.web.Stream(ctx, req, acc, proxy, sess)
		if sess.ConversationID != "" {
			deleteCtx, cancel := context.WithTimeout(context.Background(), m.timeout)
			if delErr := m.web.DeleteConversation(deleteCtx, sess); delErr != nil {
				log.Warn().Err(delErr).Str("account_id", acc.ID).Msg("probe conversation cleanup failed")
			}
			cancel()
		}
	} else {
		return nil, false, fmt.Errorf("account %s has no usable driver for Phase 2", acc.ID)
	}

	if err != nil {
		return nil, false, fmt.Errorf("phase 2 probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		resetsAt := time.Now().Add(time.Duration(parseRetryAfterSeconds(resp.Header)) * time.Second)
		return &resetsAt, true, nil
	}
	return nil, false, nil
}

// parseRetryAfterSeconds reads the Retry-After header (seconds form),
// defaulting to 60 when absent or malformed.
func parseRetryAfterSeconds(h http.Header) int {
	v := h.Get("Retry-After")
	if v == "" {
		return 60
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return 60
	}
	return seconds
}
