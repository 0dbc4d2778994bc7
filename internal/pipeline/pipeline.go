package pipeline

import (
	"context"
	"net/http"
	"strconv"

	"claude-relay/internal/account"
	"claude-relay/internal/driver"
	"claude-relay/internal/event"
	"claude-relay/internal/proxypool"
	"claude-relay/internal/relayerr"
	"claude-relay/internal/session"
)

// Result is what Run hands back to one orchestrator attempt: exactly one
// of Message (non-streaming, already fully materialized) or Stream
// (streaming, ready for WriteSSE) is set.
type Result struct {
	Message *event.Message
	Stream  <-chan event.Event
}

// Run chains every pipeline stage for a single upstream
// attempt. It does not retry; that's the orchestrator's job,
// which calls Run again with a different account/proxy on a retryable
// *relayerr.Error.
func Run(ctx context.Context, req *driver.MessagesRequest, acc *account.Account, proxy *proxypool.Proxy, sess *session.Session, oauth *driver.OAuthDriver, web *driver.WebDriver, probes map[string]bool) (*Result, *relayerr.Error) {
	if IsTestMessage(req, probes) {
		msg := CannedReply(req.Model)
		return &Result{Message: &msg}, nil
	}

	d := SelectDriver(acc, oauth, web)
	AdaptToolResults(req, d.Kind())

	resp, err := Dispatch(ctx, d, req, acc, proxy, sess)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindProxyTransport, err).WithContext("account", acc.ID).WithContext("cause", "transport")
	}
	if relErr := classifyStatus(resp.StatusCode, proxy != nil); relErr != nil {
		relErr.WithContext("account", acc.ID).WithContext("status", resp.StatusCode)
		if relErr.Kind == relayerr.KindProxyTransport {
			relErr.WithContext("cause", "http403")
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			relErr.WithContext("retry_after_seconds", parseRetryAfter(resp.Header))
		}
		resp.Body.Close()
		return nil, relErr
	}

	pctx := NewContext(req.Model, req.StopSequences, estimateInputTokens(req))

	pipe := ParseStream(resp.Body, d.Kind(), pctx)
	pipe = InjectModel(pctx, pipe)
	pipe = EnforceStopSequences(pctx, pipe)
	pipe = TrackToolCalls(pctx, pipe)
	pipe = Collect(pctx, pipe)
	pipe = CountTokens(pctx, pipe)

	if !req.Stream {
		msg := CollectMessage(pctx, pipe)
		return &Result{Message: &msg}, nil
	}

	overloaded, pipe := DetectOverload(pipe)
	if overloaded {
		for range pipe {
		}
		return nil, relayerr.New(relayerr.KindUpstreamOverloaded, "upstream reported overloaded on first event").WithContext("account", acc.ID)
	}
	return &Result{Stream: pipe}, nil
}

// classifyStatus maps an upstream HTTP status to the relayerr taxonomy the
// orchestrator dispatches retries on. 2xx is success (nil).
// Grounded on proxy.go's status-branching (401/403 treated as credential
// failures); the rate-limit and overload codes follow Anthropic's
// published API error codes. 403 is split from 401 when a proxy was in
// use: the calls out "HTTP 403 while using proxy" as a proxy
// quarantine signal distinct from a genuine credential rejection.
func classifyStatus(status int, viaProxy bool) *relayerr.Error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return relayerr.New(relayerr.KindRateLimited, "upstream rate limited")
	case status == http.StatusForbidden && viaProxy:
		return relayerr.New(relayerr.KindProxyTransport, "proxy rejected with 403")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return relayerr.New(relayerr.KindInvalidCredentials, "upstream rejected credentials")
	case status == 529:
		return relayerr.New(relayerr.KindUpstreamOverloaded, "upstream overloaded")
	case status >= 500:
		return relayerr.New(relayerr.KindUpstreamProtocol, "upstream server error")
	default:
		return relayerr.New(relayerr.KindUpstreamProtocol, "unexpected upstream status")
	}
}

// parseRetryAfter reads the Retry-After header (seconds form only, which is
// what Anthropic's 429 responses send) so the orchestrator can set
// RATE_LIMITED's resetsAt without re-reading the closed response.
func parseRetryAfter(h http.Header) int {
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

func estimateInputTokens(req *driver.MessagesRequest) int {
	total := EstimateTokens(req.System)
	for _, m := range req.Messages {
		if text, ok := m.Content.(string); ok {
			total += EstimateTokens(text)
		}
	}
	return total
}
