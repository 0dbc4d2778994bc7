package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"claude-relay/internal/driver"
	"claude-relay/internal/event"
	"claude-relay/internal/metrics"
	"claude-relay/internal/pipeline"
	"claude-relay/internal/relayerr"
	"claude-relay/internal/store"
)

// clientKey derives the Session Manager's sticky identity from the
// request. The core imposes no auth of its own (a stated non-goal), so
// the client's own x-api-key header — the one every Anthropic SDK
// already sends — doubles as the session key, with a Bearer token in
// Authorization used when x-api-key is absent; callers that send neither
// fall back to a generated one-shot key, meaning no stickiness across
// their requests.
func clientKey(c *gin.Context) string {
	if k := c.GetHeader("x-api-key"); k != "" {
		return k
	}
	if auth := c.GetHeader("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return "anon-" + uuid.New().String()
}

func (s *Server) handleMessages(c *gin.Context) {
	var req driver.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAnthropicError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	key := clientKey(c)
	start := time.Now()

	var tracker *metricsTracker
	if s.metrics != nil {
		tracker = newMetricsTracker(s, req.Model)
		defer tracker.finish()
	}

	if s.concurrency != nil {
		res, err := s.concurrency.AcquireGlobalSlot(c.Request.Context())
		if err != nil || !res.Acquired {
			if tracker != nil {
				tracker.status = "throttled"
			}
			writeAnthropicError(c, http.StatusTooManyRequests, event.ErrorKindOverloaded, "too many concurrent requests")
			return
		}
		defer s.concurrency.ReleaseGlobalSlot()
	}

	result, relErr := s.orch.Handle(c.Request.Context(), &req, key)
	if relErr != nil {
		if tracker != nil {
			tracker.status = string(relErr.Kind)
		}
		s.recordRequestLog(key, req.Model, req.Stream, start, false)
		writeRelayError(c, relErr)
		return
	}
	if tracker != nil {
		tracker.status = "ok"
	}

	if result.Message != nil {
		c.JSON(http.StatusOK, result.Message)
		s.recordRequestLog(key, req.Model, req.Stream, start, true)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	stream := result.Stream
	if tracker != nil {
		stream = tracker.observe(stream)
	}
	if err := pipeline.WriteSSE(c.Writer, stream); err != nil {
		log.Warn().Err(err).Str("client_key", key).Msg("stream write failed")
	}
	s.recordRequestLog(key, req.Model, true, start, true)
}

// handleCountTokens answers the client's pre-flight token-estimate call
// with the pipeline's own estimator, rather than dispatching upstream —
// neither driver has a dedicated upstream endpoint for this.
func (s *Server) handleCountTokens(c *gin.Context) {
	var req driver.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAnthropicError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	total := pipeline.EstimateTokens(req.System)
	for _, m := range req.Messages {
		if text, ok := m.Content.(string); ok {
			total += pipeline.EstimateTokens(text)
		}
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": total})
}

func writeAnthropicError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    kind,
			"message": message,
		},
	})
}

// writeRelayError maps the orchestrator's tagged error to the Anthropic
// wire error envelope, picking the closest upstream error `type` string
// for each Kind so clients built against the real API see a familiar shape.
func writeRelayError(c *gin.Context, relErr *relayerr.Error) {
	writeAnthropicError(c, relErr.Kind.HTTPStatus(), anthropicErrorType(relErr.Kind), relErr.Message)
}

func anthropicErrorType(k relayerr.Kind) string {
	switch k {
	case relayerr.KindUpstreamOverloaded:
		return event.ErrorKindOverloaded
	case relayerr.KindRateLimited:
		return "rate_limit_error"
	case relayerr.KindInvalidCredentials:
		return "authentication_error"
	case relayerr.KindValidationError:
		return "invalid_request_error"
	case relayerr.KindClientDisconnected:
		return "request_closed"
	default:
		return "api_error"
	}
}

func (s *Server) recordRequestLog(clientKey, model string, stream bool, start time.Time, success bool) {
	if s.store == nil {
		return
	}
	status := 200
	if !success {
		status = 502
	}
	rl := &store.RequestLog{
		ID:         uuid.New().String(),
		ClientKey:  clientKey,
		Driver:     "oauth",
		Model:      model,
		Stream:     stream,
		RequestAt:  start,
		StatusCode: status,
		Success:    success,
	}
	if err := s.store.CreateRequestLog(rl); err != nil {
		log.Warn().Err(err).Msg("failed to write request log")
	}
}

// metricsTracker bridges a single /v1/messages call to the metrics
// collector's RequestTracker, additionally teeing the streaming path so
// MarkFirstToken fires on the first content_block_delta observed.
// Non-streaming responses record no TTFT.
type metricsTracker struct {
	rt     *metrics.RequestTracker
	status string
}

func newMetricsTracker(s *Server, model string) *metricsTracker {
	return &metricsTracker{rt: s.metrics.NewRequestTracker("unknown", model), status: "error"}
}

func (t *metricsTracker) observe(in <-chan event.Event) <-chan event.Event {
	out := make(chan event.Event, 4)
	go func() {
		defer close(out)
		first := true
		for ev := range in {
			if first && ev.Kind == event.KindContentBlockDelta {
				t.rt.MarkFirstToken()
				first = false
			}
			out <- ev
		}
	}()
	return out
}

func (t *metricsTracker) finish() {
	t.rt.Finish(t.status)
}
