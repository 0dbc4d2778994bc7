package pipeline

import (
	"strings"

	"claude-relay/internal/driver"
	"claude-relay/internal/event"
)

// defaultLivenessProbes are the request bodies clients use to confirm the
// relay is reachable without spending a real upstream turn. The exact set
// is not specified by any observable wire contract, so it is made
// configurable rather than hardcoded, with this
// short list as the shipped default.
var defaultLivenessProbes = map[string]bool{
	"test":        true,
	"ping":        true,
	"healthcheck": true,
}

// IsTestMessage implements stage 1, TestMessageFilter: true when the whole
// request is a single user turn matching a known liveness probe.
func IsTestMessage(req *driver.MessagesRequest, probes map[string]bool) bool {
	if len(req.Messages) != 1 {
		return false
	}
	m := req.Messages[0]
	if m.Role != "user" {
		return false
	}
	text, ok := m.Content.(string)
	if !ok {
		return false
	}
	if probes == nil {
		probes = defaultLivenessProbes
	}
	return probes[strings.TrimSpace(strings.ToLower(text))]
}

// CannedReply builds the canned non-streaming reply a test message short-
// circuits to, bypassing DriverDispatch entirely.
func CannedReply(requestedModel string) event.Message {
	return event.Message{
		ID:         "msg_liveness",
		Model:      requestedModel,
		Role:       "assistant",
		StopReason: "end_turn",
		Content:    []event.ContentBlock{{Type: "text", Text: "ok"}},
		Usage:      event.Usage{InputTokens: 1, OutputTokens: 1},
	}
}
