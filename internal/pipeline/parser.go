package pipeline

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"claude-relay/internal/driver"
	"claude-relay/internal/event"
)

// ParseStream implements stage 4, EventParser: scans the driver's raw SSE
// body and emits normalized public Events. Grounded on api_proxy.go /
// proxy.go's bufio.Scanner-over-resp.Body idiom for the line scanning;
// the private->public mapping table itself is new.
func ParseStream(body io.ReadCloser, kind driver.Kind, pctx *Context) <-chan event.Event {
	out := make(chan event.Event, 16)
	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}

			if kind == driver.KindOAuth {
				if ev, ok := parsePublicFrame([]byte(data)); ok {
					out <- ev
				}
				continue
			}
			raw, ok := parsePrivateFrame([]byte(data))
			if !ok {
				continue
			}
			if raw.Kind == event.PrivateToolResult && raw.Knowledge != nil {
				pctx.RecordKnowledge(raw.Knowledge.Knowledge)
			}
			if ev, keep := mapPrivateToPublic(raw); keep {
				out <- ev
			}
		}
	}()
	return out
}

// publicWire mirrors the subset of the real Anthropic SSE event schema
// the pipeline reads from an OAuth-driver response, which is already an
// SSE stream in the public event schema.
type publicWire struct {
	Type         string              `json:"type"`
	Index        int                 `json:"index"`
	Message      *publicWireMessage  `json:"message,omitempty"`
	ContentBlock *event.ContentBlock `json:"content_block,omitempty"`
	Delta        *publicWireDelta    `json:"delta,omitempty"`
	Usage        *event.Usage        `json:"usage,omitempty"`
	Error        *event.ErrorInfo    `json:"error,omitempty"`
}

type publicWireMessage struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Role  string `json:"role"`
}

type publicWireDelta struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	Thinking     string            `json:"thinking,omitempty"`
	Signature    string            `json:"signature,omitempty"`
	PartialJSON  string            `json:"partial_json,omitempty"`
	Citations    []event.Citation  `json:"citations,omitempty"`
	StopReason   string            `json:"stop_reason,omitempty"`
	StopSequence string            `json:"stop_sequence,omitempty"`
}

func parsePublicFrame(data []byte) (event.Event, bool) {
	var w publicWire
	if err := json.Unmarshal(data, &w); err != nil {
		return event.Event{}, false
	}
	ev := event.Event{Kind: event.Kind(w.Type), Index: w.Index, Usage: w.Usage, Err: w.Error}
	if w.Message != nil {
		ev.MessageID, ev.Model, ev.Role = w.Message.ID, w.Message.Model, w.Message.Role
	}
	if w.ContentBlock != nil {
		ev.Block = w.ContentBlock
	}
	if w.Delta != nil {
		switch w.Type {
		case string(event.KindMessageDelta):
			ev.StopReason = w.Delta.StopReason
			ev.StopSequence = w.Delta.StopSequence
		default:
			ev.Delta = &event.Delta{
				Kind:        event.DeltaKind(w.Delta.Type),
				Text:        w.Delta.Text,
				Thinking:    w.Delta.Thinking,
				Signature:   w.Delta.Signature,
				PartialJSON: w.Delta.PartialJSON,
				Citations:   w.Delta.Citations,
			}
		}
	}
	switch ev.Kind {
	case event.KindMessageStart, event.KindContentBlockStart, event.KindContentBlockDelta,
		event.KindContentBlockStop, event.KindMessageDelta, event.KindMessageStop, event.KindError:
		return ev, true
	default:
		return event.Event{}, false // unknown discriminant, dropped at the parser boundary
	}
}

// privateWire mirrors the raw frame shapes the Web driver's claude.ai
// completion stream emits (see event.RawFrame's doc comment on the
// provenance of this shape).
type privateWire struct {
	Type      string                  `json:"type"`
	Index     int                     `json:"index"`
	MessageID string                  `json:"message_id,omitempty"`
	Model     string                  `json:"model,omitempty"`
	Role      string                  `json:"role,omitempty"`
	Delta     *publicWireDelta        `json:"delta,omitempty"`
	Citation  *event.PrivateCitation  `json:"citation,omitempty"`
	Knowledge *event.PrivateKnowledge `json:"knowledge,omitempty"`
	Block     *event.ContentBlock     `json:"content_block,omitempty"`
	Usage     *event.Usage            `json:"usage,omitempty"`
	ErrType   string                  `json:"error_type,omitempty"`
	ErrMsg    string                  `json:"error_message,omitempty"`
}

func parsePrivateFrame(data []byte) (event.RawFrame, bool) {
	var w privateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return event.RawFrame{}, false
	}
	rf := event.RawFrame{
		Kind:      event.PrivateKind(w.Type),
		Index:     w.Index,
		MessageID: w.MessageID,
		Model:     w.Model,
		Role:      w.Role,
		Citation:  w.Citation,
		Knowledge: w.Knowledge,
		Block:     w.Block,
		Usage:     w.Usage,
		ErrKind:   w.ErrType,
		ErrMsg:    w.ErrMsg,
	}
	if w.Delta != nil {
		rf.DeltaKind = event.DeltaKind(w.Delta.Type)
		rf.Text = w.Delta.Text
		rf.Thinking = w.Delta.Thinking
		rf.Signature = w.Delta.Signature
		rf.PartialJSON = w.Delta.PartialJSON
		rf.StopReason = w.Delta.StopReason
	}
	return rf, true
}

// mapPrivateToPublic implements EventParser's private->public mapping table.
func mapPrivateToPublic(rf event.RawFrame) (event.Event, bool) {
	switch rf.Kind {
	case event.PrivateMessageStart:
		return event.Event{Kind: event.KindMessageStart, MessageID: rf.MessageID, Model: rf.Model, Role: rf.Role}, true
	case event.PrivateContentBlockStart:
		return event.Event{Kind: event.KindContentBlockStart, Index: rf.Index, Block: rf.Block}, true
	case event.PrivateContentBlockDelta:
		return event.Event{Kind: event.KindContentBlockDelta, Index: rf.Index, Delta: &event.Delta{
			Kind: rf.DeltaKind, Text: rf.Text, Thinking: rf.Thinking, Signature: rf.Signature, PartialJSON: rf.PartialJSON,
		}}, true
	case event.PrivateContentBlockStop:
		return event.Event{Kind: event.KindContentBlockStop, Index: rf.Index}, true
	case event.PrivateMessageDelta:
		return event.Event{Kind: event.KindMessageDelta, StopReason: rf.StopReason, Usage: rf.Usage}, true
	case event.PrivateMessageStop:
		return event.Event{Kind: event.KindMessageStop}, true
	case event.PrivateError:
		return event.Event{Kind: event.KindError, Err: &event.ErrorInfo{Kind: rf.ErrKind, Message: rf.ErrMsg}}, true
	case event.PrivateCitationStartDelta:
		if rf.Citation == nil {
			return event.Event{}, false
		}
		return event.Event{Kind: event.KindContentBlockDelta, Index: rf.Index, Delta: &event.Delta{
			Kind: event.DeltaCitations,
			Citations: []event.Citation{{
				Type:           "web_search_result_location",
				URL:            rf.Citation.URL,
				Title:          rf.Citation.Title,
				EncryptedIndex: rf.Citation.EncryptedIndex,
				CitedText:      rf.Citation.CitedText,
			}},
		}}, true
	case event.PrivateCitationEndDelta, event.PrivateThinkingSummaryDelta, event.PrivateMessageLimit, event.PrivateToolResult, event.PrivateTestMessage:
		// dropped from the outbound stream (stage 4); tool_result's
		// knowledge payload is recorded by ParseStream via
		// Context.RecordKnowledge before this mapping, not here
		return event.Event{}, false
	default:
		return event.Event{}, false // unknown discriminant, dropped
	}
}
