package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"claude-relay/internal/event"
)

// WriteSSE implements the streaming half of stage 11, emitting each Event
// as a standard Anthropic `event: <type>\ndata: <json>\n\n` frame on w,
// flushing after every write so clients see bytes as they're produced
// (grounded on proxy.go's streamWebResponse/handleWebResponse scanning
// idiom, mirrored in reverse for the write side).
func WriteSSE(w io.Writer, in <-chan event.Event) error {
	bw := bufio.NewWriter(w)
	flusher, canFlush := w.(interface{ Flush() })

	for ev := range in {
		frame, err := encodeSSE(ev)
		if err != nil {
			continue
		}
		if _, err := bw.Write(frame); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
	}
	return nil
}

func encodeSSE(ev event.Event) ([]byte, error) {
	payload := map[string]any{"type": string(ev.Kind)}
	switch ev.Kind {
	case event.KindMessageStart:
		payload["message"] = publicWireMessage{ID: ev.MessageID, Model: ev.Model, Role: ev.Role}
	case event.KindContentBlockStart:
		payload["index"] = ev.Index
		payload["content_block"] = ev.Block
	case event.KindContentBlockDelta:
		payload["index"] = ev.Index
		if ev.Delta != nil {
			payload["delta"] = map[string]any{
				"type":         string(ev.Delta.Kind),
				"text":         ev.Delta.Text,
				"thinking":     ev.Delta.Thinking,
				"signature":    ev.Delta.Signature,
				"partial_json": ev.Delta.PartialJSON,
				"citations":    ev.Delta.Citations,
			}
		}
	case event.KindContentBlockStop:
		payload["index"] = ev.Index
	case event.KindMessageDelta:
		payload["delta"] = map[string]any{"stop_reason": ev.StopReason, "stop_sequence": ev.StopSequence}
		if ev.Usage != nil {
			payload["usage"] = ev.Usage
		}
	case event.KindError:
		payload["error"] = ev.Err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Kind, body)), nil
}

// CollectMessage implements the non-streaming half of stage 11: it drains
// in fully (advancing every preceding stage, including the Collector
// building ctx.message) and returns the materialized Message for the
// caller to serialize as the response body (stage 11).
func CollectMessage(ctx *Context, in <-chan event.Event) event.Message {
	for range in {
	}
	return ctx.Message()
}
