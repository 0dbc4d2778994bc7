package pipeline

import (
	"testing"

	"claude-relay/internal/event"
)

func TestInjectModel_RewritesMessageStartModel(t *testing.T) {
	ctx := NewContext("claude-3-opus-20240229", nil, 0)
	in := chanOf(
		event.Event{Kind: event.KindMessageStart, MessageID: "msg_1", Model: "claude-3-opus-canonical"},
		event.Event{Kind: event.KindContentBlockStart, Index: 0},
	)

	evs := drain(t, InjectModel(ctx, in))
	if len(evs) != 2 {
		t.Fatalf("expected both events to pass through, got %d", len(evs))
	}
	if evs[0].Model != "claude-3-opus-20240229" {
		t.Fatalf("expected message_start.model rewritten to the requested model, got %q", evs[0].Model)
	}
}

func TestInjectModel_LeavesOtherEventsUntouched(t *testing.T) {
	ctx := NewContext("claude-3-opus-20240229", nil, 0)
	in := chanOf(event.Event{Kind: event.KindContentBlockStop, Index: 0})

	evs := drain(t, InjectModel(ctx, in))
	if len(evs) != 1 || evs[0].Kind != event.KindContentBlockStop {
		t.Fatalf("expected the non-message_start event unchanged, got %v", evs)
	}
}

func TestCollect_BuildsMaterializedMessageFromDeltas(t *testing.T) {
	ctx := NewContext("claude-3", nil, 0)
	in := chanOf(
		event.Event{Kind: event.KindMessageStart, MessageID: "msg_1", Model: "claude-3", Role: "assistant"},
		event.Event{Kind: event.KindContentBlockStart, Index: 0, Block: &event.ContentBlock{Type: "text"}},
		event.Event{Kind: event.KindContentBlockDelta, Index: 0, Delta: &event.Delta{Kind: event.DeltaText, Text: "Hel"}},
		event.Event{Kind: event.KindContentBlockDelta, Index: 0, Delta: &event.Delta{Kind: event.DeltaText, Text: "lo"}},
		event.Event{Kind: event.KindContentBlockStop, Index: 0},
		event.Event{Kind: event.KindMessageDelta, StopReason: "end_turn"},
		event.Event{Kind: event.KindMessageStop},
	)

	evs := drain(t, Collect(ctx, in))
	if len(evs) != 7 {
		t.Fatalf("expected Collect to be a pass-through tee of all 7 events, got %d", len(evs))
	}

	msg := ctx.Message()
	if msg.ID != "msg_1" || msg.Role != "assistant" {
		t.Fatalf("expected message_start fields captured, got %+v", msg)
	}
	if len(msg.Content) != 1 || msg.Content[0].Text != "Hello" {
		t.Fatalf("expected accumulated text block %q, got %+v", "Hello", msg.Content)
	}
	if msg.StopReason != "end_turn" {
		t.Fatalf("expected stop_reason captured from message_delta, got %q", msg.StopReason)
	}
}

func TestCollect_AccumulatesInputJSONAndParsesOnBlockStop(t *testing.T) {
	ctx := NewContext("claude-3", nil, 0)
	in := chanOf(
		event.Event{Kind: event.KindContentBlockStart, Index: 0, Block: &event.ContentBlock{Type: "tool_use", Name: "read_file"}},
		event.Event{Kind: event.KindContentBlockDelta, Index: 0, Delta: &event.Delta{Kind: event.DeltaInputJSON, PartialJSON: `{"path":`}},
		event.Event{Kind: event.KindContentBlockDelta, Index: 0, Delta: &event.Delta{Kind: event.DeltaInputJSON, PartialJSON: `"a.go"}`}},
		event.Event{Kind: event.KindContentBlockStop, Index: 0},
	)

	drain(t, Collect(ctx, in))
	msg := ctx.Message()
	if len(msg.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(msg.Content))
	}
	input, ok := msg.Content[0].Input.(map[string]any)
	if !ok || input["path"] != "a.go" {
		t.Fatalf("expected parsed tool input {path: a.go}, got %+v", msg.Content[0].Input)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"hi", 1},
		{"this is 16 chars", 4},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.in); got != c.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestCountTokens_FillsUsageWhenUpstreamOmittedIt(t *testing.T) {
	ctx := NewContext("claude-3", nil, 100)
	in := chanOf(
		event.Event{Kind: event.KindContentBlockStart, Index: 0, Block: &event.ContentBlock{Type: "text"}},
		event.Event{Kind: event.KindContentBlockDelta, Index: 0, Delta: &event.Delta{Kind: event.DeltaText, Text: "hello world"}},
		event.Event{Kind: event.KindMessageDelta, StopReason: "end_turn"},
	)

	// Collect first so ctx.outputChars is populated the way Run() chains it.
	collected := Collect(ctx, in)
	evs := drain(t, CountTokens(ctx, collected))

	last := evs[len(evs)-1]
	if last.Usage == nil {
		t.Fatal("expected CountTokens to fill in a synthesized Usage")
	}
	if last.Usage.InputTokens != 100 {
		t.Fatalf("expected the pre-seeded input token estimate to be used, got %d", last.Usage.InputTokens)
	}
	if last.Usage.OutputTokens == 0 {
		t.Fatal("expected a non-zero estimated output token count")
	}
}

func TestCountTokens_PreservesUpstreamUsageWhenPresent(t *testing.T) {
	ctx := NewContext("claude-3", nil, 100)
	in := chanOf(
		event.Event{Kind: event.KindMessageDelta, StopReason: "end_turn", Usage: &event.Usage{InputTokens: 7, OutputTokens: 9}},
	)

	collected := Collect(ctx, in)
	evs := drain(t, CountTokens(ctx, collected))

	last := evs[len(evs)-1]
	if last.Usage == nil || last.Usage.InputTokens != 7 || last.Usage.OutputTokens != 9 {
		t.Fatalf("expected the real upstream usage preserved unchanged, got %+v", last.Usage)
	}
}
