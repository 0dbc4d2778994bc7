package pipeline

import (
	"testing"
	"time"

	"claude-relay/internal/event"
)

func TestTrackToolCalls_ServerToolPassesThroughWithoutTermination(t *testing.T) {
	ctx := NewContext("claude-3", nil, 0)
	in := make(chan event.Event, 4)
	in <- event.Event{Kind: event.KindContentBlockStart, Index: 0, Block: &event.ContentBlock{Type: "server_tool_use", Name: "web_search"}}
	in <- event.Event{Kind: event.KindContentBlockStop, Index: 0}
	in <- event.Event{Kind: event.KindMessageStop}
	close(in)

	out := TrackToolCalls(ctx, in)
	evs := drain(t, out)
	if len(evs) != 3 {
		t.Fatalf("expected all three events to pass through for a server tool, got %d: %v", len(evs), evs)
	}
	if evs[2].Kind != event.KindMessageStop {
		t.Fatalf("expected the natural message_stop to survive, got %v", evs[2])
	}
}

func TestTrackToolCalls_ClientToolTerminatesEarlyWithSyntheticStop(t *testing.T) {
	ctx := NewContext("claude-3", nil, 0)
	in := make(chan event.Event, 4)
	in <- event.Event{Kind: event.KindContentBlockStart, Index: 0, Block: &event.ContentBlock{Type: "tool_use", Name: "read_file", ID: "tu_1"}}
	in <- event.Event{Kind: event.KindContentBlockStop, Index: 0}
	close(in)

	out := TrackToolCalls(ctx, in)
	evs := drain(t, out)
	if len(evs) != 4 {
		t.Fatalf("expected start+stop+synthetic message_delta+message_stop, got %d: %v", len(evs), evs)
	}
	if evs[2].Kind != event.KindMessageDelta || evs[2].StopReason != "tool_use" {
		t.Fatalf("expected a synthetic tool_use message_delta, got %v", evs[2])
	}
	if evs[3].Kind != event.KindMessageStop {
		t.Fatalf("expected a synthetic message_stop, got %v", evs[3])
	}

	ctx.mu.Lock()
	pending := ctx.pendingTool
	ctx.mu.Unlock()
	if !pending {
		t.Fatal("expected ctx.pendingTool to be set for a client tool_use termination")
	}
}

// TestTrackToolCalls_DrainsRemainingInputWithoutDeadlock guards the
// goroutine/connection leak fix: upstream keeps generating past the
// client tool_use block's content_block_stop, so the stage must drain its
// input instead of returning and leaving a producer blocked on a full
// channel.
func TestTrackToolCalls_DrainsRemainingInputWithoutDeadlock(t *testing.T) {
	ctx := NewContext("claude-3", nil, 0)
	const bufSize = 16
	in := make(chan event.Event, bufSize)
	in <- event.Event{Kind: event.KindContentBlockStart, Index: 0, Block: &event.ContentBlock{Type: "tool_use", Name: "read_file", ID: "tu_1"}}
	in <- event.Event{Kind: event.KindContentBlockStop, Index: 0}

	out := TrackToolCalls(ctx, in)
	drain(t, out)

	done := make(chan struct{})
	go func() {
		for i := 0; i < bufSize*2; i++ {
			in <- event.Event{Kind: event.KindContentBlockDelta, Index: 1, Delta: &event.Delta{Kind: event.DeltaText, Text: "more"}}
		}
		close(in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on in: TrackToolCalls did not drain the remaining channel")
	}
}
