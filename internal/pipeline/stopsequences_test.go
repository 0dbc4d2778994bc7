package pipeline

import (
	"testing"
	"time"

	"claude-relay/internal/event"
)

func TestEnforceStopSequences_NoSequencesPassesThrough(t *testing.T) {
	ctx := NewContext("claude-3", nil, 0)
	in := make(chan event.Event, 2)
	in <- event.Event{Kind: event.KindContentBlockDelta, Index: 0, Delta: &event.Delta{Kind: event.DeltaText, Text: "hello"}}
	close(in)

	out := EnforceStopSequences(ctx, in)
	evs := drain(t, out)
	if len(evs) != 1 || evs[0].Delta.Text != "hello" {
		t.Fatalf("expected the delta to pass through unmodified, got %v", evs)
	}
}

func TestEnforceStopSequences_TruncatesAtMatchAndEmitsSyntheticStop(t *testing.T) {
	ctx := NewContext("claude-3", []string{"STOP"}, 0)
	in := make(chan event.Event, 4)
	in <- event.Event{Kind: event.KindContentBlockDelta, Index: 0, Delta: &event.Delta{Kind: event.DeltaText, Text: "hello STOP world"}}
	close(in)

	out := EnforceStopSequences(ctx, in)
	evs := drain(t, out)
	if len(evs) != 3 {
		t.Fatalf("expected truncated delta + message_delta + message_stop, got %d events: %v", len(evs), evs)
	}
	if evs[0].Delta.Text != "hello " {
		t.Fatalf("expected the delta truncated before the match, got %q", evs[0].Delta.Text)
	}
	if evs[1].Kind != event.KindMessageDelta || evs[1].StopReason != "stop_sequence" || evs[1].StopSequence != "STOP" {
		t.Fatalf("expected a synthetic stop_sequence message_delta, got %v", evs[1])
	}
	if evs[2].Kind != event.KindMessageStop {
		t.Fatalf("expected a synthetic message_stop, got %v", evs[2])
	}
}

// TestEnforceStopSequences_DrainsRemainingInputWithoutDeadlock guards the
// goroutine/connection leak fix: upstream doesn't know the client-side stop
// sequence matched, so it keeps producing past the match. If the stage
// returned without draining in, a producer blocked on a full in would hang
// forever once its buffer filled.
func TestEnforceStopSequences_DrainsRemainingInputWithoutDeadlock(t *testing.T) {
	ctx := NewContext("claude-3", []string{"STOP"}, 0)
	const bufSize = 16
	in := make(chan event.Event, bufSize)
	in <- event.Event{Kind: event.KindContentBlockDelta, Index: 0, Delta: &event.Delta{Kind: event.DeltaText, Text: "STOP"}}

	out := EnforceStopSequences(ctx, in)
	drain(t, out)

	done := make(chan struct{})
	go func() {
		// Simulate upstream continuing to produce well past the buffer's
		// capacity; this send must not block forever.
		for i := 0; i < bufSize*2; i++ {
			in <- event.Event{Kind: event.KindContentBlockDelta, Index: 0, Delta: &event.Delta{Kind: event.DeltaText, Text: "more"}}
		}
		close(in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on in: EnforceStopSequences did not drain the remaining channel")
	}
}
