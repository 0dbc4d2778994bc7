package pipeline

import (
	"testing"

	"claude-relay/internal/event"
)

func chanOf(evs ...event.Event) <-chan event.Event {
	out := make(chan event.Event, len(evs))
	for _, ev := range evs {
		out <- ev
	}
	close(out)
	return out
}

func drain(t *testing.T, in <-chan event.Event) []event.Event {
	t.Helper()
	var out []event.Event
	for ev := range in {
		out = append(out, ev)
	}
	return out
}

func TestDetectOverload_FirstEventOverloadedError(t *testing.T) {
	in := chanOf(
		event.Event{Kind: event.KindError, Err: &event.ErrorInfo{Kind: event.ErrorKindOverloaded, Message: "overloaded"}},
	)

	overloaded, out := DetectOverload(in)
	if !overloaded {
		t.Fatal("expected overloaded=true on a synthetic overloaded_error first frame")
	}
	evs := drain(t, out)
	if len(evs) != 1 || evs[0].Err.Kind != event.ErrorKindOverloaded {
		t.Fatalf("expected the overloaded event replayed on out, got %v", evs)
	}
}

func TestDetectOverload_OtherErrorKindsNotOverload(t *testing.T) {
	in := chanOf(
		event.Event{Kind: event.KindError, Err: &event.ErrorInfo{Kind: "rate_limit_error", Message: "rate limited"}},
	)

	overloaded, out := DetectOverload(in)
	if overloaded {
		t.Fatal("expected overloaded=false for a non-overload error kind")
	}
	drain(t, out)
}

func TestDetectOverload_NonErrorFirstEventPassesThroughUnmodified(t *testing.T) {
	in := chanOf(
		event.Event{Kind: event.KindMessageStart, MessageID: "msg_1"},
		event.Event{Kind: event.KindContentBlockStart, Index: 0},
	)

	overloaded, out := DetectOverload(in)
	if overloaded {
		t.Fatal("expected overloaded=false")
	}
	evs := drain(t, out)
	if len(evs) != 2 || evs[0].MessageID != "msg_1" {
		t.Fatalf("expected both events replayed in order, got %v", evs)
	}
}

func TestDetectOverload_EmptyInputClosesOutImmediately(t *testing.T) {
	in := chanOf()
	overloaded, out := DetectOverload(in)
	if overloaded {
		t.Fatal("expected overloaded=false for an empty stream")
	}
	if evs := drain(t, out); len(evs) != 0 {
		t.Fatalf("expected no events, got %v", evs)
	}
}
