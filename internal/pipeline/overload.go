package pipeline

import "claude-relay/internal/event"

// DetectOverload implements stage 10, OverloadDetector: "peeks the first
// few events on streaming requests; if the first is error { kind =
// overloaded }, raises an Overloaded error before HTTP response headers
// are committed so the orchestrator can retry" (stage 10).
//
// It consumes the first event to inspect it, then replays it onto the
// returned channel along with the rest of in, so callers that don't hit
// the overloaded case see an unmodified stream.
func DetectOverload(in <-chan event.Event) (overloaded bool, out <-chan event.Event) {
	first, ok := <-in
	merged := make(chan event.Event, cap(in))
	if !ok {
		close(merged)
		return false, merged
	}

	isOverload := first.Kind == event.KindError && first.Err != nil && first.Err.Kind == event.ErrorKindOverloaded

	go func() {
		defer close(merged)
		merged <- first
		for ev := range in {
			merged <- ev
		}
	}()
	return isOverload, merged
}
