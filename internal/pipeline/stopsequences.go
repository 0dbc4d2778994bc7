package pipeline

import (
	"strings"

	"claude-relay/internal/event"
)

// EnforceStopSequences implements stage 6, StopSequencesEnforcer: "scans
// emitted text for any client-supplied stop sequence; on match, truncates
// the current text delta at the match point and emits a synthetic
// message_delta { stop_reason = "stop_sequence" } followed by
// message_stop" (stage 6).
func EnforceStopSequences(ctx *Context, in <-chan event.Event) <-chan event.Event {
	out := make(chan event.Event, cap(in))
	go func() {
		defer close(out)
		if len(ctx.StopSequences) == 0 {
			for ev := range in {
				out <- ev
			}
			return
		}

		buffers := make(map[int]*strings.Builder)
		for ev := range in {
			if ev.Kind != event.KindContentBlockDelta || ev.Delta == nil || ev.Delta.Kind != event.DeltaText {
				out <- ev
				continue
			}

			buf, ok := buffers[ev.Index]
			if !ok {
				buf = &strings.Builder{}
				buffers[ev.Index] = buf
			}
			before := buf.Len()
			buf.WriteString(ev.Delta.Text)
			full := buf.String()

			matchAt, seq := firstStopSequence(full, ctx.StopSequences)
			if matchAt < 0 {
				out <- ev
				continue
			}

			// Truncate this delta to only the portion before the match that
			// wasn't already emitted in an earlier chunk.
			if matchAt > before {
				ev.Delta.Text = full[before:matchAt]
				out <- ev
			}
			out <- event.Event{Kind: event.KindMessageDelta, StopReason: "stop_sequence", StopSequence: seq}
			out <- event.Event{Kind: event.KindMessageStop}
			drainRemaining(in)
			return
		}
	}()
	return out
}

func firstStopSequence(text string, sequences []string) (int, string) {
	best := -1
	var bestSeq string
	for _, seq := range sequences {
		if seq == "" {
			continue
		}
		if idx := strings.Index(text, seq); idx >= 0 && (best == -1 || idx < best) {
			best = idx
			bestSeq = seq
		}
	}
	return best, bestSeq
}
