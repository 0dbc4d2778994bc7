package pipeline

import "claude-relay/internal/event"

// TrackToolCalls implements stage 7, ToolCallEvents: "for client tool
// calls, on content_block_stop of a tool_use block, registers a pending
// tool call and terminates the message with stop_reason = tool_use. Server
// tools ... are passed through and must NOT trigger early termination"
// (stage 7).
func TrackToolCalls(ctx *Context, in <-chan event.Event) <-chan event.Event {
	out := make(chan event.Event, cap(in))
	go func() {
		defer close(out)
		for ev := range in {
			switch ev.Kind {
			case event.KindContentBlockStart:
				if ev.Block != nil {
					ctx.mu.Lock()
					ctx.openBlocks[ev.Index] = ev.Block
					ctx.mu.Unlock()
				}
				out <- ev
			case event.KindContentBlockStop:
				ctx.mu.Lock()
				block := ctx.openBlocks[ev.Index]
				delete(ctx.openBlocks, ev.Index)
				ctx.mu.Unlock()
				out <- ev
				if block != nil && block.Type == "tool_use" {
					ctx.mu.Lock()
					ctx.pendingTool = true
					ctx.mu.Unlock()
					out <- event.Event{Kind: event.KindMessageDelta, StopReason: "tool_use"}
					out <- event.Event{Kind: event.KindMessageStop}
					drainRemaining(in)
					return
				}
			default:
				out <- ev
			}
		}
	}()
	return out
}
