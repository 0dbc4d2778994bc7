package pipeline

import (
	"encoding/json"
	"strings"

	"claude-relay/internal/event"
)

// Collect implements stage 8, MessageCollector: "applies every delta to a
// materialized message ... For SignatureDelta it writes thinking.signature;
// if a thinking block exists without a signature at message_stop, it is
// filled with the empty string. Citations from CitationsDelta are appended
// to the corresponding text block's citation list" (stage 8).
// This stage is a tee: it passes every event through unchanged while
// building ctx.message as a side effect.
func Collect(ctx *Context, in <-chan event.Event) <-chan event.Event {
	out := make(chan event.Event, cap(in))
	go func() {
		defer close(out)
		var partialJSON = map[int]*strings.Builder{}

		for ev := range in {
			ctx.mu.Lock()
			switch ev.Kind {
			case event.KindMessageStart:
				ctx.message.ID = ev.MessageID
				ctx.message.Model = ev.Model
				ctx.message.Role = ev.Role

			case event.KindContentBlockStart:
				for len(ctx.message.Content) <= ev.Index {
					ctx.message.Content = append(ctx.message.Content, event.ContentBlock{})
				}
				if ev.Block != nil {
					ctx.message.Content[ev.Index] = *ev.Block
				}

			case event.KindContentBlockDelta:
				if ev.Index < len(ctx.message.Content) && ev.Delta != nil {
					block := &ctx.message.Content[ev.Index]
					switch ev.Delta.Kind {
					case event.DeltaText:
						block.Text += ev.Delta.Text
						ctx.outputChars += len(ev.Delta.Text)
					case event.DeltaThinking:
						block.Thinking += ev.Delta.Thinking
						ctx.outputChars += len(ev.Delta.Thinking)
					case event.DeltaSignature:
						block.Signature = ev.Delta.Signature
					case event.DeltaInputJSON:
						b, ok := partialJSON[ev.Index]
						if !ok {
							b = &strings.Builder{}
							partialJSON[ev.Index] = b
						}
						b.WriteString(ev.Delta.PartialJSON)
					case event.DeltaCitations:
						block.Citations = append(block.Citations, ev.Delta.Citations...)
					}
				}

			case event.KindContentBlockStop:
				if b, ok := partialJSON[ev.Index]; ok && ev.Index < len(ctx.message.Content) {
					var input any
					if err := json.Unmarshal([]byte(b.String()), &input); err == nil {
						ctx.message.Content[ev.Index].Input = input
					}
					delete(partialJSON, ev.Index)
				}

			case event.KindMessageDelta:
				ctx.message.StopReason = ev.StopReason
				ctx.message.StopSequence = ev.StopSequence
				if ev.Usage != nil {
					ctx.message.Usage = *ev.Usage
					ctx.sawUsage = true
				}

			case event.KindMessageStop:
				for i := range ctx.message.Content {
					if ctx.message.Content[i].Type == "thinking" && ctx.message.Content[i].Signature == "" {
						ctx.message.Content[i].Signature = ""
					}
				}
			}
			ctx.mu.Unlock()
			out <- ev
		}
	}()
	return out
}
