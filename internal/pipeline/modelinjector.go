package pipeline

import "claude-relay/internal/event"

// InjectModel implements stage 5, ModelInjector: "ensures
// message_start.message.model equals the client-requested model name (the
// upstream may report its canonical form)" (stage 5).
func InjectModel(ctx *Context, in <-chan event.Event) <-chan event.Event {
	out := make(chan event.Event, cap(in))
	go func() {
		defer close(out)
		for ev := range in {
			if ev.Kind == event.KindMessageStart {
				ev.Model = ctx.RequestedModel
			}
			out <- ev
		}
	}()
	return out
}
