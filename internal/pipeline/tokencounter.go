package pipeline

import (
	"unicode/utf8"

	"claude-relay/internal/event"
)

// EstimateTokens is the rune-count heuristic decided in DESIGN.md's
// Open Questions (no pack example computes real Anthropic tokenization;
// this makes no claim of matching it exactly): roughly 4 characters per
// token, floored at 1 for any non-empty text.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	if est := n / 4; est > 0 {
		return est
	}
	return 1
}

// CountTokens implements stage 9, TokenCounter: "estimates input/output
// tokens from the collected content if upstream did not provide usage"
// (stage 9).
func CountTokens(ctx *Context, in <-chan event.Event) <-chan event.Event {
	out := make(chan event.Event, cap(in))
	go func() {
		defer close(out)
		for ev := range in {
			if ev.Kind == event.KindMessageDelta {
				ctx.mu.Lock()
				sawUsage := ctx.sawUsage
				outputChars := ctx.outputChars
				inputTokens := ctx.inputTokens
				ctx.mu.Unlock()
				if !sawUsage {
					ev.Usage = &event.Usage{
						InputTokens:  inputTokens,
						OutputTokens: estimateOutputTokens(outputChars),
					}
				}
			}
			out <- ev
		}
	}()
	return out
}

func estimateOutputTokens(chars int) int {
	if chars == 0 {
		return 0
	}
	if est := chars / 4; est > 0 {
		return est
	}
	return 1
}
