// Package pipeline implements the Event Pipeline: an ordered
// chain of staged transforms between the driver's raw upstream stream and
// the client-facing public event stream. Each stage is `chan X -> chan Y`,
// composed by Run; state shared across stages (the materialized message,
// the stop sequences, pending tool-call bookkeeping) lives on Context
// rather than on the stages themselves, so stages stay flat functions
// instead of a subclass hierarchy (the design note).
package pipeline

import (
	"strings"
	"sync"

	"claude-relay/internal/event"
)

// Context is threaded through every stage of one request's pipeline run.
type Context struct {
	RequestedModel string
	StopSequences  []string

	mu sync.Mutex

	message      event.Message
	sawUsage     bool
	outputChars  int
	inputTokens  int
	terminated   bool
	pendingTool  bool
	openBlocks   map[int]*event.ContentBlock
	textByIndex  map[int]*strings.Builder

	knowledge []event.KnowledgeDoc
}

// RecordKnowledge stashes a private tool_result's knowledge payload so tool
// continuity survives even though the frame itself is dropped from the
// outbound stream (stage 4).
func (c *Context) RecordKnowledge(docs []event.KnowledgeDoc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.knowledge = append(c.knowledge, docs...)
}

// Knowledge returns the accumulated knowledge docs for this request.
func (c *Context) Knowledge() []event.KnowledgeDoc {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.KnowledgeDoc, len(c.knowledge))
	copy(out, c.knowledge)
	return out
}

// NewContext constructs a Context for one request.
func NewContext(requestedModel string, stopSequences []string, estimatedInputTokens int) *Context {
	return &Context{
		RequestedModel: requestedModel,
		StopSequences:  stopSequences,
		inputTokens:    estimatedInputTokens,
		openBlocks:     make(map[int]*event.ContentBlock),
		textByIndex:    make(map[int]*strings.Builder),
	}
}

// Message returns a snapshot of the materialized message built so far by
// MessageCollector, used by the non-streaming emitter (CollectMessage).
func (c *Context) Message() event.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// drainRemaining discards whatever is left on in, in the background.
// A stage that emits a synthetic terminal event and stops forwarding
// (StopSequencesEnforcer, ToolCallEvents) must still drain its input:
// upstream doesn't know the stream ended early, so it keeps producing
// until the fixed-size buffered channel fills, and the producing
// goroutine — ultimately EventParser's scanner loop, holding the
// upstream HTTP body open — would otherwise block forever on that send.
func drainRemaining(in <-chan event.Event) {
	go func() {
		for range in {
		}
	}()
}
