// Package event defines the public Anthropic streaming event schema the
// pipeline normalizes onto, and the materialized message the collector
// stage builds up from it.
package event

// Kind discriminates the public event variants carried by Event.
type Kind string

const (
	KindMessageStart      Kind = "message_start"
	KindContentBlockStart Kind = "content_block_start"
	KindContentBlockDelta Kind = "content_block_delta"
	KindContentBlockStop  Kind = "content_block_stop"
	KindMessageDelta      Kind = "message_delta"
	KindMessageStop       Kind = "message_stop"
	KindError             Kind = "error"
)

// DeltaKind discriminates the content_block_delta payload variants.
type DeltaKind string

const (
	DeltaText      DeltaKind = "text_delta"
	DeltaThinking  DeltaKind = "thinking_delta"
	DeltaSignature DeltaKind = "signature_delta"
	DeltaInputJSON DeltaKind = "input_json_delta"
	DeltaCitations DeltaKind = "citations_delta"
)

// Citation is one web_search_result_location citation entry.
type Citation struct {
	Type             string `json:"type"`
	URL              string `json:"url,omitempty"`
	Title            string `json:"title,omitempty"`
	EncryptedIndex   string `json:"encrypted_index,omitempty"`
	CitedText        string `json:"cited_text,omitempty"`
}

// Delta carries exactly one of its non-zero fields, matching the tagged
// DeltaKind.
type Delta struct {
	Kind       DeltaKind  `json:"-"`
	Text       string     `json:"text,omitempty"`
	Thinking   string     `json:"thinking,omitempty"`
	Signature  string     `json:"signature,omitempty"`
	PartialJSON string    `json:"partial_json,omitempty"`
	Citations  []Citation `json:"citations,omitempty"`
}

// ContentBlock mirrors the Anthropic content block union enough to carry
// the fields the pipeline reads/writes.
type ContentBlock struct {
	Type      string     `json:"type"` // text | thinking | tool_use | server_tool_use
	Text      string     `json:"text,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	Signature string     `json:"signature,omitempty"`
	ID        string     `json:"id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Input     any        `json:"input,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// Usage accumulates input/output token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorInfo is the payload of an `error` event.
type ErrorInfo struct {
	Kind    string `json:"type"`
	Message string `json:"message"`
}

// ErrorKindOverloaded is the literal Anthropic error `type` for an
// overloaded upstream, passed through unmodified by both the public and
// private frame parsers so OverloadDetector can compare against it.
const ErrorKindOverloaded = "overloaded_error"

// Event is the flat tagged union flowing through the pipeline stages.
// Only the fields relevant to Kind are populated; unknown discriminants
// are dropped at the parser boundary rather than stored.
type Event struct {
	Kind Kind

	// message_start
	MessageID    string
	Model        string
	Role         string
	StopSequence string

	// content_block_start / content_block_stop
	Index int
	Block *ContentBlock

	// content_block_delta
	Delta *Delta

	// message_delta
	StopReason string
	Usage      *Usage

	// error
	Err *ErrorInfo
}

// Message is the materialized (non-streaming) body the MessageCollector
// stage builds up, and the basis for the Streaming/NonStreamingEmitter
// terminal stages (stages 8 and 11).
type Message struct {
	ID           string
	Model        string
	Role         string
	StopReason   string
	StopSequence string
	Content      []ContentBlock
	Usage        Usage
}
