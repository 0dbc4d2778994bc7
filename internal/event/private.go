package event

// PrivateKind discriminates the raw SSE frame types the upstream emits
// before EventParser normalizes them. The exact upstream wire format is
// not observable from the example corpus (see DESIGN.md, Open Questions);
// this is the minimal internally-consistent shape needed to exercise every
// mapping the names, not a claim about the real upstream schema.
type PrivateKind string

const (
	PrivateMessageStart        PrivateKind = "message_start"
	PrivateContentBlockStart   PrivateKind = "content_block_start"
	PrivateContentBlockDelta   PrivateKind = "content_block_delta"
	PrivateContentBlockStop    PrivateKind = "content_block_stop"
	PrivateMessageDelta        PrivateKind = "message_delta"
	PrivateMessageStop         PrivateKind = "message_stop"
	PrivateError               PrivateKind = "error"
	PrivateCitationStartDelta  PrivateKind = "citation_start_delta"
	PrivateCitationEndDelta    PrivateKind = "citation_end_delta"
	PrivateThinkingSummaryDelta PrivateKind = "thinking_summary_delta"
	PrivateMessageLimit        PrivateKind = "message_limit"
	PrivateToolResult          PrivateKind = "tool_result"
	PrivateTestMessage         PrivateKind = "test_message"
)

// PrivateCitation is the raw citation payload a citation_start_delta frame
// carries, before EventParser maps it to a public Citation with
// type=web_search_result_location.
type PrivateCitation struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	EncryptedIndex string `json:"encrypted_index"`
	CitedText      string `json:"cited_text"`
}

// PrivateKnowledge is the payload private tool_result frames carry when
// continuing a server-tool conversation; it is consumed internally by the
// MessageCollector stage (for tool continuity) but never forwarded.
type PrivateKnowledge struct {
	ToolUseID string         `json:"tool_use_id"`
	Knowledge []KnowledgeDoc `json:"knowledge"`
}

// KnowledgeDoc is one retrieved-document entry inside a private tool_result.
type KnowledgeDoc struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// RawFrame is one decoded SSE `data:` line before staging. EventParser
// (pipeline stage 4) turns a stream of RawFrame into a stream of Event.
type RawFrame struct {
	Kind PrivateKind

	Index int

	MessageID string
	Model     string
	Role      string

	DeltaKind   DeltaKind
	Text        string
	Thinking    string
	Signature   string
	PartialJSON string

	Citation  *PrivateCitation
	Knowledge *PrivateKnowledge

	Block *ContentBlock

	StopReason string
	Usage      *Usage

	ErrKind string
	ErrMsg  string
}
