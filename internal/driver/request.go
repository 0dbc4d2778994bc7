// Package driver implements the two Upstream Drivers:
// OAuthDriver and WebDriver, sharing one contract.
package driver

import (
	"context"
	"net/http"

	"claude-relay/internal/account"
	"claude-relay/internal/proxypool"
	"claude-relay/internal/session"
)

// Tool is one entry of the client's `tools` array.
type Tool struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// IsWebSearch reports whether this is a public web_search_* tool entry.
func (t Tool) IsWebSearch() bool {
	return len(t.Type) >= 10 && t.Type[:10] == "web_search"
}

// Thinking carries the client's extended-thinking request.
type Thinking struct {
	Type         string `json:"type,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Message is one entry of the client's `messages` array. Content is left
// as raw JSON-compatible `any` since Anthropic messages can be a plain
// string or a content-block array; ToolResultAdapter (pipeline stage 2)
// is the one stage that needs to look inside it.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// MessagesRequest is the client's POST /v1/messages body.
type MessagesRequest struct {
	Model         string     `json:"model"`
	MaxTokens     int        `json:"max_tokens"`
	Messages      []Message  `json:"messages"`
	System        string     `json:"system,omitempty"`
	Stream        bool       `json:"stream,omitempty"`
	Temperature   *float64   `json:"temperature,omitempty"`
	Tools         []Tool     `json:"tools,omitempty"`
	ToolChoice    any        `json:"tool_choice,omitempty"`
	Thinking      *Thinking  `json:"thinking,omitempty"`
	StopSequences []string   `json:"stop_sequences,omitempty"`
	Metadata      *Metadata  `json:"metadata,omitempty"`
}

// Metadata carries the optional `metadata.user_id` field the Session
// Manager's sticky-hash derivation prefers over other request fields;
// see internal/session.StickyHashOptions.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// Kind discriminates which driver served a request, recorded on the
// PipelineContext by the DriverDispatch stage so EventParser knows which
// wire shape to expect.
type Kind string

const (
	KindOAuth Kind = "oauth"
	KindWeb   Kind = "web"
)

// Driver is the shared contract:
//
//	stream(request, account, proxy, session?) -> async iterator<Event> | error
//
// Concretely, Stream returns the raw upstream HTTP response (status code
// needed for the orchestrator's error classification, body as an SSE
// stream for the EventParser pipeline stage to decode) rather than a
// pre-parsed Event iterator directly — keeping the familiar
// bufio.Scanner-over-resp.Body idiom at the driver boundary, and letting
// EventParser own the private/public decoding split uniformly for both
// drivers.
type Driver interface {
	Kind() Kind
	Stream(ctx context.Context, req *MessagesRequest, acc *account.Account, proxy *proxypool.Proxy, sess *session.Session) (*http.Response, error)
}
