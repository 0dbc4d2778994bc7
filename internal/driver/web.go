package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/imroc/req/v3"

	"claude-relay/internal/account"
	"claude-relay/internal/proxypool"
	"claude-relay/internal/session"
)

const webSearchToolName = "web_search_v0"

// WebDriver emulates the claude.ai browser UI: create conversation, send
// message, (eventually) delete conversation. Grounded on web_proxy.go's
// CreateConversation/SendMessage/DeleteConversation + setWebHeaders, and on
// enhanced_proxy.go's executeWebRequest for the request-shaping logic.
// Neither source file calls delete-on-terminal end-to-end — each only
// exposes the three calls as independent admin endpoints — so the wiring
// that calls DeleteConversation after a terminal event is new here,
// driven by session.Manager.Destroy/sweepExpired.
type WebDriver struct {
	webURL   string
	registry *account.Registry
	sessions *session.Manager
}

// NewWebDriver constructs the Web driver. sessions is the same Manager
// the driver is registered against via SetWebSearchSetter/
// SetConversationDeleter, needed here so Stream can round-trip the
// web-search toggle through Manager.SetWebSearch instead of caching it
// directly.
func NewWebDriver(webURL string, registry *account.Registry, sessions *session.Manager) *WebDriver {
	return &WebDriver{webURL: webURL, registry: registry, sessions: sessions}
}

func (d *WebDriver) Kind() Kind { return KindWeb }

type webCreateConversationReq struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

type webCompletionReq struct {
	Prompt       string   `json:"prompt"`
	Timezone     string   `json:"timezone"`
	Attachments  []any    `json:"attachments"`
	Files        []any    `json:"files"`
	ParentMsgID  string   `json:"parent_message_uuid,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	PaprikaMode  string   `json:"paprika_mode,omitempty"`
}

// Stream implements the Driver contract: bind or create the
// session's conversation, inject the private web_search tool if the client
// asked for a public web_search_* tool, then send the message.
func (d *WebDriver) Stream(ctx context.Context, req *MessagesRequest, acc *account.Account, proxy *proxypool.Proxy, sess *session.Session) (*http.Response, error) {
	if sess == nil {
		return nil, fmt.Errorf("web driver requires a bound session")
	}

	wantsWebSearch := false
	for _, t := range req.Tools {
		if t.IsWebSearch() {
			wantsWebSearch = true
			break
		}
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		sess.PaprikaMode = true
	}

	if sess.ConversationID == "" {
		convID, err := d.createConversation(ctx, sess, acc)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		sess.ConversationID = convID
	}

	if wantsWebSearch != sess.WebSearchEnabled {
		if err := d.sessions.SetWebSearch(ctx, sess, wantsWebSearch); err != nil {
			return nil, fmt.Errorf("set web search: %w", err)
		}
	}

	payload := webCompletionReq{
		Prompt:      buildPrompt(req),
		Timezone:    "UTC",
		Attachments: []any{},
		Files:       []any{},
	}
	if sess.WebSearchEnabled {
		payload.Tools = []string{webSearchToolName}
	}
	if sess.PaprikaMode {
		payload.PaprikaMode = "extended"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	url := fmt.Sprintf("%s/api/organizations/%s/chat_conversations/%s/completion", d.webURL, acc.Credentials.OrgID, sess.ConversationID)
	r := sess.HTTPClient.R().SetContext(ctx).SetBodyBytes(body)
	d.setWebHeaders(r, acc)
	r.SetHeader("Content-Type", "application/json")
	r.SetHeader("Accept", "text/event-stream")
	r.DisableAutoReadResponse()

	resp, err := r.Post(url)
	if err != nil {
		return nil, err
	}
	return resp.Response, nil
}

func (d *WebDriver) createConversation(ctx context.Context, sess *session.Session, acc *account.Account) (string, error) {
	convID := uuid.New().String()
	payload := webCreateConversationReq{UUID: convID}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/organizations/%s/chat_conversations", d.webURL, acc.Credentials.OrgID)
	r := sess.HTTPClient.R().SetContext(ctx).SetBodyBytes(body)
	d.setWebHeaders(r, acc)
	r.SetHeader("Content-Type", "application/json")

	resp, err := r.Post(url)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create conversation failed with status %d", resp.StatusCode)
	}
	return convID, nil
}

// webConversationSettingsReq is the PATCH body toggling the
// conversation-level web-search setting.
type webConversationSettingsReq struct {
	Settings webConversationSettings `json:"settings"`
}

type webConversationSettings struct {
	EnabledWebSearch bool `json:"enabled_web_search"`
}

// SetWebSearchUpstream implements session.WebSearchSetter: PATCHes the
// conversation's web-search setting. Wired via
// sessionManager.SetWebSearchSetter(webDriver) in the composition root;
// called by Manager.SetWebSearch, which caches the flag only once this
// call succeeds.
func (d *WebDriver) SetWebSearchUpstream(ctx context.Context, sess *session.Session, enabled bool) error {
	if sess.ConversationID == "" {
		return fmt.Errorf("web driver requires a created conversation to set web search")
	}
	acc, ok := d.registry.Get(sess.AccountID)
	if !ok {
		return fmt.Errorf("account %s not found", sess.AccountID)
	}

	body, err := json.Marshal(webConversationSettingsReq{Settings: webConversationSettings{EnabledWebSearch: enabled}})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/organizations/%s/chat_conversations/%s", d.webURL, acc.Credentials.OrgID, sess.ConversationID)
	r := sess.HTTPClient.R().SetContext(ctx).SetBodyBytes(body)
	d.setWebHeaders(r, acc)
	r.SetHeader("Content-Type", "application/json")

	resp, err := r.Patch(url)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("set web search failed with status %d", resp.StatusCode)
	}
	return nil
}

// DeleteConversation implements session.ConversationDeleter. Wired via
// sessionManager.SetConversationDeleter(webDriver) in the composition
// root.
func (d *WebDriver) DeleteConversation(ctx context.Context, sess *session.Session) error {
	if sess.ConversationID == "" {
		return nil
	}
	acc, ok := d.registry.Get(sess.AccountID)
	if !ok {
		return fmt.Errorf("account %s not found", sess.AccountID)
	}

	url := fmt.Sprintf("%s/api/organizations/%s/chat_conversations/%s", d.webURL, acc.Credentials.OrgID, sess.ConversationID)
	r := sess.HTTPClient.R().SetContext(ctx)
	d.setWebHeaders(r, acc)

	resp, err := r.Delete(url)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("delete conversation failed with status %d", resp.StatusCode)
	}
	return nil
}

// setWebHeaders reproduces web_proxy.go's setWebHeaders / proxy.go's
// setReqHeaders almost verbatim; User-Agent and TLS fingerprint are
// already applied by httpclient.NewClient's ImpersonateChrome().
func (d *WebDriver) setWebHeaders(r *req.Request, acc *account.Account) {
	r.SetHeader("Sec-Ch-Ua", `"Chromium";v="131", "Not_A Brand";v="24"`)
	r.SetHeader("Sec-Ch-Ua-Mobile", "?0")
	r.SetHeader("Sec-Ch-Ua-Platform", `"macOS"`)
	r.SetHeader("Sec-Fetch-Site", "same-origin")
	r.SetHeader("Sec-Fetch-Mode", "cors")
	r.SetHeader("Sec-Fetch-Dest", "empty")
	r.SetHeader("Accept", "application/json")
	r.SetHeader("Accept-Language", "en-US,en;q=0.9")
	r.SetHeader("Cache-Control", "no-cache")
	r.SetHeader("Pragma", "no-cache")
	r.SetHeader("Origin", d.webURL)
	r.SetHeader("Referer", d.webURL+"/")

	if acc.Credentials.AccessToken != "" {
		r.SetHeader("Authorization", "Bearer "+acc.Credentials.AccessToken)
		r.SetHeader("anthropic-beta", oauthBetaHeader)
	} else {
		r.SetHeader("Cookie", "sessionKey="+acc.Credentials.SessionKey)
	}
}

// buildPrompt flattens the client's structured messages into the single
// prompt string the claude.ai web completion endpoint expects (the Web
// path has no native multi-turn messages array, unlike the public API).
// Grounded on proxy.go's buildPromptFromMessages.
func buildPrompt(r *MessagesRequest) string {
	var parts []string
	if r.System != "" {
		parts = append(parts, "[System: "+r.System+"]")
	}
	for _, m := range r.Messages {
		text := contentText(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case "assistant":
			parts = append(parts, "[Assistant: "+text+"]")
		default:
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// contentText extracts plain text from an Anthropic-shaped content field,
// which the client may send as a bare string or a content-block array.
func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var texts []string
		for _, block := range v {
			m, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := m["type"].(string); t == "text" {
				if text, _ := m["text"].(string); text != "" {
					texts = append(texts, text)
				}
			}
		}
		return strings.Join(texts, "")
	default:
		return ""
	}
}
